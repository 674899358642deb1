// Package trapq implements the trajectory queue shared by a machine's
// steppers: an ordered list of planned moves, each a constant-velocity
// (or constant-acceleration, left to the caller) segment of toolhead
// motion, bracketed by sentinel entries so the iterative solver can
// walk backwards during lead-in without a bounds check.
package trapq

import "errors"

// Axis indexes into Move.StartPos and Move.AxesR.
const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
)

// Move is one planned segment of toolhead motion. StartPos is the
// toolhead position at PrintTime; AxesR gives the per-axis direction
// ratio (unit vector component) used to decide whether a stepper can
// possibly move during this segment.
type Move struct {
	PrintTime float64
	MoveT     float64
	StartPos  [3]float64
	AxesR     [3]float64

	// StartV and HalfAccel describe the scalar distance traveled along
	// the move's direction vector as a function of move-relative time:
	// Distance(t) = StartV*t + HalfAccel*t^2, matching trapq.c's
	// move.start_v/half_accel. The core itersolve driver never reads
	// these; only kinematics position callbacks do, so a callback can
	// express real trapezoidal motion instead of a constant-velocity
	// placeholder.
	StartV    float64
	HalfAccel float64

	sentinel bool
	prev     *Move
	next     *Move
}

// EndTime returns the absolute print time at which this move finishes.
func (m *Move) EndTime() float64 {
	return m.PrintTime + m.MoveT
}

// Distance returns the scalar distance traveled along this move's
// direction vector by move-relative time t.
func (m *Move) Distance(t float64) float64 {
	return (m.StartV + m.HalfAccel*t) * t
}

// Next returns the next move in the queue, or nil past the tail
// sentinel.
func (m *Move) Next() *Move {
	if m.next == nil || m.next.sentinel {
		return nil
	}
	return m.next
}

// Prev returns the previous move in the queue, or nil before the head
// sentinel.
func (m *Move) Prev() *Move {
	if m.prev == nil || m.prev.sentinel {
		return nil
	}
	return m.prev
}

// Queue is an intrusive doubly linked list of moves with distinguished
// head and tail sentinels, so backward iteration never runs off the
// list.
type Queue struct {
	head *Move
	tail *Move
}

// NewQueue creates an empty trajectory queue.
func NewQueue() *Queue {
	head := &Move{sentinel: true}
	tail := &Move{sentinel: true}
	head.next = tail
	tail.prev = head
	return &Queue{head: head, tail: tail}
}

// Append adds a move to the end of the queue. The planner is
// responsible for appending strictly monotonically in PrintTime; this
// is an external invariant, not checked here (matching Klipper's
// trapq, which trusts its own producer).
func (q *Queue) Append(m *Move) {
	m.prev = q.tail.prev
	m.next = q.tail
	q.tail.prev.next = m
	q.tail.prev = m
}

// First returns the first real (non-sentinel) move, or an error if the
// queue is malformed (both sentinels adjacent with no real move, which
// should never happen once the planner has appended anything).
func (q *Queue) First() (*Move, error) {
	if err := q.CheckSentinels(); err != nil {
		return nil, err
	}
	m := q.head.next
	if m.sentinel {
		return nil, errors.New("trapq: queue is empty")
	}
	return m, nil
}

// CheckSentinels validates that the head and tail sentinels are still
// correctly linked. A broken sentinel indicates a programming error in
// the caller (e.g. a move freed while still referenced).
func (q *Queue) CheckSentinels() error {
	if q.head == nil || q.tail == nil || !q.head.sentinel || !q.tail.sentinel {
		return errors.New("trapq: sentinel invariant violated")
	}
	if q.head.prev != nil || q.tail.next != nil {
		return errors.New("trapq: sentinel invariant violated")
	}
	return nil
}

// ExpireUpTo drops moves that end at or before horizon, retaining the
// move that straddles horizon (if any) so that callers still walking
// backward for lead-in keep a valid chain. Moves already referenced by
// a caller (e.g. itersolve mid-flush) must not be expired; it is the
// caller's responsibility to only expire up to its own flush cursor.
func (q *Queue) ExpireUpTo(horizon float64) {
	m := q.head.next
	for !m.sentinel && m.EndTime() <= horizon {
		next := m.next
		if next.sentinel {
			// Always keep at least one real move so First/backward
			// iteration never lands directly on a sentinel.
			break
		}
		q.head.next = next
		next.prev = q.head
		m.next = nil
		m.prev = nil
		m = next
	}
}
