// Package stepcompress implements the StepCompressSink consumed by
// itersolve.StepperKinematics: it turns a stream of individual step
// times into the run-length encoded queue_step bursts Klipper's wire
// protocol expects (interval, count, add), matching core.StepperMove
// and the config_stepper/queue_step/set_next_step_dir commands
// implemented by core/stepper_commands.go.
package stepcompress

import (
	"fmt"

	"go.uber.org/multierr"

	"gopper/standalone/itersolve"
)

// BurstMove is one run-length encoded queue_step burst: Count steps at
// Interval clock ticks apart, with Add added to the interval after
// each step. Mirrors core.StepperMove.
type BurstMove struct {
	Interval  uint32
	Count     uint16
	Add       int16
	Direction bool
}

// BurstSink receives compressed bursts and direction changes, the
// moral equivalent of sending set_next_step_dir and queue_step to an
// MCU.
type BurstSink interface {
	SetDirection(dir bool) error
	QueueMove(interval uint32, count uint16, add int16) error
}

const maxBurstCount = 65535 // queue_step's count field is a 16-bit uint

// BurstEncoder is an itersolve.StepCompressSink that accumulates
// individual step clocks and run-length encodes them into BurstMoves
// as soon as a run breaks (direction change, non-arithmetic interval,
// or the count field would overflow), emitting each completed burst to
// the downstream BurstSink immediately.
//
// ClockFreq converts the float64 seconds used by itersolve into
// integer clock ticks, matching the MCU's own clock domain.
type BurstEncoder struct {
	Sink      BurstSink
	ClockFreq float64

	haveDir    bool
	curDir     bool
	haveClock  bool
	lastClock  uint32
	run        []int64 // pending intervals of the current run
	runAdd     int16
	haveRunAdd bool

	pendingDir  bool
	pendingTime float64
}

// NewBurstEncoder creates an encoder emitting bursts to sink at the
// given clock frequency (ticks per second).
func NewBurstEncoder(sink BurstSink, clockFreq float64) *BurstEncoder {
	return &BurstEncoder{Sink: sink, ClockFreq: clockFreq}
}

// Append buffers one step; actual encoding happens in Commit, matching
// the one-step-at-a-time discipline of the SDS filter that drives this
// sink: every Append is always immediately followed by a Commit.
func (e *BurstEncoder) Append(dir bool, movePrintTime, stepTime float64) error {
	e.pendingDir = dir
	e.pendingTime = movePrintTime + stepTime
	return nil
}

// Commit encodes the step buffered by the preceding Append call,
// flushing the current run if direction changed or the interval
// sequence stopped being arithmetic.
func (e *BurstEncoder) Commit() error {
	clock := e.timeToClock(e.pendingTime)

	if !e.haveDir || e.pendingDir != e.curDir {
		if err := e.flushRun(); err != nil {
			return err
		}
		e.curDir = e.pendingDir
		e.haveDir = true
		if err := e.Sink.SetDirection(e.curDir); err != nil {
			return err
		}
		e.haveClock = false
	}

	if !e.haveClock {
		e.lastClock = clock
		e.haveClock = true
		return nil
	}

	interval := int64(clock) - int64(e.lastClock)
	e.lastClock = clock

	if len(e.run) == 0 {
		e.run = append(e.run, interval)
		return nil
	}

	add := interval - e.run[len(e.run)-1]
	if !e.haveRunAdd {
		e.runAdd = int16(add)
		e.haveRunAdd = true
		e.run = append(e.run, interval)
		return nil
	}

	if add == int64(e.runAdd) && len(e.run) < maxBurstCount {
		e.run = append(e.run, interval)
		return nil
	}

	// Run broke: flush what we have and start a new one with this
	// interval as its sole member so far.
	if err := e.emitRun(); err != nil {
		return err
	}
	e.run = []int64{interval}
	e.haveRunAdd = false
	return nil
}

// Flush finalizes any partially accumulated run. Call this once after
// the last Commit of a print job (or at an idle boundary) to ensure no
// steps are left unsent.
func (e *BurstEncoder) Flush() error {
	return e.flushRun()
}

func (e *BurstEncoder) flushRun() error {
	if len(e.run) == 0 {
		return nil
	}
	return e.emitRun()
}

func (e *BurstEncoder) emitRun() error {
	if len(e.run) == 0 {
		return nil
	}
	interval := e.run[0]
	if interval < 0 {
		return fmt.Errorf("stepcompress: negative step interval %d", interval)
	}
	add := int16(0)
	if e.haveRunAdd {
		add = e.runAdd
	}
	err := e.Sink.QueueMove(uint32(interval), uint16(len(e.run)), add)
	e.run = nil
	e.haveRunAdd = false
	return err
}

func (e *BurstEncoder) timeToClock(t float64) uint32 {
	return uint32(t*e.ClockFreq + 0.5)
}

// MemSink is an in-memory BurstSink for tests: it records every
// direction change and burst verbatim.
type MemSink struct {
	DirChanges []bool
	Moves      []BurstMove
	curDir     bool
}

// NewMemSink creates an empty in-memory sink.
func NewMemSink() *MemSink {
	return &MemSink{}
}

// SetDirection records a direction change.
func (s *MemSink) SetDirection(dir bool) error {
	s.curDir = dir
	s.DirChanges = append(s.DirChanges, dir)
	return nil
}

// QueueMove records a completed burst under the current direction.
func (s *MemSink) QueueMove(interval uint32, count uint16, add int16) error {
	s.Moves = append(s.Moves, BurstMove{Interval: interval, Count: count, Add: add, Direction: s.curDir})
	return nil
}

// MultiFlusher flushes several independent BurstEncoders (one per
// stepper) and combines every failure instead of stopping at the
// first, since a jammed stepper's sink failure shouldn't mask a
// reporting problem on another axis.
type MultiFlusher struct {
	encoders []*BurstEncoder
}

// NewMultiFlusher creates a flusher over the given encoders.
func NewMultiFlusher(encoders ...*BurstEncoder) *MultiFlusher {
	return &MultiFlusher{encoders: encoders}
}

// FlushAll calls Flush on every encoder, returning the combined error
// of all that failed.
func (f *MultiFlusher) FlushAll() error {
	var err error
	for _, enc := range f.encoders {
		err = multierr.Append(err, enc.Flush())
	}
	return err
}

var _ itersolve.StepCompressSink = (*BurstEncoder)(nil)
