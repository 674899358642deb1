// Package itersolve is the iterative root-finding solver and SDS filter
// that turn a stepper's continuous position function into an ordered
// stream of step events. It is a direct port of Klipper's
// klippy/chelper/itersolve.c: a false-position (regula falsi) root
// finder locates each half-step crossing of a per-stepper position
// function over a planned move, and a step/direction/step filter
// suppresses reversal pulses too short for the hardware to honor.
package itersolve

import (
	"math"

	"gopper/standalone/trapq"
)

// Load-bearing tolerances, kept exact and in absolute seconds.
const (
	sdsCheckTime  = 0.001    // SDS_CHECK_TIME
	sdsFilterTime = 0.000750 // SDS_FILTER_TIME
	seekTimeReset = 0.000100 // SEEK_TIME_RESET
	timeEpsilon   = 0.000000001
)

// Axis flags for StepperKinematics.ActiveFlags.
const (
	AxisFlagX = 1 << 0
	AxisFlagY = 1 << 1
	AxisFlagZ = 1 << 2
)

// PositionFunc is the per-kinematic position callback. t is relative
// to m.PrintTime. It must be deterministic and side-effect-free; it
// may read m.StartPos, m.AxesR, m.MoveT and any fields of sk it owns.
type PositionFunc func(sk *StepperKinematics, m *trapq.Move, t float64) float64

// StepCompressSink is the downstream step-compression collaborator.
// Append and Commit return any non-zero failure from the sink
// verbatim; the caller must not emit further steps in the same flush
// once either has failed.
type StepCompressSink interface {
	Append(dir bool, movePrintTime, stepTime float64) error
	Commit() error
}

// StepperKinematics is the mutable per-stepper state driving one
// stepper's step generation, the Go equivalent of Klipper's
// struct stepper_kinematics. It is single-threaded, cooperative: one
// GenerateSteps call at a time, never concurrently with another call
// on the same instance.
type StepperKinematics struct {
	// CalcPositionCB is the pure per-kinematic position function.
	CalcPositionCB PositionFunc
	// PostCB, if set, runs after every move's steps are emitted.
	PostCB func(sk *StepperKinematics)

	StepDist float64 // distance per step, > 0

	CommandedPos float64 // continuous position centered on the last realized step

	ActiveFlags uint8 // bitmask over AxisFlagX|AxisFlagY|AxisFlagZ

	LastFlushTime float64
	LastMoveTime  float64

	GenStepsPreActive  float64
	GenStepsPostActive float64

	tq *trapq.Queue
	sc StepCompressSink

	// SDS buffer: at most one pending step. nextMovePrintTime == 0
	// means empty (matches the C source's sentinel convention: a
	// move can never legitimately start at absolute time zero once
	// any move has been queued, since print_time is monotonic and
	// the very first move already consumes t=0 as its own reference).
	nextMovePrintTime float64
	nextStepTime      float64
	nextStepDir       bool
}

// New creates a stepper kinematics instance bound to the given
// position callback and step distance.
func New(calc PositionFunc, stepDist float64) *StepperKinematics {
	return &StepperKinematics{
		CalcPositionCB: calc,
		StepDist:       stepDist,
	}
}

// SetTrapq binds the trajectory queue this stepper reads moves from.
func (sk *StepperKinematics) SetTrapq(tq *trapq.Queue) {
	sk.tq = tq
}

// SetStepcompress binds the downstream sink and the physical step
// distance.
func (sk *StepperKinematics) SetStepcompress(sc StepCompressSink, stepDist float64) {
	sk.sc = sc
	sk.StepDist = stepDist
}

// GetCommandedPos returns the continuous position the stepper is
// currently centered on.
func (sk *StepperKinematics) GetCommandedPos() float64 {
	return sk.CommandedPos
}

// HasPendingStep reports whether the SDS buffer currently holds a step
// not yet committed to the sink. Callers that bypass the buffer (e.g.
// SetPosition) must check this first.
func (sk *StepperKinematics) HasPendingStep() bool {
	return sk.nextMovePrintTime != 0
}

// IsActiveAxis reports whether ch ('x', 'y' or 'z') is one of the
// toolhead axes that can move this stepper. Any other character, or
// one outside x..z, returns false rather than an error: an invalid
// axis character is simply "not active".
func (sk *StepperKinematics) IsActiveAxis(ch byte) bool {
	if ch < 'x' || ch > 'z' {
		return false
	}
	return sk.ActiveFlags&(AxisFlagX<<(ch-'x')) != 0
}

// CalcPositionFromCoord converts a Cartesian setpoint into the
// stepper's own position coordinate by fabricating a dummy move and
// evaluating the position function mid-move, exactly as
// itersolve_calc_position_from_coord does.
func (sk *StepperKinematics) CalcPositionFromCoord(x, y, z float64) float64 {
	m := &trapq.Move{
		StartPos: [3]float64{x, y, z},
		MoveT:    1000,
	}
	return sk.CalcPositionCB(sk, m, 500)
}

// SetPosition writes CommandedPos from a Cartesian setpoint, for use
// at homing and reset. It does not flush the SDS buffer: the caller
// must ensure no step is pending before calling this, same as
// itersolve_set_position leaves to its caller.
func (sk *StepperKinematics) SetPosition(x, y, z float64) {
	sk.CommandedPos = sk.CalcPositionFromCoord(x, y, z)
}

// timepos is a (time, position) pair used by the step finder, time
// relative to the move's PrintTime.
type timepos struct {
	time     float64
	position float64
}

// findStep locates the time at which f(t) crosses target, between low
// and high, via false position (regula falsi), matching itersolve.c's
// itersolve_find_step.
func findStep(sk *StepperKinematics, m *trapq.Move, low, high timepos, target float64) timepos {
	bestGuess := high
	low.position -= target
	high.position -= target
	if high.position == 0 {
		return bestGuess
	}
	highSign := math.Signbit(high.position)
	if highSign == math.Signbit(low.position) {
		// Target is outside the bracket: sentinel for "not yet bracketed".
		return timepos{time: low.time, position: target}
	}
	for {
		guessTime := (low.time*high.position - high.time*low.position) / (high.position - low.position)
		if math.Abs(guessTime-bestGuess.time) <= timeEpsilon {
			break
		}
		bestGuess.time = guessTime
		bestGuess.position = sk.CalcPositionCB(sk, m, guessTime)
		guessPosition := bestGuess.position - target
		if math.Signbit(guessPosition) == highSign {
			high.time, high.position = guessTime, guessPosition
		} else {
			low.time, low.position = guessTime, guessPosition
		}
	}
	return bestGuess
}

// sdsAppend enqueues a proposed step, committing or collapsing any
// pending opposite-direction step, matching itersolve.c's sds_append.
func (sk *StepperKinematics) sdsAppend(sdir bool, movePrintTime, stepTime float64) error {
	if sk.nextMovePrintTime != 0 {
		if sdir != sk.nextStepDir {
			gap := (movePrintTime - sk.nextMovePrintTime) + (stepTime - sk.nextStepTime)
			if gap < sdsFilterTime {
				// Micro-reversal: roll back the pending step.
				sk.nextMovePrintTime = 0
				sk.nextStepDir = sdir
				return nil
			}
		}
		if err := sk.sdsCommit(); err != nil {
			return err
		}
	}
	sk.nextMovePrintTime = movePrintTime
	sk.nextStepTime = stepTime
	sk.nextStepDir = sdir
	return nil
}

// sdsCommit flushes the pending step to the sink and clears the
// buffer.
func (sk *StepperKinematics) sdsCommit() error {
	mpt, st, dir := sk.nextMovePrintTime, sk.nextStepTime, sk.nextStepDir
	sk.nextMovePrintTime = 0
	if sk.sc == nil {
		return nil
	}
	if err := sk.sc.Append(dir, mpt, st); err != nil {
		return err
	}
	return sk.sc.Commit()
}

// sdsFlush commits the pending step only if enough time has elapsed
// since it was buffered; otherwise it is left pending for the next
// move.
func (sk *StepperKinematics) sdsFlush(movePrintTime, stepTime float64) error {
	if sk.nextMovePrintTime != 0 {
		gap := (movePrintTime - sk.nextMovePrintTime) + (stepTime - sk.nextStepTime)
		if gap >= sdsFilterTime {
			return sk.sdsCommit()
		}
	}
	return nil
}

// genStepsRange generates step times for the portion of move m lying
// within [moveStart, moveEnd] (absolute print time), matching
// itersolve.c's itersolve_gen_steps_range.
func (sk *StepperKinematics) genStepsRange(m *trapq.Move, moveStart, moveEnd float64) error {
	halfStep := 0.5 * sk.StepDist
	start := moveStart - m.PrintTime
	end := moveEnd - m.PrintTime

	last := timepos{time: start, position: sk.CommandedPos}
	low, high := last, last

	seekTimeDelta := seekTimeReset
	sdir := sk.nextStepDir
	isDirChange := false

	for {
		diff := high.position - last.position
		dist := diff
		if !sdir {
			dist = -diff
		}

		switch {
		case dist >= halfStep:
			target := last.position + halfStep
			if !sdir {
				target = last.position - halfStep
			}
			next := findStep(sk, m, low, high, target)
			if err := sk.sdsAppend(sdir, m.PrintTime, next.time); err != nil {
				return err
			}
			seekTimeDelta = next.time - last.time
			if seekTimeDelta < timeEpsilon {
				seekTimeDelta = timeEpsilon
			}
			if isDirChange && seekTimeDelta > seekTimeReset {
				seekTimeDelta = seekTimeReset
			}
			isDirChange = false
			last.position = target + halfStep
			if !sdir {
				last.position = target - halfStep
			}
			last.time = next.time
			low = next
			if low.time < high.time {
				// Existing search range still useful.
				continue
			}

		case dist > 0:
			// Target just reached: commit any pending step now so a
			// subsequent opposite-direction step doesn't roll it back.
			if sk.nextMovePrintTime != 0 {
				if err := sk.sdsCommit(); err != nil {
					return err
				}
			}

		case dist < -(halfStep + timeEpsilon):
			// Direction reversal detected.
			isDirChange = true
			if seekTimeDelta > seekTimeReset {
				seekTimeDelta = seekTimeReset
			}
			if low.time > last.time {
				sdir = !sdir
				continue
			}
			if high.time > last.time+timeEpsilon {
				high.time = (last.time + high.time) * 0.5
				high.position = sk.CalcPositionCB(sk, m, high.time)
				continue
			}
		}

		// Extend the search range to find an upper bound.
		if high.time >= end {
			break
		}
		low = high
		for {
			high.time = last.time + seekTimeDelta
			seekTimeDelta += seekTimeDelta
			if high.time > low.time {
				break
			}
		}
		if high.time > end {
			high.time = end
		}
		high.position = sk.CalcPositionCB(sk, m, high.time)
	}

	if err := sk.sdsFlush(m.PrintTime, end); err != nil {
		return err
	}
	sk.CommandedPos = last.position
	if sk.PostCB != nil {
		sk.PostCB(sk)
	}
	return nil
}

// checkActive reports whether any axis this stepper tracks has a
// non-zero ratio on m, i.e. the move could cause this stepper to move.
func checkActive(sk *StepperKinematics, m *trapq.Move) bool {
	af := sk.ActiveFlags
	return (af&AxisFlagX != 0 && m.AxesR[trapq.AxisX] != 0) ||
		(af&AxisFlagY != 0 && m.AxesR[trapq.AxisY] != 0) ||
		(af&AxisFlagZ != 0 && m.AxesR[trapq.AxisZ] != 0)
}

// GenerateSteps is the move-queue driver, matching itersolve.c's
// itersolve_generate_steps: it advances the flush cursor up to
// flushTime, emitting all steps that fall in the newly flushed region,
// applying lead-in before activity and a
// tail after it.
func (sk *StepperKinematics) GenerateSteps(flushTime float64) error {
	prevFlush := sk.LastFlushTime
	sk.LastFlushTime = flushTime
	if sk.tq == nil {
		return nil
	}
	if err := sk.tq.CheckSentinels(); err != nil {
		return err
	}
	m, err := sk.tq.First()
	if err != nil {
		return err
	}
	for prevFlush >= m.EndTime() {
		next := m.Next()
		if next == nil {
			// Nothing queued in the flush window: no steps, no error.
			return nil
		}
		m = next
	}

	genStepsPostActive := sk.GenStepsPostActive
	if genStepsPostActive < sdsCheckTime {
		genStepsPostActive = sdsCheckTime
	}
	forceStepsTime := sk.LastMoveTime + genStepsPostActive

	for {
		if prevFlush >= flushTime {
			return nil
		}
		start, end := m.PrintTime, m.EndTime()
		if start < prevFlush {
			start = prevFlush
		}
		if end > flushTime {
			end = flushTime
		}

		if checkActive(sk, m) {
			if sk.GenStepsPreActive > 0 && start > prevFlush+timeEpsilon {
				forceStepsTime = start
				if prevFlush < start-sk.GenStepsPreActive {
					prevFlush = start - sk.GenStepsPreActive
				}
				for m.PrintTime > prevFlush {
					p := m.Prev()
					if p == nil {
						break
					}
					m = p
				}
				continue
			}
			if err := sk.genStepsRange(m, start, end); err != nil {
				return err
			}
			sk.LastMoveTime = end
			prevFlush = end
			forceStepsTime = end + genStepsPostActive
		} else if start < forceStepsTime {
			if end > forceStepsTime {
				end = forceStepsTime
			}
			if err := sk.genStepsRange(m, start, end); err != nil {
				return err
			}
			prevFlush = end
		}

		if flushTime+sk.GenStepsPreActive <= m.EndTime() {
			return nil
		}
		next := m.Next()
		if next == nil {
			return nil
		}
		m = next
	}
}

// CheckActive (itersolve_check_active) scans forward from
// LastFlushTime and returns the print time of the first move within
// [LastFlushTime, flushTime] that could actually move this stepper, or
// 0 if none does. It is a peek: it never mutates state.
func (sk *StepperKinematics) CheckActive(flushTime float64) float64 {
	if sk.tq == nil {
		return 0
	}
	if err := sk.tq.CheckSentinels(); err != nil {
		return 0
	}
	m, err := sk.tq.First()
	if err != nil {
		return 0
	}
	for sk.LastFlushTime >= m.EndTime() {
		next := m.Next()
		if next == nil {
			return 0
		}
		m = next
	}
	for {
		if checkActive(sk, m) {
			return m.PrintTime
		}
		if flushTime <= m.EndTime() {
			return 0
		}
		next := m.Next()
		if next == nil {
			return 0
		}
		m = next
	}
}
