// Package stepgen drives physical stepper motor GPIO pins from
// compressed step bursts. It is the standalone-mode analogue of
// core.Stepper: instead of bursts arriving over the Klipper wire
// protocol from a host, they come directly from a
// stepcompress.BurstEncoder fed by this process's own itersolve
// solver, so Stepper implements stepcompress.BurstSink itself.
package stepgen

import (
	"errors"

	"gopper/core"
	"gopper/standalone"
	"gopper/standalone/itersolve"
)

const queueSize = 32

// queuedMove is one run-length encoded burst awaiting execution,
// mirroring core.StepperMove.
type queuedMove struct {
	interval uint32
	count    uint16
	add      int16
	dir      bool
}

// Stepper drives one physical axis: it owns the GPIO pins, the
// step-timer queue, and the itersolve.StepperKinematics instance whose
// generated steps it executes.
type Stepper struct {
	name   string
	config standalone.AxisConfig

	gpio            core.GPIODriver
	stepPin, dirPin core.GPIOPin
	enPin           core.GPIOPin
	haveEnPin       bool

	position int64 // current position, in steps

	queue     [queueSize]queuedMove
	queueHead uint8
	queueTail uint8
	nextDir   bool

	currentInterval uint32
	currentCount    uint16
	currentAdd      int16
	currentDir      bool
	lastStepTime    uint32
	active          bool

	timer core.Timer

	// Kin is the bound solver driving this stepper's StepCompressSink
	// (normally a stepcompress.BurstEncoder wrapping this Stepper).
	Kin *itersolve.StepperKinematics
}

// NewStepper creates a new stepper motor controller for the named
// axis.
func NewStepper(name string, config standalone.AxisConfig) (*Stepper, error) {
	s := &Stepper{
		name:   name,
		config: config,
	}
	s.timer.Handler = s.stepHandler
	return s, nil
}

// InitPins configures the step, direction and (optional) enable pins
// via the platform GPIO driver.
func (s *Stepper) InitPins(gpio core.GPIODriver) error {
	s.gpio = gpio

	stepPin, err := core.LookupPin(s.config.StepPin)
	if err != nil {
		return err
	}
	s.stepPin = stepPin
	if err := gpio.ConfigureOutput(s.stepPin); err != nil {
		return err
	}

	dirPin, err := core.LookupPin(s.config.DirPin)
	if err != nil {
		return err
	}
	s.dirPin = dirPin
	if err := gpio.ConfigureOutput(s.dirPin); err != nil {
		return err
	}

	if s.config.EnablePin != "" {
		enPin, err := core.LookupPin(s.config.EnablePin)
		if err != nil {
			return err
		}
		s.enPin = enPin
		s.haveEnPin = true
		if err := gpio.ConfigureOutput(s.enPin); err != nil {
			return err
		}
		return gpio.SetPin(s.enPin, s.config.InvertEnable)
	}

	return nil
}

// Enable energizes the stepper coils.
func (s *Stepper) Enable() {
	if s.haveEnPin {
		_ = s.gpio.SetPin(s.enPin, !s.config.InvertEnable)
	}
}

// Disable de-energizes the stepper coils.
func (s *Stepper) Disable() {
	if s.haveEnPin {
		_ = s.gpio.SetPin(s.enPin, s.config.InvertEnable)
	}
}

// SetDirection implements stepcompress.BurstSink: it records the
// direction for steps queued from now on.
func (s *Stepper) SetDirection(dir bool) error {
	s.nextDir = dir
	return nil
}

// QueueMove implements stepcompress.BurstSink: it enqueues one
// run-length encoded burst and starts execution if the stepper was
// idle.
func (s *Stepper) QueueMove(interval uint32, count uint16, add int16) error {
	nextTail := (s.queueTail + 1) % queueSize
	if nextTail == s.queueHead {
		return errors.New("stepgen: step queue overflow")
	}

	s.queue[s.queueTail] = queuedMove{interval: interval, count: count, add: add, dir: s.nextDir}
	s.queueTail = nextTail

	if s.currentCount == 0 && !s.active {
		s.loadNextMove()
	}
	return nil
}

// loadNextMove pulls the next burst off the queue and schedules its
// first step.
func (s *Stepper) loadNextMove() {
	if s.queueHead == s.queueTail {
		s.active = false
		return
	}

	move := s.queue[s.queueHead]
	s.queueHead = (s.queueHead + 1) % queueSize

	s.currentInterval = move.interval
	s.currentCount = move.count
	s.currentAdd = move.add
	s.currentDir = move.dir

	_ = s.gpio.SetPin(s.dirPin, s.currentDir != s.config.InvertDir)

	s.active = true
	s.timer.WakeTime = s.lastStepTime + s.currentInterval
	core.ScheduleTimer(&s.timer)
}

// stepHandler fires a single step pulse and reschedules for the next
// one, or loads the next queued burst when this one completes.
func (s *Stepper) stepHandler(t *core.Timer) uint8 {
	s.lastStepTime = t.WakeTime

	_ = s.gpio.SetPin(s.stepPin, true) // rising edge
	if s.currentDir {
		s.position--
	} else {
		s.position++
	}
	_ = s.gpio.SetPin(s.stepPin, false) // fall immediately; host timing already accounts for pulse width

	s.currentCount--
	if s.currentAdd != 0 {
		s.currentInterval = uint32(int32(s.currentInterval) + int32(s.currentAdd))
	}

	if s.currentCount == 0 {
		s.loadNextMove()
		return core.SF_DONE
	}

	t.WakeTime = s.lastStepTime + s.currentInterval
	return core.SF_RESCHEDULE
}

// GetPosition returns the current position in millimeters.
func (s *Stepper) GetPosition() float64 {
	return float64(s.position) / s.config.StepsPerMM
}

// SetPosition forces the current position, for homing and G92.
func (s *Stepper) SetPosition(posMM float64) {
	s.position = int64(posMM * s.config.StepsPerMM)
	if s.Kin != nil {
		s.Kin.CommandedPos = posMM
	}
}

// IsActive reports whether the stepper still has queued or executing
// bursts.
func (s *Stepper) IsActive() bool {
	return s.active || s.queueHead != s.queueTail
}

// Stop immediately halts stepping and drops any queued bursts.
func (s *Stepper) Stop() {
	s.active = false
	s.queueHead = 0
	s.queueTail = 0
	s.currentCount = 0
}

// StepDistance returns the physical distance, in mm, covered by one
// step of this axis.
func (s *Stepper) StepDistance() float64 {
	return 1.0 / s.config.StepsPerMM
}
