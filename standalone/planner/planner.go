// Package planner turns incoming moves into trapq segments and drives
// the itersolve solver bound to every stepper, replacing naive
// constant-velocity stepper commands with Klipper-style trapezoidal
// step generation.
package planner

import (
	"errors"
	"math"

	"gopper/core"
	"gopper/standalone"
	"gopper/standalone/itersolve"
	"gopper/standalone/kinematics"
	"gopper/standalone/stepcompress"
	"gopper/standalone/stepgen"
	"gopper/standalone/trapq"
)

// boundStepper pairs a physical stepper with the solver and encoder
// bound to it.
type boundStepper struct {
	motor   *stepgen.Stepper
	kin     *itersolve.StepperKinematics
	encoder *stepcompress.BurstEncoder
}

// Planner handles motion planning and execution.
type Planner struct {
	config     *standalone.MachineConfig
	kinematics kinematics.Kinematics
	extruder   *kinematics.Extruder

	steppers map[string]*boundStepper

	toolheadQueue *trapq.Queue
	printTime     float64
	extruderTime  float64

	currentPos standalone.Position
}

// NewPlanner creates a new motion planner.
func NewPlanner(config *standalone.MachineConfig, kin kinematics.Kinematics) *Planner {
	return &Planner{
		config:        config,
		kinematics:    kin,
		extruder:      kinematics.NewExtruder(),
		steppers:      make(map[string]*boundStepper),
		toolheadQueue: trapq.NewQueue(),
		currentPos:    standalone.Position{},
	}
}

// InitSteppers initializes stepper motors for all configured axes and
// binds each one to the itersolve position function its kinematics
// supplies.
func (p *Planner) InitSteppers(gpioDriver core.GPIODriver) error {
	bindings := p.kinematics.StepperPositionFuncs()
	for name := range bindings {
		if err := p.initStepper(name, bindings[name], p.toolheadQueue, gpioDriver); err != nil {
			return err
		}
	}

	if _, ok := p.config.Axes["e"]; ok {
		eBindings := p.extruder.StepperPositionFuncs()
		if err := p.initStepper("e", eBindings["e"], p.extruder.Queue(), gpioDriver); err != nil {
			return err
		}
	}

	return nil
}

func (p *Planner) initStepper(name string, binding kinematics.StepperBinding, queue *trapq.Queue, gpioDriver core.GPIODriver) error {
	axisConfig, ok := p.config.Axes[name]
	if !ok {
		return nil // skip unconfigured axis
	}

	motor, err := stepgen.NewStepper(name, axisConfig)
	if err != nil {
		return err
	}
	if err := motor.InitPins(gpioDriver); err != nil {
		return err
	}

	encoder := stepcompress.NewBurstEncoder(motor, float64(core.TimerFreq))
	kin := itersolve.New(binding.PositionFunc, motor.StepDistance())
	kin.ActiveFlags = binding.ActiveFlags
	kin.SetTrapq(queue)
	kin.SetStepcompress(encoder, motor.StepDistance())
	motor.Kin = kin

	p.steppers[name] = &boundStepper{motor: motor, kin: kin, encoder: encoder}
	return nil
}

// QueueMove adds a move to the trajectory queue, computing its
// trapezoidal profile and driving every bound stepper's solver up to
// the move's end time.
func (p *Planner) QueueMove(move *standalone.Move) error {
	if err := p.kinematics.CheckLimits(move.End); err != nil {
		return err
	}

	p.calculateTrapezoid(move)

	dx := move.End.X - move.Start.X
	dy := move.End.Y - move.Start.Y
	dz := move.End.Z - move.Start.Z
	de := move.End.E - move.Start.E

	if move.Distance > 0 {
		p.appendToolheadSegments(move, dx/move.Distance, dy/move.Distance, dz/move.Distance)
	}
	if de != 0 {
		p.appendExtruderSegments(move, de)
	}

	p.currentPos = move.End
	return p.flushQueues()
}

// appendToolheadSegments appends the accel/cruise/decel phases of move
// to the shared XYZ trajectory queue as individual trapq.Move entries,
// one constant-acceleration segment each, matching how Klipper's own
// trapq represents a single planned move.
func (p *Planner) appendToolheadSegments(move *standalone.Move, ux, uy, uz float64) {
	startPos := [3]float64{move.Start.X, move.Start.Y, move.Start.Z}
	dist := 0.0

	appendSegment := func(ticks uint32, startV, accel float64) {
		if ticks == 0 {
			return
		}
		dt := ticksToSeconds(ticks)
		m := &trapq.Move{
			PrintTime: p.printTime,
			MoveT:     dt,
			StartPos:  [3]float64{startPos[0] + ux*dist, startPos[1] + uy*dist, startPos[2] + uz*dist},
			AxesR:     [3]float64{ux, uy, uz},
			StartV:    startV,
			HalfAccel: accel / 2,
		}
		p.toolheadQueue.Append(m)
		dist += m.Distance(dt)
		p.printTime += dt
	}

	appendSegment(move.AccelTicks, move.StartVel, move.Accel)
	appendSegment(move.CruiseTicks, move.CruiseVel, 0)
	appendSegment(move.DecelTicks, move.CruiseVel, -move.Accel)
}

// appendExtruderSegments appends one constant-velocity segment to the
// extruder's independent trajectory queue covering the same wall-clock
// duration as the toolhead move, so pressure-advance style timing
// could later be layered in without touching XYZ.
func (p *Planner) appendExtruderSegments(move *standalone.Move, de float64) {
	dt := ticksToSeconds(move.Duration)
	if dt <= 0 {
		return
	}
	m := &trapq.Move{
		PrintTime: p.extruderTime,
		MoveT:     dt,
		StartPos:  [3]float64{move.Start.E, 0, 0},
		AxesR:     [3]float64{1, 0, 0},
		StartV:    de / dt,
		HalfAccel: 0,
	}
	p.extruder.Queue().Append(m)
	p.extruderTime += dt
}

// flushQueues drives every bound stepper's solver up through the
// current toolhead/extruder print time cursors and flushes any
// trailing partial burst to the physical stepper.
func (p *Planner) flushQueues() error {
	for name, bs := range p.steppers {
		flushTime := p.printTime
		if name == "e" {
			flushTime = p.extruderTime
		}
		if err := bs.kin.GenerateSteps(flushTime); err != nil {
			return err
		}
		if err := bs.encoder.Flush(); err != nil {
			return err
		}
	}
	p.toolheadQueue.ExpireUpTo(p.printTime)
	p.extruder.Queue().ExpireUpTo(p.extruderTime)
	return nil
}

// calculateTrapezoid calculates the trapezoidal velocity profile for a
// move.
func (p *Planner) calculateTrapezoid(move *standalone.Move) {
	maxVel := move.Velocity
	dx := math.Abs(move.End.X - move.Start.X)
	dy := math.Abs(move.End.Y - move.Start.Y)
	dz := math.Abs(move.End.Z - move.Start.Z)

	if dx > 0 {
		if axisConfig, ok := p.config.Axes["x"]; ok {
			if axisVel := maxVel * dx / move.Distance; axisVel > axisConfig.MaxVelocity {
				maxVel = axisConfig.MaxVelocity * move.Distance / dx
			}
		}
	}
	if dy > 0 {
		if axisConfig, ok := p.config.Axes["y"]; ok {
			if axisVel := maxVel * dy / move.Distance; axisVel > axisConfig.MaxVelocity {
				maxVel = axisConfig.MaxVelocity * move.Distance / dy
			}
		}
	}
	if dz > 0 {
		if axisConfig, ok := p.config.Axes["z"]; ok {
			if axisVel := maxVel * dz / move.Distance; axisVel > axisConfig.MaxVelocity {
				maxVel = axisConfig.MaxVelocity * move.Distance / dz
			}
		}
	}

	move.Velocity = maxVel

	accelDist := (maxVel * maxVel) / (2.0 * move.Accel)

	if accelDist*2.0 >= move.Distance {
		// Triangle profile (can't reach full speed).
		accelDist = move.Distance / 2.0
		move.CruiseVel = math.Sqrt(2.0 * move.Accel * accelDist)
		move.StartVel = 0
		move.EndVel = 0

		accelTime := move.CruiseVel / move.Accel
		move.AccelTicks = secondsToTicks(accelTime)
		move.CruiseTicks = 0
		move.DecelTicks = move.AccelTicks
		move.Duration = move.AccelTicks + move.DecelTicks
	} else {
		cruiseDist := move.Distance - 2.0*accelDist
		move.CruiseVel = maxVel
		move.StartVel = 0
		move.EndVel = 0

		accelTime := maxVel / move.Accel
		cruiseTime := cruiseDist / maxVel
		decelTime := accelTime

		move.AccelTicks = secondsToTicks(accelTime)
		move.CruiseTicks = secondsToTicks(cruiseTime)
		move.DecelTicks = secondsToTicks(decelTime)
		move.Duration = move.AccelTicks + move.CruiseTicks + move.DecelTicks
	}
}

// GetCurrentPosition returns the current position.
func (p *Planner) GetCurrentPosition() standalone.Position {
	return p.currentPos
}

// IsMoving reports whether any bound stepper still has a step
// buffered in its solver's SDS filter or queued/executing on the
// physical motor. SetPosition must not be called while this is true:
// it reseeds CommandedPos directly and does not flush the SDS buffer.
func (p *Planner) IsMoving() bool {
	for _, bs := range p.steppers {
		if bs.kin.HasPendingStep() || bs.motor.IsActive() {
			return true
		}
	}
	return false
}

// SetPosition sets the current position without generating motion, for
// G92 and post-homing reseeding. It returns an error instead of acting
// if any stepper still has a step pending, since StepperKinematics's
// own SetPosition does not flush the SDS buffer.
func (p *Planner) SetPosition(pos standalone.Position) error {
	if p.IsMoving() {
		return errors.New("planner: cannot set position while a step is pending or a motor is active")
	}

	p.currentPos = pos

	positions, err := p.kinematics.CalcPosition(pos)
	if err != nil {
		return err
	}

	axisNames := p.kinematics.GetAxisNames()
	for i, name := range axisNames {
		if i >= len(positions) {
			break
		}
		bs, ok := p.steppers[name]
		if !ok {
			continue
		}
		bs.motor.SetPosition(positions[i])
	}
	return nil
}

// ClearQueue clears the move queue and stops all motion.
func (p *Planner) ClearQueue() {
	p.toolheadQueue = trapq.NewQueue()
	p.extruder = kinematics.NewExtruder()
	p.printTime = 0
	p.extruderTime = 0

	for name, bs := range p.steppers {
		bs.motor.Stop()
		if name == "e" {
			bs.kin.SetTrapq(p.extruder.Queue())
		} else {
			bs.kin.SetTrapq(p.toolheadQueue)
		}
	}
}

// IsIdle returns true if no moves are queued or executing.
func (p *Planner) IsIdle() bool {
	for _, bs := range p.steppers {
		if bs.motor.IsActive() {
			return false
		}
	}
	return true
}

// WaitIdle blocks until all moves are complete.
func (p *Planner) WaitIdle() error {
	return errors.New("WaitIdle not supported in embedded mode")
}

func secondsToTicks(seconds float64) uint32 {
	if seconds <= 0 {
		return 0
	}
	return uint32(seconds * float64(core.TimerFreq))
}

func ticksToSeconds(ticks uint32) float64 {
	return float64(ticks) / float64(core.TimerFreq)
}
