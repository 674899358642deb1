package kinematics

import (
	"gopper/standalone/itersolve"
	"gopper/standalone/trapq"
)

// Extruder implements the filament-feed axis. Unlike the toolhead
// kinematics above, the extruder advances on its own independent
// trapezoidal queue: Klipper schedules extrusion on a separate trapq so
// that pressure-advance style timing isn't coupled to XYZ move
// boundaries. Each move on this queue encodes its scalar distance in
// StartPos[trapq.AxisX]/AxesR[trapq.AxisX]; Y and Z are unused.
type Extruder struct {
	queue *trapq.Queue
}

// NewExtruder creates an extruder with its own trajectory queue.
func NewExtruder() *Extruder {
	return &Extruder{queue: trapq.NewQueue()}
}

// Queue returns the extruder's independent trajectory queue, for the
// planner to append moves to and the bound StepperKinematics to read
// from.
func (e *Extruder) Queue() *trapq.Queue {
	return e.queue
}

// extruderPositionFunc tracks the scalar filament position along a
// move on the extruder's own queue.
func extruderPositionFunc(sk *itersolve.StepperKinematics, m *trapq.Move, t float64) float64 {
	return m.StartPos[trapq.AxisX] + m.AxesR[trapq.AxisX]*m.Distance(t)
}

// StepperPositionFuncs returns the single "e" stepper binding. The
// extruder's queue carries the filament distance on the X ratio of each
// move, so the binding sets AxisFlagX: without it GenerateSteps' active
// check would skip every extruder move.
func (e *Extruder) StepperPositionFuncs() map[string]StepperBinding {
	return map[string]StepperBinding{
		"e": {PositionFunc: extruderPositionFunc, ActiveFlags: itersolve.AxisFlagX},
	}
}
