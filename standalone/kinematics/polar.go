package kinematics

import (
	"errors"
	"math"

	"gopper/standalone"
	"gopper/standalone/itersolve"
	"gopper/standalone/trapq"
)

// Polar implements polar (arm + rotating bed) kinematics: the "arm"
// stepper extends radially, the "bed" stepper rotates the build plate.
// Z is an independent Cartesian axis. Matches Klipper's kin_polar.c.
type Polar struct {
	config *standalone.MachineConfig
}

// NewPolar creates a new polar kinematics instance.
func NewPolar(config *standalone.MachineConfig) (*Polar, error) {
	if _, ok := config.Axes["z"]; !ok {
		return nil, errors.New("Z axis not configured")
	}
	return &Polar{config: config}, nil
}

// CalcPosition converts an XY toolhead coordinate into radius and bed
// angle (radians), in order arm, bed, z, e.
func (k *Polar) CalcPosition(pos standalone.Position) ([]float64, error) {
	r := math.Hypot(pos.X, pos.Y)
	theta := math.Atan2(pos.Y, pos.X)
	return []float64{r, theta, pos.Z, pos.E}, nil
}

// GetAxisNames returns the stepper names for polar kinematics.
func (k *Polar) GetAxisNames() []string {
	return []string{"arm", "bed", "z", "e"}
}

// CheckLimits validates the Z soft limit; the radial/angular travel of
// a polar machine is bounded by its physical bed, not a soft limit.
func (k *Polar) CheckLimits(pos standalone.Position) error {
	if zAxis, ok := k.config.Axes["z"]; ok {
		if pos.Z < zAxis.MinPosition || pos.Z > zAxis.MaxPosition {
			return errors.New("Z position out of limits")
		}
	}
	return nil
}

func polarXY(m *trapq.Move, t float64) (float64, float64) {
	dist := m.Distance(t)
	x := m.StartPos[trapq.AxisX] + m.AxesR[trapq.AxisX]*dist
	y := m.StartPos[trapq.AxisY] + m.AxesR[trapq.AxisY]*dist
	return x, y
}

func polarArmPositionFunc(sk *itersolve.StepperKinematics, m *trapq.Move, t float64) float64 {
	x, y := polarXY(m, t)
	return math.Hypot(x, y)
}

func polarBedPositionFunc(sk *itersolve.StepperKinematics, m *trapq.Move, t float64) float64 {
	x, y := polarXY(m, t)
	return math.Atan2(y, x)
}

// StepperPositionFuncs returns the arm, bed and z stepper bindings.
// Both arm and bed are gated on either X or Y activity.
func (k *Polar) StepperPositionFuncs() map[string]StepperBinding {
	flags := uint8(itersolve.AxisFlagX | itersolve.AxisFlagY)
	return map[string]StepperBinding{
		"arm": {PositionFunc: polarArmPositionFunc, ActiveFlags: flags},
		"bed": {PositionFunc: polarBedPositionFunc, ActiveFlags: flags},
		"z":   {PositionFunc: cartesianAxisPositionFunc(trapq.AxisZ), ActiveFlags: itersolve.AxisFlagZ},
	}
}
