package kinematics

import (
	"errors"

	"gopper/standalone"
	"gopper/standalone/itersolve"
	"gopper/standalone/trapq"
)

// CoreXY implements H-bot/CoreXY kinematics: two steppers, "a" and
// "b", each coupled to both the X and Y belts. Klipper's kin_corexy.c
// defines stepper_a position = x+y and stepper_b position = x-y; Z is
// an independent Cartesian axis.
type CoreXY struct {
	config *standalone.MachineConfig
}

// NewCoreXY creates a new CoreXY kinematics instance.
func NewCoreXY(config *standalone.MachineConfig) (*CoreXY, error) {
	if _, ok := config.Axes["x"]; !ok {
		return nil, errors.New("X axis not configured")
	}
	if _, ok := config.Axes["y"]; !ok {
		return nil, errors.New("Y axis not configured")
	}
	if _, ok := config.Axes["z"]; !ok {
		return nil, errors.New("Z axis not configured")
	}
	return &CoreXY{config: config}, nil
}

// CalcPosition converts XYZ coordinates to stepper positions in order
// a, b, z, e.
func (k *CoreXY) CalcPosition(pos standalone.Position) ([]float64, error) {
	return []float64{pos.X + pos.Y, pos.X - pos.Y, pos.Z, pos.E}, nil
}

// GetAxisNames returns the stepper names for CoreXY kinematics.
func (k *CoreXY) GetAxisNames() []string {
	return []string{"a", "b", "z", "e"}
}

// CheckLimits validates that a position is within configured XYZ
// limits (the soft limits are expressed in toolhead coordinates, not
// belt coordinates).
func (k *CoreXY) CheckLimits(pos standalone.Position) error {
	if xAxis, ok := k.config.Axes["x"]; ok {
		if pos.X < xAxis.MinPosition || pos.X > xAxis.MaxPosition {
			return errors.New("X position out of limits")
		}
	}
	if yAxis, ok := k.config.Axes["y"]; ok {
		if pos.Y < yAxis.MinPosition || pos.Y > yAxis.MaxPosition {
			return errors.New("Y position out of limits")
		}
	}
	if zAxis, ok := k.config.Axes["z"]; ok {
		if pos.Z < zAxis.MinPosition || pos.Z > zAxis.MaxPosition {
			return errors.New("Z position out of limits")
		}
	}
	return nil
}

// corexyPositionFunc returns the position callback for the "a" belt
// (sign=+1) or the "b" belt (sign=-1): pos = xPos ± yPos.
func corexyPositionFunc(sign float64) itersolve.PositionFunc {
	return func(sk *itersolve.StepperKinematics, m *trapq.Move, t float64) float64 {
		dist := m.Distance(t)
		xPos := m.StartPos[trapq.AxisX] + m.AxesR[trapq.AxisX]*dist
		yPos := m.StartPos[trapq.AxisY] + m.AxesR[trapq.AxisY]*dist
		return xPos + sign*yPos
	}
}

// StepperPositionFuncs returns the a, b and z stepper bindings for
// CoreXY kinematics. Both belt steppers are gated on X or Y activity
// since either toolhead axis can move either belt.
func (k *CoreXY) StepperPositionFuncs() map[string]StepperBinding {
	beltFlags := uint8(itersolve.AxisFlagX | itersolve.AxisFlagY)
	return map[string]StepperBinding{
		"a": {PositionFunc: corexyPositionFunc(1), ActiveFlags: beltFlags},
		"b": {PositionFunc: corexyPositionFunc(-1), ActiveFlags: beltFlags},
		"z": {PositionFunc: cartesianAxisPositionFunc(trapq.AxisZ), ActiveFlags: itersolve.AxisFlagZ},
	}
}
