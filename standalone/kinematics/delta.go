package kinematics

import (
	"errors"
	"math"

	"gopper/standalone"
	"gopper/standalone/itersolve"
	"gopper/standalone/trapq"
)

// deltaTowerAngles places the three towers 120 degrees apart, tower 0
// at the rear, matching Klipper's kin_delta.c convention.
var deltaTowerAngles = [3]float64{90, 210, 330}

// Delta implements linear-delta kinematics: three vertical carriages,
// each connected to the print head by a fixed-length diagonal rod.
// Each stepper's position is the carriage height that keeps its rod
// exactly ArmLength from the commanded XYZ point.
type Delta struct {
	config     *standalone.MachineConfig
	towerX     [3]float64
	towerY     [3]float64
	armLength2 float64
}

// NewDelta creates a new linear-delta kinematics instance.
func NewDelta(config *standalone.MachineConfig) (*Delta, error) {
	if config.ArmLength <= 0 {
		return nil, errors.New("delta kinematics requires arm_length > 0")
	}
	if config.DeltaRadius <= 0 {
		return nil, errors.New("delta kinematics requires delta_radius > 0")
	}
	if _, ok := config.Axes["z"]; !ok {
		return nil, errors.New("Z (tower a) axis not configured")
	}

	d := &Delta{config: config, armLength2: config.ArmLength * config.ArmLength}
	for i, angle := range deltaTowerAngles {
		rad := angle * math.Pi / 180
		d.towerX[i] = config.DeltaRadius * math.Cos(rad)
		d.towerY[i] = config.DeltaRadius * math.Sin(rad)
	}
	return d, nil
}

// CalcPosition converts an XYZ toolhead coordinate into the three
// tower carriage heights, in order a, b, c.
func (k *Delta) CalcPosition(pos standalone.Position) ([]float64, error) {
	out := make([]float64, 4)
	for i := 0; i < 3; i++ {
		h, err := k.towerHeight(i, pos.X, pos.Y, pos.Z)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	out[3] = pos.E
	return out, nil
}

func (k *Delta) towerHeight(tower int, x, y, z float64) (float64, error) {
	dx := k.towerX[tower] - x
	dy := k.towerY[tower] - y
	radical := k.armLength2 - dx*dx - dy*dy
	if radical < 0 {
		return 0, errors.New("delta: target position outside reachable envelope")
	}
	return z + math.Sqrt(radical), nil
}

// GetAxisNames returns the stepper names for delta kinematics.
func (k *Delta) GetAxisNames() []string {
	return []string{"a", "b", "c", "e"}
}

// CheckLimits validates the Z soft limits and that the point is within
// the arm's reach at every tower.
func (k *Delta) CheckLimits(pos standalone.Position) error {
	if zAxis, ok := k.config.Axes["z"]; ok {
		if pos.Z < zAxis.MinPosition || pos.Z > zAxis.MaxPosition {
			return errors.New("Z position out of limits")
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := k.towerHeight(i, pos.X, pos.Y, pos.Z); err != nil {
			return err
		}
	}
	return nil
}

// deltaTowerPositionFunc returns the position callback for one tower:
// the carriage height that keeps the rod taut to the commanded XY
// point as the toolhead moves along the segment.
func deltaTowerPositionFunc(d *Delta, tower int) itersolve.PositionFunc {
	return func(sk *itersolve.StepperKinematics, m *trapq.Move, t float64) float64 {
		dist := m.Distance(t)
		x := m.StartPos[trapq.AxisX] + m.AxesR[trapq.AxisX]*dist
		y := m.StartPos[trapq.AxisY] + m.AxesR[trapq.AxisY]*dist
		z := m.StartPos[trapq.AxisZ] + m.AxesR[trapq.AxisZ]*dist
		dx := d.towerX[tower] - x
		dy := d.towerY[tower] - y
		radical := d.armLength2 - dx*dx - dy*dy
		if radical < 0 {
			radical = 0 // clamp: numerical overshoot at the edge of reach
		}
		return z + math.Sqrt(radical)
	}
}

// StepperPositionFuncs returns the a, b, c tower stepper bindings. All
// three towers are gated on any of X, Y or Z since a linear-delta
// carriage moves for motion on any toolhead axis.
func (k *Delta) StepperPositionFuncs() map[string]StepperBinding {
	flags := uint8(itersolve.AxisFlagX | itersolve.AxisFlagY | itersolve.AxisFlagZ)
	return map[string]StepperBinding{
		"a": {PositionFunc: deltaTowerPositionFunc(k, 0), ActiveFlags: flags},
		"b": {PositionFunc: deltaTowerPositionFunc(k, 1), ActiveFlags: flags},
		"c": {PositionFunc: deltaTowerPositionFunc(k, 2), ActiveFlags: flags},
	}
}
