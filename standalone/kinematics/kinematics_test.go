package kinematics

import (
	"math"
	"testing"

	"gopper/standalone"
	"gopper/standalone/itersolve"
	"gopper/standalone/trapq"
)

func straightMove(startX, startY, startZ, ux, uy, uz, velocity, moveT float64) *trapq.Move {
	return &trapq.Move{
		PrintTime: 0,
		MoveT:     moveT,
		StartPos:  [3]float64{startX, startY, startZ},
		AxesR:     [3]float64{ux, uy, uz},
		StartV:    velocity,
	}
}

func axisConfig(min, max float64) standalone.AxisConfig {
	return standalone.AxisConfig{MinPosition: min, MaxPosition: max, StepsPerMM: 100}
}

func TestCartesianCalcPositionAndLimits(t *testing.T) {
	cfg := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{
		"x": axisConfig(0, 200),
		"y": axisConfig(0, 200),
		"z": axisConfig(0, 200),
	}}
	k, err := NewCartesian(cfg)
	if err != nil {
		t.Fatalf("NewCartesian: %v", err)
	}

	pos, err := k.CalcPosition(standalone.Position{X: 1, Y: 2, Z: 3, E: 4})
	if err != nil {
		t.Fatalf("CalcPosition: %v", err)
	}
	if pos[0] != 1 || pos[1] != 2 || pos[2] != 3 || pos[3] != 4 {
		t.Fatalf("CalcPosition = %v, want identity mapping", pos)
	}

	if err := k.CheckLimits(standalone.Position{X: 300}); err == nil {
		t.Fatal("expected out-of-limits error for X=300")
	}
	if err := k.CheckLimits(standalone.Position{X: 50, Y: 50, Z: 50}); err != nil {
		t.Fatalf("CheckLimits: unexpected error %v", err)
	}
}

func TestCartesianStepperPositionFuncs(t *testing.T) {
	cfg := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{
		"x": axisConfig(0, 200), "y": axisConfig(0, 200), "z": axisConfig(0, 200),
	}}
	k, _ := NewCartesian(cfg)
	bindings := k.StepperPositionFuncs()

	m := straightMove(10, 0, 0, 1, 0, 0, 5, 1.0)
	got := bindings["x"].PositionFunc(nil, m, 2.0)
	if want := 20.0; math.Abs(got-want) > 1e-9 {
		t.Fatalf("x position at t=2 = %v, want %v", got, want)
	}
	if bindings["y"].ActiveFlags != itersolve.AxisFlagY {
		t.Fatalf("y binding flags = %v, want AxisFlagY", bindings["y"].ActiveFlags)
	}
}

func TestCoreXYCalcPositionAndBelts(t *testing.T) {
	cfg := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{
		"x": axisConfig(0, 200), "y": axisConfig(0, 200), "z": axisConfig(0, 200),
	}}
	k, err := NewCoreXY(cfg)
	if err != nil {
		t.Fatalf("NewCoreXY: %v", err)
	}

	pos, err := k.CalcPosition(standalone.Position{X: 3, Y: 4})
	if err != nil {
		t.Fatalf("CalcPosition: %v", err)
	}
	if pos[0] != 7 || pos[1] != -1 {
		t.Fatalf("CalcPosition a,b = %v,%v, want 7,-1", pos[0], pos[1])
	}

	bindings := k.StepperPositionFuncs()
	m := straightMove(0, 0, 0, 0.6, 0.8, 0, 10, 1.0) // moving diagonally at 10mm/s
	a := bindings["a"].PositionFunc(nil, m, 1.0)
	b := bindings["b"].PositionFunc(nil, m, 1.0)
	wantX, wantY := 0.6*10.0, 0.8*10.0
	if math.Abs(a-(wantX+wantY)) > 1e-9 {
		t.Fatalf("belt a = %v, want %v", a, wantX+wantY)
	}
	if math.Abs(b-(wantX-wantY)) > 1e-9 {
		t.Fatalf("belt b = %v, want %v", b, wantX-wantY)
	}
}

func TestCoreXYRequiresXYZ(t *testing.T) {
	cfg := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{
		"x": axisConfig(0, 200),
	}}
	if _, err := NewCoreXY(cfg); err == nil {
		t.Fatal("expected error when Y/Z axes are missing")
	}
}

func TestDeltaTowerHeightAtCenter(t *testing.T) {
	cfg := &standalone.MachineConfig{
		ArmLength:   250,
		DeltaRadius: 100,
		Axes:        map[string]standalone.AxisConfig{"z": axisConfig(0, 300)},
	}
	k, err := NewDelta(cfg)
	if err != nil {
		t.Fatalf("NewDelta: %v", err)
	}

	pos, err := k.CalcPosition(standalone.Position{X: 0, Y: 0, Z: 50})
	if err != nil {
		t.Fatalf("CalcPosition: %v", err)
	}
	// At the exact center, each tower's horizontal offset is the delta
	// radius, so the vertical rod component is identical for all three.
	want := 50 + math.Sqrt(250*250-100*100)
	for i := 0; i < 3; i++ {
		if math.Abs(pos[i]-want) > 1e-9 {
			t.Fatalf("tower %d height = %v, want %v", i, pos[i], want)
		}
	}
}

func TestDeltaOutsideReachIsError(t *testing.T) {
	cfg := &standalone.MachineConfig{
		ArmLength:   250,
		DeltaRadius: 100,
		Axes:        map[string]standalone.AxisConfig{"z": axisConfig(0, 300)},
	}
	k, _ := NewDelta(cfg)
	if _, err := k.CalcPosition(standalone.Position{X: 1000, Y: 1000, Z: 0}); err == nil {
		t.Fatal("expected out-of-reach error")
	}
}

func TestDeltaRequiresGeometry(t *testing.T) {
	cfg := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{"z": axisConfig(0, 300)}}
	if _, err := NewDelta(cfg); err == nil {
		t.Fatal("expected error when arm_length/delta_radius are unset")
	}
}

func TestPolarCalcPositionAndBindings(t *testing.T) {
	cfg := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{"z": axisConfig(0, 300)}}
	k, err := NewPolar(cfg)
	if err != nil {
		t.Fatalf("NewPolar: %v", err)
	}

	pos, err := k.CalcPosition(standalone.Position{X: 3, Y: 4, Z: 10})
	if err != nil {
		t.Fatalf("CalcPosition: %v", err)
	}
	if math.Abs(pos[0]-5.0) > 1e-9 {
		t.Fatalf("radius = %v, want 5", pos[0])
	}
	wantTheta := math.Atan2(4, 3)
	if math.Abs(pos[1]-wantTheta) > 1e-9 {
		t.Fatalf("theta = %v, want %v", pos[1], wantTheta)
	}
	if pos[2] != 10 {
		t.Fatalf("z = %v, want 10", pos[2])
	}

	bindings := k.StepperPositionFuncs()
	m := straightMove(3, 4, 0, 0, 0, 0, 0, 1.0) // stationary XY move, just evaluate at t=0
	arm := bindings["arm"].PositionFunc(nil, m, 0)
	if math.Abs(arm-5.0) > 1e-9 {
		t.Fatalf("arm position = %v, want 5", arm)
	}
}

func TestPolarRequiresZ(t *testing.T) {
	cfg := &standalone.MachineConfig{Axes: map[string]standalone.AxisConfig{}}
	if _, err := NewPolar(cfg); err == nil {
		t.Fatal("expected error when Z axis is missing")
	}
}

func TestExtruderPositionFuncTracksDistance(t *testing.T) {
	e := NewExtruder()
	bindings := e.StepperPositionFuncs()

	m := &trapq.Move{
		PrintTime: 0,
		MoveT:     1.0,
		StartPos:  [3]float64{5, 0, 0},
		AxesR:     [3]float64{1, 0, 0},
		StartV:    2.0, // 2mm/s of filament feed
	}
	e.Queue().Append(m)

	got := bindings["e"].PositionFunc(nil, m, 1.0)
	if want := 7.0; math.Abs(got-want) > 1e-9 {
		t.Fatalf("extruder position at t=1 = %v, want %v", got, want)
	}
}
