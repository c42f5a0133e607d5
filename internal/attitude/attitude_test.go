package attitude

import (
	"errors"
	"math"
	"testing"
	"time"
)

const tolerance = 1e-9

func TestAccelAngles(t *testing.T) {
	tests := []struct {
		name      string
		accel     AccelSample
		wantPitch float64
		wantRoll  float64
	}{
		{name: "level", accel: AccelSample{Z: 1}, wantPitch: 0, wantRoll: 0},
		{name: "nose along y", accel: AccelSample{Y: 1}, wantPitch: 90, wantRoll: 0},
		{name: "x positive", accel: AccelSample{X: 1}, wantPitch: 0, wantRoll: -90},
		{name: "all zero", accel: AccelSample{}, wantPitch: 0, wantRoll: 0},
		{name: "45 degrees pitch", accel: AccelSample{Y: 1, Z: 1}, wantPitch: 45, wantRoll: 0},
		{name: "45 degrees roll", accel: AccelSample{X: -1, Z: 1}, wantPitch: 0, wantRoll: 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pitch, roll := AccelAngles(tt.accel)
			if math.Abs(pitch-tt.wantPitch) > 1e-6 {
				t.Errorf("pitch = %v, want %v", pitch, tt.wantPitch)
			}
			if math.Abs(roll-tt.wantRoll) > 1e-6 {
				t.Errorf("roll = %v, want %v", roll, tt.wantRoll)
			}
		})
	}
}

func TestEstimatorConvergesToLevel(t *testing.T) {
	for _, start := range []float64{-45, 0, 12.5, 80} {
		e := NewEstimator()
		e.estimate = Estimate{Pitch: start, Roll: -start}

		var est Estimate
		for i := 0; i < 5000; i++ {
			var err error
			if est, err = e.Update(GyroSample{}, AccelSample{Z: 1}, 0.005); err != nil {
				t.Fatalf("Update() error = %v", err)
			}
		}
		if math.Abs(est.Pitch) > 1e-6 || math.Abs(est.Roll) > 1e-6 {
			t.Errorf("start %v: estimate = %+v, want level", start, est)
		}

		// once at the fixed point it stays there
		for i := 0; i < 100; i++ {
			est, _ = e.Update(GyroSample{}, AccelSample{Z: 1}, 0.005)
		}
		if math.Abs(est.Pitch) > 1e-6 || math.Abs(est.Roll) > 1e-6 {
			t.Errorf("start %v: estimate drifted to %+v", start, est)
		}
	}
}

func TestEstimatorFeedsBackOwnOutput(t *testing.T) {
	e := NewEstimator()
	g := GyroSample{PitchRate: 100}
	a := AccelSample{Z: 1}

	first, _ := e.Update(g, a, 0.01)
	second, _ := e.Update(g, a, 0.01)

	want1 := 0.98 * 1.0
	want2 := 0.98 * (want1 + 1.0)
	if math.Abs(first.Pitch-want1) > tolerance {
		t.Errorf("first pitch = %v, want %v", first.Pitch, want1)
	}
	if math.Abs(second.Pitch-want2) > tolerance {
		t.Errorf("second pitch = %v, want %v", second.Pitch, want2)
	}
}

func TestEstimatorRejectsNonFinite(t *testing.T) {
	e := NewEstimator()
	before, _ := e.Update(GyroSample{PitchRate: 10}, AccelSample{Z: 1}, 0.01)

	after, err := e.Update(GyroSample{PitchRate: math.NaN()}, AccelSample{Z: 1}, 0.01)
	if !errors.Is(err, ErrNonFiniteSample) {
		t.Fatalf("Update() error = %v, want %v", err, ErrNonFiniteSample)
	}
	if after != before {
		t.Errorf("estimate changed to %+v, want %+v", after, before)
	}
	if e.Hold() != before {
		t.Errorf("Hold() = %+v, want %+v", e.Hold(), before)
	}
}

func TestCalibrationBiasCancelsItself(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewCalibrator(now)

	samples := []struct {
		g GyroSample
		a AccelSample
	}{
		{GyroSample{PitchRate: 1.2, RollRate: -0.4, YawRate: 0.3}, AccelSample{X: 0.02, Y: -0.01, Z: 1.03}},
		{GyroSample{PitchRate: 1.2, RollRate: -0.4, YawRate: 0.3}, AccelSample{X: 0.02, Y: -0.01, Z: 1.03}},
		{GyroSample{PitchRate: 1.2, RollRate: -0.4, YawRate: 0.3}, AccelSample{X: 0.02, Y: -0.01, Z: 1.03}},
	}
	for _, s := range samples {
		if err := c.Add(s.g, s.a); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	bias, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	e := NewEstimator()
	e.SetBias(bias)
	for _, s := range samples {
		est, err := e.Update(s.g, s.a, 0.005)
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if math.Abs(est.Pitch) > 1e-9 || math.Abs(est.Roll) > 1e-9 {
			t.Errorf("estimate = %+v, want level", est)
		}
	}
	if yaw := e.Correct(samples[0].g).YawRate; math.Abs(yaw) > 1e-12 {
		t.Errorf("corrected yaw rate = %v, want 0", yaw)
	}
}

func TestCalibratorRejectsNonFinite(t *testing.T) {
	c := NewCalibrator(time.Now())
	if err := c.Add(GyroSample{}, AccelSample{Z: 1}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	bad := []struct {
		name string
		g    GyroSample
		a    AccelSample
	}{
		{"nan gyro", GyroSample{YawRate: math.NaN()}, AccelSample{Z: 1}},
		{"inf accel", GyroSample{}, AccelSample{Z: math.Inf(1)}},
		{"negative inf accel", GyroSample{}, AccelSample{X: math.Inf(-1), Z: 1}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Add(tt.g, tt.a); !errors.Is(err, ErrNonFiniteSample) {
				t.Errorf("Add() error = %v, want %v", err, ErrNonFiniteSample)
			}
		})
	}

	if c.Samples() != 1 {
		t.Errorf("Samples() = %d, want 1", c.Samples())
	}
	bias, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if bias != (BiasOffsets{}) {
		t.Errorf("bias = %+v, want zero", bias)
	}
}

func TestCalibratorStill(t *testing.T) {
	c := NewCalibrator(time.Now())

	if !c.Still(GyroSample{}, AccelSample{Z: 1.01}) {
		t.Error("first level sample should be still")
	}
	if c.Still(GyroSample{}, AccelSample{Z: 1.5}) {
		t.Error("sample far from 1 g should be moving")
	}

	_ = c.Add(GyroSample{PitchRate: 0.5}, AccelSample{Z: 1})

	tests := []struct {
		name string
		g    GyroSample
		a    AccelSample
		want bool
	}{
		{"unchanged", GyroSample{PitchRate: 0.5}, AccelSample{Z: 1}, true},
		{"small drift", GyroSample{PitchRate: 1.5}, AccelSample{X: 0.01, Z: 1.01}, true},
		{"gyro jump", GyroSample{PitchRate: 10}, AccelSample{Z: 1}, false},
		{"yaw jump", GyroSample{PitchRate: 0.5, YawRate: -5}, AccelSample{Z: 1}, false},
		{"accel jump", GyroSample{PitchRate: 0.5}, AccelSample{Y: 0.2, Z: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Still(tt.g, tt.a); got != tt.want {
				t.Errorf("Still() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalibratorStillAgainstRunningBias(t *testing.T) {
	c := NewCalibrator(time.Now())

	// each step stays under the threshold, the sum of steps does not
	rate := 0.0
	for i := 0; i < 10; i++ {
		g := GyroSample{RollRate: rate}
		if !c.Still(g, AccelSample{Z: 1}) {
			if i < 2 {
				t.Fatalf("sample %d at %v dps should still be close to the bias", i, rate)
			}
			return
		}
		if err := c.Add(g, AccelSample{Z: 1}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		rate += 1.5
	}
	t.Fatalf("a steady ramp to %v dps was accepted as still", rate)
}

func TestCalibratorWindow(t *testing.T) {
	start := time.Unix(1700000000, 0)
	c := NewCalibrator(start, WithWindow(time.Second))

	if !c.Remaining(start.Add(999 * time.Millisecond)) {
		t.Error("window should remain just before it elapses")
	}
	if c.Remaining(start.Add(time.Second)) {
		t.Error("window should be elapsed exactly at its length")
	}

	_ = c.Add(GyroSample{}, AccelSample{Z: 1})
	later := start.Add(800 * time.Millisecond)
	c.Restart(later, GyroSample{}, AccelSample{Z: 1})

	if c.Samples() != 0 {
		t.Errorf("Samples() = %d after restart, want 0", c.Samples())
	}
	if !c.Remaining(start.Add(time.Second)) {
		t.Error("restart should move the window")
	}
	if _, err := c.Finish(); !errors.Is(err, ErrNoSamples) {
		t.Errorf("Finish() error = %v, want %v", err, ErrNoSamples)
	}
}
