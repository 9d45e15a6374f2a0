package logic

import (
	"math"
	"testing"
)

func TestStepZeroErrorFreshState(t *testing.T) {
	out, next := DefaultGains().Step(ControllerState{}, 0, 0.01)
	if out != 0 {
		t.Errorf("output: got %v, want 0", out)
	}
	if next != (ControllerState{}) {
		t.Errorf("state: got %+v, want zero", next)
	}
}

func TestStepTerms(t *testing.T) {
	g := Gains{Kp: 2, Ki: 0.5, Kd: 0.1}
	state := ControllerState{Integral: 1, PrevError: 1}

	out, next := g.Step(state, 3, 0.5)

	// integral = 1 + 3*0.5 = 2.5, derivative = (3-1)/0.5 = 4
	want := 2*3 + 0.5*2.5 + 0.1*4
	if math.Abs(out-want) > 1e-12 {
		t.Errorf("output: got %v, want %v", out, want)
	}
	if next.Integral != 2.5 {
		t.Errorf("Integral: got %v, want 2.5", next.Integral)
	}
	if next.PrevError != 3 {
		t.Errorf("PrevError: got %v, want 3", next.PrevError)
	}
}

func TestStepIntegralClampedUnderSustainedError(t *testing.T) {
	g := DefaultGains()
	var state ControllerState
	for i := 0; i < 10000; i++ {
		_, state = g.Step(state, 50, 0.01)
		if state.Integral > IntegralLimit || state.Integral < -IntegralLimit {
			t.Fatalf("step %d: integral %v escaped ±%v", i, state.Integral, IntegralLimit)
		}
	}
	if state.Integral != IntegralLimit {
		t.Errorf("Integral: got %v, want saturated %v", state.Integral, IntegralLimit)
	}

	for i := 0; i < 10000; i++ {
		_, state = g.Step(state, -50, 0.01)
	}
	if state.Integral != -IntegralLimit {
		t.Errorf("Integral: got %v, want saturated %v", state.Integral, -IntegralLimit)
	}
}

func TestStepZeroDtHasNoDerivative(t *testing.T) {
	g := Gains{Kd: 1}
	out, _ := g.Step(ControllerState{PrevError: -10}, 10, 0)
	if out != 0 {
		t.Errorf("output with dt=0: got %v, want 0", out)
	}
}

func TestStepIsPure(t *testing.T) {
	g := DefaultGains()
	state := ControllerState{Integral: 4, PrevError: 2}
	a, sa := g.Step(state, 1.5, 0.01)
	b, sb := g.Step(state, 1.5, 0.01)
	if a != b || sa != sb {
		t.Error("Step must return identical results for identical inputs")
	}
	if state.Integral != 4 || state.PrevError != 2 {
		t.Error("Step must not mutate its input state")
	}
}
