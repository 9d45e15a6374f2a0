package logic

// IntegralLimit bounds the accumulated integral term in both directions.
const IntegralLimit = 100.0

// Gains configures a PID controller.
type Gains struct {
	Kp float64
	Ki float64
	Kd float64
}

// DefaultGains returns Kp=1.0, Ki=0.1, Kd=0.01.
func DefaultGains() Gains {
	return Gains{Kp: 1.0, Ki: 0.1, Kd: 0.01}
}

// Step applies the control law to err and returns the control output and the
// next controller state. The integral is clamped to ±IntegralLimit on every
// step (anti-windup). A non-positive dt contributes no derivative term.
func (g Gains) Step(state ControllerState, err, dt float64) (float64, ControllerState) {
	integral := clamp(state.Integral+err*dt, -IntegralLimit, IntegralLimit)

	var derivative float64
	if dt > 0 {
		derivative = (err - state.PrevError) / dt
	}

	out := g.Kp*err + g.Ki*integral + g.Kd*derivative
	return out, ControllerState{Integral: integral, PrevError: err}
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}
