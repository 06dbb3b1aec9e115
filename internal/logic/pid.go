package logic

import (
	"math"
	"time"
)

// Output range of the controller. The heater can only add energy, so the
// lower bound is fully off.
const (
	MinOutput = 0.0
	MaxOutput = 1.0
)

// PIDConfig configures the temperature controller.
type PIDConfig struct {
	Tunings
	Interval      time.Duration // fixed compute period
	IntegralLimit float64       // symmetric clamp on the integral term
	Bias          float64       // subtracted from every measurement
}

// ControllerState is the observable state of the controller.
type ControllerState struct {
	Input    float64
	Output   float64
	Setpoint float64
	Integral float64
}

// PID is a fixed-interval PID controller with a clamped integral and
// derivative on measurement. Not safe for concurrent use.
type PID struct {
	cfg PIDConfig

	input     float64
	output    float64
	setpoint  float64
	integral  float64
	lastInput float64
	havePrev  bool
	last      time.Time
	computed  bool
}

// NewPID creates a controller with zeroed state.
func NewPID(cfg PIDConfig) *PID {
	return &PID{cfg: cfg}
}

// Due reports whether the compute interval has elapsed.
func (c *PID) Due(now time.Time) bool {
	return !c.computed || now.Sub(c.last) >= c.cfg.Interval
}

// Compute runs one control step against measured and returns the new output.
func (c *PID) Compute(now time.Time, measured float64) float64 {
	c.last = now
	c.computed = true

	input := measured - c.cfg.Bias
	dt := c.cfg.Interval.Seconds()
	if dt <= 0 {
		dt = 1
	}

	err := c.setpoint - input
	c.integral = clamp(c.integral+c.cfg.Ki*err*dt, -c.cfg.IntegralLimit, c.cfg.IntegralLimit)
	if math.IsNaN(c.integral) {
		c.integral = 0
	}

	var derivative float64
	if c.havePrev {
		derivative = -c.cfg.Kd * (input - c.lastInput) / dt
	}

	out := c.cfg.Kp*err + c.integral + derivative
	if math.IsNaN(out) {
		out = MinOutput
	}
	c.output = clamp(out, MinOutput, MaxOutput)
	c.input = input
	c.lastInput = input
	c.havePrev = true
	return c.output
}

// SetSetpoint changes the target temperature.
func (c *PID) SetSetpoint(sp float64) {
	c.setpoint = sp
}

// SetTunings replaces the gains. The integral accumulator is kept.
func (c *PID) SetTunings(t Tunings) {
	c.cfg.Tunings = t
}

// Tunings returns the active gains.
func (c *PID) Tunings() Tunings {
	return c.cfg.Tunings
}

// Reset clears the integral, output and derivative history.
func (c *PID) Reset() {
	c.integral = 0
	c.output = 0
	c.havePrev = false
	c.computed = false
}

// Output returns the last computed output.
func (c *PID) Output() float64 {
	return c.output
}

// State returns a copy of the controller state.
func (c *PID) State() ControllerState {
	return ControllerState{
		Input:    c.input,
		Output:   c.output,
		Setpoint: c.setpoint,
		Integral: c.integral,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
