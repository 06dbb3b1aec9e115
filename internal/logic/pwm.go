package logic

import (
	"math"
	"time"
)

// PWMConfig divides a relay period into equal on-time steps.
type PWMConfig struct {
	Period time.Duration
	Steps  int
}

// DefaultPWM is a 500ms window in 50ms steps.
func DefaultPWM() PWMConfig {
	return PWMConfig{Period: 500 * time.Millisecond, Steps: 10}
}

// ActuatorState is the observable state of the slow PWM.
type ActuatorState struct {
	Duty        float64
	PeriodStart time.Time
	OnDuration  time.Duration
	RelayOn     bool
}

// OnDuration quantizes duty into whole steps of period/steps.
func OnDuration(duty float64, cfg PWMConfig) time.Duration {
	if cfg.Steps <= 0 || cfg.Period <= 0 || !(duty > 0) {
		return 0
	}
	if duty > 1 {
		duty = 1
	}
	steps := int(math.Floor(duty * float64(cfg.Steps)))
	return time.Duration(steps) * (cfg.Period / time.Duration(cfg.Steps))
}

// SlowPWM turns a duty fraction into relay timing a mechanical relay can
// follow. The on-time is latched at each period start.
type SlowPWM struct {
	cfg         PWMConfig
	duty        float64
	periodStart time.Time
	onFor       time.Duration
	running     bool
	relayOn     bool
}

// NewSlowPWM creates a driver with the relay off.
func NewSlowPWM(cfg PWMConfig) *SlowPWM {
	return &SlowPWM{cfg: cfg}
}

// SetDuty records the requested duty fraction; it takes effect at the next
// period start.
func (p *SlowPWM) SetDuty(duty float64) {
	if !(duty > 0) {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}
	p.duty = duty
}

// Update returns the relay level for now. With active false the relay is
// always off and the period restarts on the next active update.
func (p *SlowPWM) Update(now time.Time, active bool) bool {
	if !active {
		p.running = false
		p.relayOn = false
		p.onFor = 0
		return false
	}

	if !p.running {
		p.running = true
		p.periodStart = now
		p.onFor = OnDuration(p.duty, p.cfg)
	} else if since := now.Sub(p.periodStart); p.cfg.Period > 0 && since >= p.cfg.Period {
		// Stay aligned to the first period even when ticks are late.
		p.periodStart = p.periodStart.Add(since / p.cfg.Period * p.cfg.Period)
		p.onFor = OnDuration(p.duty, p.cfg)
	}

	p.relayOn = now.Sub(p.periodStart) < p.onFor
	return p.relayOn
}

// Reset zeroes the duty and forces the relay off.
func (p *SlowPWM) Reset() {
	p.duty = 0
	p.running = false
	p.relayOn = false
	p.onFor = 0
}

// State returns a copy of the actuator state.
func (p *SlowPWM) State() ActuatorState {
	return ActuatorState{
		Duty:        p.duty,
		PeriodStart: p.periodStart,
		OnDuration:  p.onFor,
		RelayOn:     p.relayOn,
	}
}
