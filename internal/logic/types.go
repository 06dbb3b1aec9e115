// Package logic contains the pure thermal control core of the reflow oven:
// sensor filtering, the phase sequencer, the PID controller and the slow-PWM
// relay driver.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Phase is one of the ordered thermal stages of a run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePreheat
	PhaseSoak
	PhaseReflow
	PhaseCooldown
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhasePreheat:
		return "PREHEAT"
	case PhaseSoak:
		return "SOAK"
	case PhaseReflow:
		return "REFLOW"
	case PhaseCooldown:
		return "COOLDOWN"
	case PhaseDone:
		return "DONE"
	}
	return fmt.Sprintf("PHASE(%d)", int(p))
}

// Heating reports whether the phase drives the heater.
func (p Phase) Heating() bool {
	return p >= PhasePreheat && p <= PhaseCooldown
}

// EventType identifies a lifecycle or phase-entry event.
type EventType string

const (
	EventStart    EventType = "START"
	EventPreheat  EventType = "PREHEAT"
	EventSoak     EventType = "SOAK"
	EventReflow   EventType = "REFLOW"
	EventCooldown EventType = "COOLDOWN"
	EventDone     EventType = "DONE"
	EventStop     EventType = "STOP"
	EventOverTemp EventType = "OVERTEMP"
)

// Event is a lifecycle or phase transition to be published.
type Event struct {
	Timestamp    time.Time
	Type         EventType
	Phase        Phase
	Elapsed      time.Duration
	TemperatureC float64
	SetpointC    float64
	Profile      string
}

// entryEvent maps a phase to the event fired on entering it.
func entryEvent(p Phase) EventType {
	switch p {
	case PhasePreheat:
		return EventPreheat
	case PhaseSoak:
		return EventSoak
	case PhaseReflow:
		return EventReflow
	case PhaseCooldown:
		return EventCooldown
	case PhaseDone:
		return EventDone
	}
	return ""
}

// Tunings are the PID gains.
type Tunings struct {
	Kp float64
	Ki float64
	Kd float64
}

// DefaultTunings matches the gains the oven shipped with.
func DefaultTunings() Tunings {
	return Tunings{Kp: 2, Ki: 5, Kd: 1}
}

// Temperature limits accepted for any profile setpoint.
const (
	MinProfileTemp = 0.0
	MaxProfileTemp = 300.0
)

// MaxStageDuration bounds every profile stage. Four of them sum far below
// the range of time.Duration, so Total and the phase boundaries never wrap.
const MaxStageDuration = 24 * time.Hour

// DurationMs converts a millisecond count to a Duration. Values outside the
// representable range saturate instead of wrapping, so Validate rejects them.
func DurationMs(ms int64) time.Duration {
	const limit = math.MaxInt64 / int64(time.Millisecond)
	switch {
	case ms > limit:
		return math.MaxInt64
	case ms < -limit:
		return math.MinInt64
	}
	return time.Duration(ms) * time.Millisecond
}

// ErrInvalidProfile is returned (wrapped) when a profile field is out of range.
var ErrInvalidProfile = errors.New("invalid profile")

// Profile is a four-stage temperature schedule.
type Profile struct {
	Name             string
	PreheatTemp      float64
	PreheatDuration  time.Duration
	SoakTemp         float64
	SoakDuration     time.Duration
	ReflowTemp       float64
	ReflowDuration   time.Duration
	CooldownTemp     float64
	CooldownDuration time.Duration
}

// DefaultProfile is a generic leaded-solder curve.
func DefaultProfile() Profile {
	return Profile{
		Name:             "default",
		PreheatTemp:      100,
		PreheatDuration:  120 * time.Second,
		SoakTemp:         150,
		SoakDuration:     60 * time.Second,
		ReflowTemp:       230,
		ReflowDuration:   120 * time.Second,
		CooldownTemp:     25,
		CooldownDuration: 120 * time.Second,
	}
}

// Validate checks every temperature is within [0,300] and every duration is
// within [0,MaxStageDuration].
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidProfile)
	}
	temps := []struct {
		field string
		v     float64
	}{
		{"preheat_temp", p.PreheatTemp},
		{"soak_temp", p.SoakTemp},
		{"reflow_temp", p.ReflowTemp},
		{"cooldown_temp", p.CooldownTemp},
	}
	for _, t := range temps {
		// NaN fails both comparisons, so test the accepted range positively.
		if !(t.v >= MinProfileTemp && t.v <= MaxProfileTemp) {
			return fmt.Errorf("%w: %s %.1f outside [%.0f,%.0f]", ErrInvalidProfile, t.field, t.v, MinProfileTemp, MaxProfileTemp)
		}
	}
	durations := []struct {
		field string
		v     time.Duration
	}{
		{"preheat_duration", p.PreheatDuration},
		{"soak_duration", p.SoakDuration},
		{"reflow_duration", p.ReflowDuration},
		{"cooldown_duration", p.CooldownDuration},
	}
	for _, d := range durations {
		if d.v < 0 {
			return fmt.Errorf("%w: %s %v is negative", ErrInvalidProfile, d.field, d.v)
		}
		if d.v > MaxStageDuration {
			return fmt.Errorf("%w: %s %v exceeds %v", ErrInvalidProfile, d.field, d.v, MaxStageDuration)
		}
	}
	return nil
}

// Total returns the length of a full run.
func (p Profile) Total() time.Duration {
	return p.PreheatDuration + p.SoakDuration + p.ReflowDuration + p.CooldownDuration
}

// PhaseAt maps elapsed run time to the active phase and its setpoint.
// Each phase owns the half-open interval ending at its boundary, except
// Preheat which also owns elapsed == 0.
func (p Profile) PhaseAt(elapsed time.Duration) (Phase, float64) {
	b1 := p.PreheatDuration
	b2 := b1 + p.SoakDuration
	b3 := b2 + p.ReflowDuration
	b4 := b3 + p.CooldownDuration

	switch {
	case elapsed > b4:
		return PhaseDone, 0
	case elapsed > b3:
		return PhaseCooldown, p.CooldownTemp
	case elapsed > b2:
		return PhaseReflow, p.ReflowTemp
	case elapsed > b1:
		return PhaseSoak, p.SoakTemp
	default:
		return PhasePreheat, p.PreheatTemp
	}
}

// Setpoint returns the target temperature of phase ph, zero outside heating
// phases.
func (p Profile) Setpoint(ph Phase) float64 {
	switch ph {
	case PhasePreheat:
		return p.PreheatTemp
	case PhaseSoak:
		return p.SoakTemp
	case PhaseReflow:
		return p.ReflowTemp
	case PhaseCooldown:
		return p.CooldownTemp
	}
	return 0
}

// RunCounts tracks how runs ended since startup.
type RunCounts struct {
	Started   int
	Completed int
	Stopped   int
	Faulted   int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    RunCounts
}
