// Package oven runs the thermal control loop: it samples the thermistor,
// sequences the profile phases, computes the PID output and drives the
// heater relay through the slow PWM.
//
// An Oven is owned by a single goroutine. Other goroutines reach it through
// a Mailbox.
package oven

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/reflow-controller/internal/adc"
	"github.com/sweeney/reflow-controller/internal/gpio"
	"github.com/sweeney/reflow-controller/internal/logic"
)

var (
	// ErrRunActive is returned for operations not allowed during a run.
	ErrRunActive = errors.New("run active")

	// ErrInvalidTunings is returned (wrapped) for negative or NaN gains.
	ErrInvalidTunings = errors.New("invalid tunings")
)

// Config holds the control loop settings.
type Config struct {
	SampleInterval time.Duration
	Samples        int
	Thermistor     logic.ThermistorConfig
	PID            logic.PIDConfig
	PWM            logic.PWMConfig

	// MaxTempC stops a run when exceeded. Zero disables the cutout.
	MaxTempC float64
}

// DefaultConfig returns the settings of the stock oven board.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 10 * time.Millisecond,
		Samples:        5,
		Thermistor:     logic.DefaultThermistor(),
		PID: logic.PIDConfig{
			Tunings:       logic.DefaultTunings(),
			Interval:      time.Second,
			IntegralLimit: 1,
		},
		PWM: logic.DefaultPWM(),
	}
}

// Status is a point-in-time copy of the oven state.
type Status struct {
	Phase          logic.Phase
	Active         bool
	Elapsed        time.Duration
	Total          time.Duration
	TemperatureC   float64
	ResistanceOhms float64
	RawAverage     float64
	SetpointC      float64
	Duty           float64
	RelayOn        bool
	Tunings        logic.Tunings
	Profile        string
	Counts         logic.RunCounts
}

// Oven orchestrates one heating run at a time.
type Oven struct {
	cfg    Config
	reader adc.Reader
	relay  gpio.Relay
	logger logrus.FieldLogger

	filter *logic.Filter
	seq    *logic.Sequencer
	pid    *logic.PID
	pwm    *logic.SlowPWM

	profile logic.Profile
	active  bool
	counts  logic.RunCounts

	relayKnown bool // relayOn reflects the pin
	relayOn    bool
	adcFailing bool
}

// New creates an idle oven. The relay is driven low on the first Tick.
func New(cfg Config, reader adc.Reader, relay gpio.Relay, profile logic.Profile, tunings logic.Tunings, logger logrus.FieldLogger) *Oven {
	pidCfg := cfg.PID
	pidCfg.Tunings = tunings
	return &Oven{
		cfg:     cfg,
		reader:  reader,
		relay:   relay,
		logger:  logger,
		filter:  logic.NewFilter(cfg.Thermistor, cfg.Samples, cfg.SampleInterval),
		seq:     logic.NewSequencer(),
		pid:     logic.NewPID(pidCfg),
		pwm:     logic.NewSlowPWM(cfg.PWM),
		profile: profile,
	}
}

// Start begins a run of the configured profile at now.
func (o *Oven) Start(now time.Time) ([]logic.Event, error) {
	if o.active {
		return nil, ErrRunActive
	}

	o.pid.Reset()
	o.pwm.Reset()
	entry := o.seq.Begin(now, o.profile)
	o.pid.SetSetpoint(o.seq.Setpoint())
	o.active = true
	o.counts.Started++

	start := entry
	start.Type = logic.EventStart
	events := o.withTemperature([]logic.Event{start, entry})

	o.logger.WithFields(logrus.Fields{
		"profile": o.profile.Name,
		"total":   o.profile.Total(),
		"temp_c":  o.filter.Reading().TemperatureC,
	}).Info("run started")
	if !o.filter.Sampled() {
		o.logger.Warn("no temperature reading yet, heater held off until the first sample")
	}
	return events, nil
}

// Stop ends the current run and forces the relay off. Stopping an idle oven
// is a no-op apart from re-asserting the relay low.
func (o *Oven) Stop(now time.Time) []logic.Event {
	var events []logic.Event
	if o.active {
		ev := o.seq.Halt(now)
		ev.Type = logic.EventStop
		events = o.withTemperature([]logic.Event{ev})
		o.counts.Stopped++
		o.logger.WithFields(logrus.Fields{
			"profile": ev.Profile,
			"elapsed": ev.Elapsed,
		}).Info("run stopped")
	} else {
		o.seq.Halt(now)
	}
	o.finish(now)
	return events
}

// Tick advances the loop to now. It never blocks.
func (o *Oven) Tick(now time.Time) []logic.Event {
	if o.filter.Due(now) {
		o.sample(now)
	}

	var events []logic.Event
	if o.active {
		events = o.withTemperature(o.seq.Advance(now))
		for _, ev := range events {
			o.logger.WithFields(logrus.Fields{
				"phase":      ev.Phase,
				"setpoint_c": ev.SetpointC,
				"temp_c":     ev.TemperatureC,
			}).Info("phase entered")
		}
		if o.seq.Phase() == logic.PhaseDone {
			o.counts.Completed++
			o.logger.WithField("profile", o.profile.Name).Info("run complete")
			o.finish(now)
		}
	}

	if o.active && o.overTemp() {
		ev := o.seq.Halt(now)
		ev.Type = logic.EventOverTemp
		events = append(events, o.withTemperature([]logic.Event{ev})...)
		o.counts.Faulted++
		o.logger.WithFields(logrus.Fields{
			"temp_c": o.filter.Reading().TemperatureC,
			"max_c":  o.cfg.MaxTempC,
		}).Error("over-temperature, run aborted")
		o.finish(now)
	}

	if o.active {
		o.pid.SetSetpoint(o.seq.Setpoint())
		if !o.filter.Sampled() {
			// Nothing measured yet: the floor placeholder would read as cold.
			o.pwm.SetDuty(0)
		} else if o.pid.Due(now) {
			o.pwm.SetDuty(o.pid.Compute(now, o.filter.Reading().TemperatureC))
		}
	}

	o.drive(o.pwm.Update(now, o.active))
	return events
}

// Status returns a snapshot of the oven state at now.
func (o *Oven) Status(now time.Time) Status {
	reading := o.filter.Reading()
	act := o.pwm.State()

	profile := o.profile
	if o.seq.Phase() != logic.PhaseIdle {
		profile = o.seq.Profile()
	}

	return Status{
		Phase:          o.seq.Phase(),
		Active:         o.active,
		Elapsed:        o.seq.Elapsed(now),
		Total:          profile.Total(),
		TemperatureC:   reading.TemperatureC,
		ResistanceOhms: reading.ResistanceOhms,
		RawAverage:     reading.RawAverage,
		SetpointC:      o.seq.Setpoint(),
		Duty:           act.Duty,
		RelayOn:        o.relayKnown && o.relayOn,
		Tunings:        o.pid.Tunings(),
		Profile:        profile.Name,
		Counts:         o.counts,
	}
}

// SetProfile replaces the profile used by the next run.
func (o *Oven) SetProfile(p logic.Profile) error {
	if o.active {
		return ErrRunActive
	}
	if err := p.Validate(); err != nil {
		return err
	}
	o.profile = p
	return nil
}

// SetTunings replaces the PID gains. The integral is kept.
func (o *Oven) SetTunings(t logic.Tunings) error {
	if o.active {
		return ErrRunActive
	}
	if err := ValidateTunings(t); err != nil {
		return err
	}
	o.pid.SetTunings(t)
	return nil
}

// ValidateTunings rejects negative or non-finite gains.
func ValidateTunings(t logic.Tunings) error {
	for name, v := range map[string]float64{"kp": t.Kp, "ki": t.Ki, "kd": t.Kd} {
		if !(v >= 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s %v", ErrInvalidTunings, name, v)
		}
	}
	return nil
}

// Profile returns the profile used by the next run.
func (o *Oven) Profile() logic.Profile {
	return o.profile
}

// Tunings returns the active PID gains.
func (o *Oven) Tunings() logic.Tunings {
	return o.pid.Tunings()
}

// Active reports whether a run is in progress.
func (o *Oven) Active() bool {
	return o.active
}

// Counts returns how many runs started and how they ended.
func (o *Oven) Counts() logic.RunCounts {
	return o.counts
}

// Reading returns the latest filtered thermistor value.
func (o *Oven) Reading() logic.ThermalReading {
	return o.filter.Reading()
}

func (o *Oven) sample(now time.Time) {
	raw, err := o.reader.Read()
	if err != nil {
		if !o.adcFailing {
			o.logger.Warnf("adc read error: %v", err)
			o.adcFailing = true
		}
		return
	}
	if o.adcFailing {
		o.logger.Info("adc read recovered")
		o.adcFailing = false
	}
	o.filter.Sample(now, raw)
}

func (o *Oven) overTemp() bool {
	return o.cfg.MaxTempC > 0 && o.filter.Reading().TemperatureC > o.cfg.MaxTempC
}

// finish leaves the run with the heater off. The sequencer keeps its phase
// (Idle after Stop, Done after completion).
func (o *Oven) finish(now time.Time) {
	o.active = false
	o.pid.Reset()
	o.pid.SetSetpoint(0)
	o.pwm.Reset()
	o.drive(o.pwm.Update(now, false))
}

// drive writes the relay level when it changes.
func (o *Oven) drive(on bool) {
	if o.relayKnown && on == o.relayOn {
		return
	}
	if err := o.relay.Set(on); err != nil {
		o.logger.Errorf("relay write error: %v", err)
		// Unknown level: retry on the next tick.
		o.relayKnown = false
		return
	}
	o.relayOn = on
	o.relayKnown = true
}

func (o *Oven) withTemperature(events []logic.Event) []logic.Event {
	temp := o.filter.Reading().TemperatureC
	for i := range events {
		events[i].TemperatureC = temp
	}
	return events
}
