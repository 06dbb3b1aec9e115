package logic

import "time"

// Sequencer maps elapsed run time onto profile phases. It only ever moves
// forward: Preheat, Soak, Reflow, Cooldown, Done.
type Sequencer struct {
	profile  Profile
	phase    Phase
	setpoint float64
	start    time.Time
	end      time.Time
}

// NewSequencer creates an idle sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{phase: PhaseIdle}
}

// Begin starts a run of profile at now. The profile is copied and stays
// fixed until the run ends.
func (s *Sequencer) Begin(now time.Time, profile Profile) Event {
	s.profile = profile
	s.start = now
	s.phase = PhasePreheat
	s.setpoint = profile.PreheatTemp
	return s.event(now, EventPreheat)
}

// Advance re-evaluates the phase for now and returns one event per phase
// entered, in order. Phases skipped by a coarse tick are still reported.
func (s *Sequencer) Advance(now time.Time) []Event {
	if s.phase == PhaseIdle || s.phase == PhaseDone {
		return nil
	}

	next, setpoint := s.profile.PhaseAt(s.Elapsed(now))
	if next <= s.phase {
		// Same phase, or a clock that stepped backwards.
		return nil
	}

	var events []Event
	for p := s.phase + 1; p <= next; p++ {
		s.phase = p
		s.setpoint = s.profile.Setpoint(p)
		if p == PhaseDone {
			s.end = now
		}
		events = append(events, s.event(now, entryEvent(p)))
	}
	s.setpoint = setpoint
	return events
}

// Halt forces the sequencer back to Idle regardless of elapsed time. The
// returned event describes the phase that was left; the caller sets its type.
func (s *Sequencer) Halt(now time.Time) Event {
	left := s.event(now, "")
	s.phase = PhaseIdle
	s.setpoint = 0
	s.start = time.Time{}
	s.end = time.Time{}
	return left
}

// Phase returns the active phase.
func (s *Sequencer) Phase() Phase {
	return s.phase
}

// Setpoint returns the target temperature of the active phase.
func (s *Sequencer) Setpoint() float64 {
	return s.setpoint
}

// Elapsed returns time since the run began, zero when idle, and the final
// run length once Done.
func (s *Sequencer) Elapsed(now time.Time) time.Duration {
	switch s.phase {
	case PhaseIdle:
		return 0
	case PhaseDone:
		return s.end.Sub(s.start)
	}
	return now.Sub(s.start)
}

// Profile returns the profile of the current or last run.
func (s *Sequencer) Profile() Profile {
	return s.profile
}

func (s *Sequencer) event(now time.Time, t EventType) Event {
	return Event{
		Timestamp: now,
		Type:      t,
		Phase:     s.phase,
		Elapsed:   s.Elapsed(now),
		SetpointC: s.setpoint,
		Profile:   s.profile.Name,
	}
}
