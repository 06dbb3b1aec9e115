package gpio

import "errors"

// FakeRelay records relay levels for tests.
type FakeRelay struct {
	// On is the current level.
	On bool

	// Transitions counts level changes.
	Transitions int

	// History holds every level written, in order.
	History []bool

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// NewFakeRelay creates a released relay.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// Set records the level.
func (f *FakeRelay) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	if on != f.On {
		f.Transitions++
	}
	f.On = on
	f.History = append(f.History, on)
	return nil
}

// Close forces the relay off and marks it closed.
func (f *FakeRelay) Close() error {
	f.On = false
	f.Closed = true
	return nil
}

// Sample represents a single button reading (already in logical form).
type Sample struct {
	Start bool // true = pressed
	Stop  bool // true = pressed
}

// FakeButtons is a test double that returns scripted button states.
type FakeButtons struct {
	// Samples contains scripted values to return.
	// Each call to Read() consumes the next sample.
	Samples []Sample

	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeButtons creates a FakeButtons with the given samples.
func NewFakeButtons(samples ...Sample) *FakeButtons {
	return &FakeButtons{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeButtons) Read() (bool, bool, error) {
	if f.ReadError != nil {
		return false, false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample.Start, sample.Stop, nil
}

// Close marks the buttons as closed.
func (f *FakeButtons) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds to the first sample.
func (f *FakeButtons) Reset() {
	f.index = 0
	f.Closed = false
}
