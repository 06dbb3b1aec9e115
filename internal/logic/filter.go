package logic

import (
	"math"
	"time"
)

const (
	kelvinOffset = 273.15

	// Substitutes that keep the resistance conversion total.
	minMean    = 1.0
	minDivisor = 0.0001

	// Upper bound reported for a shorted or saturated thermistor.
	shortedC = 1000.0
)

// ThermistorConfig describes the divider and NTC thermistor wired to the ADC.
type ThermistorConfig struct {
	SeriesResistance  float64 // ohms, the fixed divider resistor
	NominalResistance float64 // ohms at NominalTemp
	NominalTemp       float64 // celsius
	Beta              float64
	ADCMax            float64 // full-scale ADC count
	FloorC            float64 // readings below this are clamped up to it
}

// DefaultThermistor matches the 100k NTC and 5k45 divider on the oven board.
func DefaultThermistor() ThermistorConfig {
	return ThermistorConfig{
		SeriesResistance:  5450,
		NominalResistance: 100000,
		NominalTemp:       25,
		Beta:              4267,
		ADCMax:            4095,
		FloorC:            20,
	}
}

// ThermalReading is the latest filtered sensor value.
type ThermalReading struct {
	RawAverage     float64
	ResistanceOhms float64
	TemperatureC   float64
}

// SampleBuffer is a fixed ring of raw ADC readings. The first insert primes
// every slot so the mean is never diluted by unset zeros.
type SampleBuffer struct {
	slots  []int
	cursor int
	primed bool
}

// NewSampleBuffer allocates a ring of n slots (minimum 1).
func NewSampleBuffer(n int) *SampleBuffer {
	if n < 1 {
		n = 1
	}
	return &SampleBuffer{slots: make([]int, n)}
}

// Insert overwrites the oldest slot.
func (b *SampleBuffer) Insert(raw int) {
	if !b.primed {
		for i := range b.slots {
			b.slots[i] = raw
		}
		b.primed = true
		b.cursor = 1 % len(b.slots)
		return
	}
	b.slots[b.cursor] = raw
	b.cursor = (b.cursor + 1) % len(b.slots)
}

// Mean averages all slots.
func (b *SampleBuffer) Mean() float64 {
	sum := 0
	for _, v := range b.slots {
		sum += v
	}
	return float64(sum) / float64(len(b.slots))
}

// Len returns the ring capacity.
func (b *SampleBuffer) Len() int {
	return len(b.slots)
}

// Resistance converts a mean ADC count into thermistor resistance.
func Resistance(cfg ThermistorConfig, mean float64) float64 {
	if !(mean > 0) {
		mean = minMean
	}
	div := cfg.ADCMax/mean - 1
	if !(div > 0) {
		div = minDivisor
	}
	return cfg.SeriesResistance / div
}

// Temperature converts thermistor resistance to celsius with the Beta form of
// Steinhart-Hart, clamped up to cfg.FloorC.
func Temperature(cfg ThermistorConfig, ohms float64) float64 {
	if !(ohms > 0) {
		ohms = minDivisor
	}
	inv := 1/(cfg.NominalTemp+kelvinOffset) + math.Log(ohms/cfg.NominalResistance)/cfg.Beta
	if !(inv > 0) {
		// A shorted thermistor reads as very hot, never as cold.
		return shortedC
	}
	c := 1/inv - kelvinOffset
	if math.IsNaN(c) || c < cfg.FloorC {
		return cfg.FloorC
	}
	if c > shortedC {
		return shortedC
	}
	return c
}

// Filter rate-limits ADC sampling and keeps the moving average.
type Filter struct {
	cfg      ThermistorConfig
	interval time.Duration
	buf      *SampleBuffer
	last     time.Time
	sampled  bool
	reading  ThermalReading
}

// NewFilter creates a filter averaging n samples taken at most every interval.
func NewFilter(cfg ThermistorConfig, n int, interval time.Duration) *Filter {
	return &Filter{
		cfg:      cfg,
		interval: interval,
		buf:      NewSampleBuffer(n),
		reading:  ThermalReading{TemperatureC: cfg.FloorC},
	}
}

// Due reports whether the sampling interval has elapsed since the last sample.
func (f *Filter) Due(now time.Time) bool {
	return !f.sampled || now.Sub(f.last) >= f.interval
}

// Sample inserts one raw ADC value and recomputes the reading.
func (f *Filter) Sample(now time.Time, raw int) ThermalReading {
	if raw < 0 {
		raw = 0
	}
	f.last = now
	f.sampled = true
	f.buf.Insert(raw)

	mean := f.buf.Mean()
	ohms := Resistance(f.cfg, mean)
	f.reading = ThermalReading{
		RawAverage:     mean,
		ResistanceOhms: ohms,
		TemperatureC:   Temperature(f.cfg, ohms),
	}
	return f.reading
}

// Sampled reports whether any ADC value has been taken. Until then Reading
// holds the floor placeholder, not a measurement.
func (f *Filter) Sampled() bool {
	return f.sampled
}

// Reading returns the latest filtered value.
func (f *Filter) Reading() ThermalReading {
	return f.reading
}
