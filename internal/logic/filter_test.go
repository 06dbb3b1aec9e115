package logic

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleBufferPrimesOnFirstInsert(t *testing.T) {
	b := NewSampleBuffer(5)
	b.Insert(2000)
	assert.Equal(t, 2000.0, b.Mean())
	assert.Equal(t, 5, b.Len())
}

func TestSampleBufferOverwritesOldest(t *testing.T) {
	b := NewSampleBuffer(3)
	b.Insert(30) // primes [30 30 30]
	b.Insert(60) // [30 60 30]
	b.Insert(90) // [30 60 90]
	assert.InDelta(t, 60.0, b.Mean(), 1e-9)

	b.Insert(0) // oldest (30) replaced: [0 60 90]
	assert.InDelta(t, 50.0, b.Mean(), 1e-9)
}

func TestSampleBufferMinimumCapacity(t *testing.T) {
	b := NewSampleBuffer(0)
	require.Equal(t, 1, b.Len())
	b.Insert(7)
	b.Insert(9)
	assert.Equal(t, 9.0, b.Mean())
}

func TestTemperatureAtNominalResistance(t *testing.T) {
	cfg := DefaultThermistor()
	assert.InDelta(t, 25.0, Temperature(cfg, cfg.NominalResistance), 0.01)
}

func TestResistanceFromMean(t *testing.T) {
	cfg := DefaultThermistor()
	// Mid-scale reading: the thermistor equals the series resistor.
	got := Resistance(cfg, cfg.ADCMax/2)
	assert.InDelta(t, cfg.SeriesResistance, got, 1e-6)
}

func TestTemperatureMonotonicInResistance(t *testing.T) {
	cfg := DefaultThermistor()
	cfg.FloorC = -100
	hot := Temperature(cfg, 1000)
	cold := Temperature(cfg, 100000)
	assert.Greater(t, hot, cold, "NTC: lower resistance must read hotter")
}

func TestTemperatureFloorClamp(t *testing.T) {
	cfg := DefaultThermistor()
	// Far above nominal resistance is well below 20C.
	assert.Equal(t, cfg.FloorC, Temperature(cfg, 10*cfg.NominalResistance))
}

func TestConversionTotalForAdversarialInputs(t *testing.T) {
	cfg := DefaultThermistor()
	inputs := []float64{0, -5, 1, cfg.ADCMax, cfg.ADCMax + 100, math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, mean := range inputs {
		r := Resistance(cfg, mean)
		c := Temperature(cfg, r)
		assert.False(t, math.IsNaN(r) || math.IsInf(r, 0), "resistance for mean %v: %v", mean, r)
		assert.False(t, math.IsNaN(c) || math.IsInf(c, 0), "temperature for mean %v: %v", mean, c)
	}
}

func TestFilterTotalForRepeatedExtremes(t *testing.T) {
	cfg := DefaultThermistor()
	for _, raw := range []int{0, int(cfg.ADCMax), -1, 1 << 20} {
		f := NewFilter(cfg, 5, 10*time.Millisecond)
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 12; i++ {
			r := f.Sample(now.Add(time.Duration(i)*10*time.Millisecond), raw)
			assert.False(t, math.IsNaN(r.TemperatureC) || math.IsInf(r.TemperatureC, 0), "raw %d", raw)
			assert.False(t, math.IsNaN(r.ResistanceOhms) || math.IsInf(r.ResistanceOhms, 0), "raw %d", raw)
		}
	}
}

func TestFilterFullScaleReadsAsFloor(t *testing.T) {
	cfg := DefaultThermistor()
	f := NewFilter(cfg, 5, 10*time.Millisecond)
	r := f.Sample(time.Time{}, int(cfg.ADCMax))
	assert.Equal(t, cfg.FloorC, r.TemperatureC)
}

func TestFilterDue(t *testing.T) {
	f := NewFilter(DefaultThermistor(), 5, 10*time.Millisecond)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, f.Due(now), "first sample is always due")
	f.Sample(now, 2000)
	assert.False(t, f.Due(now.Add(9*time.Millisecond)))
	assert.True(t, f.Due(now.Add(10*time.Millisecond)))
}

func TestFilterReadingBeforeFirstSample(t *testing.T) {
	cfg := DefaultThermistor()
	f := NewFilter(cfg, 5, 10*time.Millisecond)
	assert.Equal(t, cfg.FloorC, f.Reading().TemperatureC)
	assert.False(t, f.Sampled())

	f.Sample(time.Time{}, 2000)
	assert.True(t, f.Sampled())
}

func TestFilterAveragesSamples(t *testing.T) {
	cfg := DefaultThermistor()
	f := NewFilter(cfg, 4, 10*time.Millisecond)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	f.Sample(now, 1000)
	f.Sample(now, 1000)
	f.Sample(now, 1000)
	r := f.Sample(now, 3000)
	// [1000 1000 1000 3000] after priming with 1000.
	assert.InDelta(t, 1500.0, r.RawAverage, 1e-9)
	assert.InDelta(t, Resistance(cfg, 1500), r.ResistanceOhms, 1e-9)
	assert.Equal(t, r, f.Reading())
}
