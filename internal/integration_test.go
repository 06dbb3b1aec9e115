package internal

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/reflow-controller/internal/logic"
	"github.com/sweeney/reflow-controller/internal/mqtt"
	"github.com/sweeney/reflow-controller/internal/oven"
	"github.com/sweeney/reflow-controller/internal/profile"
	"github.com/sweeney/reflow-controller/internal/status"
	"github.com/sweeney/reflow-controller/internal/store"
	"github.com/sweeney/reflow-controller/internal/web"
)

var startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// plant is a lumped thermal model of the oven: the heater adds heat while
// the relay is on and the chamber loses heat to ambient. It serves as both
// the relay and the ADC.
type plant struct {
	mu       sync.Mutex
	cfg      logic.ThermistorConfig
	tempC    float64
	ambientC float64
	heatRate float64 // C/s at full power
	loss     float64 // 1/s
	on       bool
	switches int
	peakC    float64
}

func newPlant() *plant {
	return &plant{
		cfg:      logic.DefaultThermistor(),
		tempC:    20,
		ambientC: 20,
		heatRate: 2,
		loss:     0.01,
		peakC:    20,
	}
}

func (p *plant) Set(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on != p.on {
		p.switches++
	}
	p.on = on
	return nil
}

func (p *plant) Close() error {
	return p.Set(false)
}

// Read returns the divider count the thermistor would produce at the
// current temperature.
func (p *plant) Read() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := p.tempC + 273.15
	t0 := p.cfg.NominalTemp + 273.15
	ohms := p.cfg.NominalResistance * math.Exp(p.cfg.Beta*(1/k-1/t0))
	return int(math.Round(p.cfg.ADCMax * ohms / (ohms + p.cfg.SeriesResistance))), nil
}

func (p *plant) step(dt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := dt.Seconds()
	if p.on {
		p.tempC += p.heatRate * s
	}
	p.tempC -= p.loss * (p.tempC - p.ambientC) * s
	p.peakC = math.Max(p.peakC, p.tempC)
}

func (p *plant) temperature() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tempC
}

// simulate ticks o every step for span, advancing the plant in between.
func simulate(o *oven.Oven, p *plant, from time.Time, span, step time.Duration) []logic.Event {
	var events []logic.Event
	for d := time.Duration(0); d < span; d += step {
		events = append(events, o.Tick(from.Add(d))...)
		p.step(step)
	}
	return events
}

func TestIntegrationClosedLoopHoldsPreheat(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := newPlant()
	prof := logic.DefaultProfile()
	prof.PreheatDuration = 90 * time.Second

	o := oven.New(oven.DefaultConfig(), p, p, prof, logic.DefaultTunings(), logger)
	_, err := o.Start(startTime)
	require.NoError(t, err)

	simulate(o, p, startTime, 80*time.Second, 10*time.Millisecond)

	require.Equal(t, logic.PhasePreheat, o.Status(startTime.Add(80*time.Second)).Phase)
	assert.InDelta(t, prof.PreheatTemp, p.temperature(), 15, "holds near the preheat setpoint")
	assert.InDelta(t, p.temperature(), o.Reading().TemperatureC, 1, "filtered reading tracks the chamber")
	assert.Less(t, p.peakC, prof.PreheatTemp+20, "bounded overshoot")
	assert.Greater(t, p.switches, 2, "relay cycles once at temperature")
}

func TestIntegrationFullRunPublishesPayloads(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := newPlant()
	prof := logic.Profile{
		Name:             "quick",
		PreheatTemp:      40,
		PreheatDuration:  10 * time.Second,
		SoakTemp:         50,
		SoakDuration:     5 * time.Second,
		ReflowTemp:       60,
		ReflowDuration:   5 * time.Second,
		CooldownTemp:     25,
		CooldownDuration: 5 * time.Second,
	}
	o := oven.New(oven.DefaultConfig(), p, p, prof, logic.DefaultTunings(), logger)
	pub := mqtt.NewFakePublisher()

	events, err := o.Start(startTime)
	require.NoError(t, err)
	events = append(events, simulate(o, p, startTime, 30*time.Second, 10*time.Millisecond)...)
	for _, ev := range events {
		require.NoError(t, pub.Publish(ev))
	}

	assert.Equal(t, []logic.EventType{
		logic.EventStart, logic.EventPreheat, logic.EventSoak,
		logic.EventReflow, logic.EventCooldown, logic.EventDone,
	}, pub.EventTypes())
	assert.False(t, o.Active())
	assert.False(t, p.on, "relay low after completion")

	var reflow mqtt.Payload
	require.NoError(t, json.Unmarshal(pub.Payloads[3], &reflow))
	assert.Equal(t, "REFLOW", reflow.Oven.Event)
	assert.Equal(t, "quick", reflow.Oven.Profile)
	assert.Equal(t, 60.0, reflow.Oven.SetpointC)
	assert.Greater(t, reflow.Oven.ElapsedMs, int64(15000))
	assert.Greater(t, reflow.Oven.TemperatureC, 30.0)
}

// runOwner is the single goroutine that owns o, as the daemon's loop does.
func runOwner(ctx context.Context, o *oven.Oven, mb *oven.Mailbox, tr *status.Tracker, p *plant) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.Stop(time.Now())
			return
		case cmd := <-mb.C():
			o.Handle(time.Now(), cmd)
			tr.Update(o.Status(time.Now()))
		case <-ticker.C:
			o.Tick(time.Now())
			p.step(5 * time.Millisecond)
			tr.Update(o.Status(time.Now()))
		}
	}
}

func TestIntegrationHTTPControlsOven(t *testing.T) {
	logger, _ := test.NewNullLogger()

	db, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Seed(nil, logic.DefaultTunings()))

	active, err := db.ActiveProfile()
	require.NoError(t, err)
	tunings, err := db.Tunings()
	require.NoError(t, err)

	p := newPlant()
	o := oven.New(oven.DefaultConfig(), p, p, active, tunings, logger)
	tr := status.NewTracker(time.Now(), status.Config{})
	mb := oven.NewMailbox(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runOwner(ctx, o, mb, tr, p)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	ts := httptest.NewServer(web.New(":0", tr, mb, db, logger).Handler())
	defer ts.Close()

	post := func(path, body string) int {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	put := func(path, body string) int {
		req, err := http.NewRequest(http.MethodPut, ts.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post("/api/start", ""))
	assert.Eventually(t, func() bool {
		return tr.Snapshot().Oven.Phase == logic.PhasePreheat
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusConflict, post("/api/start", ""))
	assert.Equal(t, http.StatusConflict, put("/api/tunings", `{"kp":1,"ki":0,"kd":0}`))

	assert.Equal(t, http.StatusOK, post("/api/stop", ""))
	assert.Eventually(t, func() bool {
		snap := tr.Snapshot()
		return snap.Oven.Phase == logic.PhaseIdle && !snap.Oven.RelayOn
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusOK, put("/api/tunings", `{"kp":1,"ki":0.5,"kd":0}`))
	stored, err := db.Tunings()
	require.NoError(t, err)
	assert.Equal(t, logic.Tunings{Kp: 1, Ki: 0.5}, stored)
	assert.Eventually(t, func() bool {
		return tr.Snapshot().Oven.Tunings == stored
	}, time.Second, 5*time.Millisecond)

	counts := tr.Snapshot().Oven.Counts
	assert.Equal(t, logic.RunCounts{Started: 1, Stopped: 1}, counts)
}

func TestIntegrationProfileLibrarySeedsStore(t *testing.T) {
	logger, _ := test.NewNullLogger()
	profiles, err := profile.Parse([]byte(`
profiles:
  - name: leaded
    preheat:  {temp_c: 100, duration_ms: 120000}
    soak:     {temp_c: 150, duration_ms: 60000}
    reflow:   {temp_c: 230, duration_ms: 120000}
    cooldown: {temp_c: 25,  duration_ms: 120000}
  - name: sac305
    preheat:  {temp_c: 150, duration_ms: 90000}
    soak:     {temp_c: 180, duration_ms: 90000}
    reflow:   {temp_c: 245, duration_ms: 60000}
    cooldown: {temp_c: 25,  duration_ms: 120000}
`))
	require.NoError(t, err)

	db, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Seed(profiles, logic.DefaultTunings()))

	all, err := db.Profiles()
	require.NoError(t, err)
	assert.Equal(t, profiles, all)

	active, err := db.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, "leaded", active.Name)

	// A second boot never overwrites edits.
	edited := profiles[1]
	edited.ReflowTemp = 250
	require.NoError(t, db.SaveProfile(edited))
	require.NoError(t, db.Seed(profiles, logic.Tunings{Kp: 9}))

	got, err := db.Profile("sac305")
	require.NoError(t, err)
	assert.Equal(t, 250.0, got.ReflowTemp)
	tunings, err := db.Tunings()
	require.NoError(t, err)
	assert.Equal(t, logic.DefaultTunings(), tunings)
}
