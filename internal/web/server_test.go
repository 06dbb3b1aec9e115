package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/reflow-controller/internal/logic"
	"github.com/sweeney/reflow-controller/internal/oven"
	"github.com/sweeney/reflow-controller/internal/status"
	"github.com/sweeney/reflow-controller/internal/store"
)

// fakeCommander records mutations the way the control loop would see them.
type fakeCommander struct {
	mu      sync.Mutex
	active  bool
	ops     []oven.Op
	profile logic.Profile
	tunings logic.Tunings
}

func (f *fakeCommander) record(op oven.Op) {
	f.ops = append(f.ops, op)
}

func (f *fakeCommander) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(oven.OpStart)
	if f.active {
		return oven.ErrRunActive
	}
	f.active = true
	return nil
}

func (f *fakeCommander) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(oven.OpStop)
	f.active = false
	return nil
}

func (f *fakeCommander) SetProfile(ctx context.Context, p logic.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(oven.OpSetProfile)
	if f.active {
		return oven.ErrRunActive
	}
	f.profile = p
	return nil
}

func (f *fakeCommander) SetTunings(ctx context.Context, t logic.Tunings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(oven.OpSetTunings)
	if err := oven.ValidateTunings(t); err != nil {
		return err
	}
	if f.active {
		return oven.ErrRunActive
	}
	f.tunings = t
	return nil
}

func (f *fakeCommander) Ops() []oven.Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]oven.Op(nil), f.ops...)
}

type testEnv struct {
	ts      *httptest.Server
	tracker *status.Tracker
	cmd     *fakeCommander
	store   *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, _ := test.NewNullLogger()

	st, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Seed(nil, logic.DefaultTunings()))

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := status.NewTracker(start, status.Config{
		SampleMs:    10,
		ControlMs:   1000,
		PWMPeriodMs: 500,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":80",
	})
	tr.SetClock(func() time.Time { return start.Add(90 * time.Second) })

	cmd := &fakeCommander{}
	srv := New(":0", tr, cmd, st, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, tracker: tr, cmd: cmd, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, Response) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func profileBody(reflowTemp float64) map[string]any {
	stage := func(temp float64, ms int64) map[string]any {
		return map[string]any{"temp_c": temp, "duration_ms": ms}
	}
	return map[string]any{
		"preheat":  stage(150, 90000),
		"soak":     stage(180, 90000),
		"reflow":   stage(reflowTemp, 60000),
		"cooldown": stage(25, 120000),
	}
}

func TestJSONEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.Update(oven.Status{
		Phase:        logic.PhaseSoak,
		Active:       true,
		Profile:      "default",
		Elapsed:      130 * time.Second,
		TemperatureC: 148.26,
		SetpointC:    150,
		Duty:         0.4,
		Counts:       logic.RunCounts{Started: 3, Completed: 1},
	})
	env.tracker.SetMQTTConnected(true)

	resp, err := http.Get(env.ts.URL + "/index.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var sj status.StatusJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sj))
	assert.True(t, sj.Status.Ready)
	assert.True(t, sj.Status.MQTT.Connected)
	assert.Equal(t, "SOAK", sj.Status.Oven.Phase)
	assert.Equal(t, 148.3, sj.Status.Oven.TemperatureC)
	assert.Equal(t, int64(130000), sj.Status.Oven.ElapsedMs)
	assert.Equal(t, 3, sj.Status.Counts.Started)
	assert.Equal(t, int64(90), sj.Status.UptimeSeconds)
	assert.Equal(t, int64(500), sj.Status.Config.PWMPeriodMs)
}

func TestMonitorEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.Update(oven.Status{Phase: logic.PhaseReflow, Active: true, TemperatureC: 221.04, SetpointC: 230, RelayOn: true})

	resp, err := http.Get(env.ts.URL + "/api/monitor")
	require.NoError(t, err)
	defer resp.Body.Close()

	var m status.MonitorJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, "REFLOW", m.Phase)
	assert.Equal(t, 221.0, m.TemperatureC)
	assert.Equal(t, 230.0, m.SetpointC)
	assert.True(t, m.RelayOn)
}

func TestHTMLEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.Update(oven.Status{Phase: logic.PhasePreheat, Active: true, Profile: "default", TemperatureC: 87.5})

	for _, path := range []string{"/", "/index.html"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(env.ts.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), "Reflow Oven")
			assert.Contains(t, string(body), "PREHEAT")
			assert.Contains(t, string(body), "87.5")
			assert.Contains(t, string(body), "1m 30s")
		})
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartAndStop(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/start", nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, http.MethodPost, "/api/start", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, resp.Err, "run active")

	code, _ = env.do(t, http.MethodPost, "/api/stop", nil)
	assert.Equal(t, http.StatusOK, code)

	assert.Equal(t, []oven.Op{oven.OpStart, oven.OpStart, oven.OpStop}, env.cmd.Ops())
}

func TestListProfilesMarksActive(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodPut, "/api/profiles/sac305", profileBody(245))
	require.Equal(t, http.StatusOK, code)

	resp, err := http.Get(env.ts.URL + "/api/profiles")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Data []ProfileJSON `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Data, 2)
	byName := map[string]ProfileJSON{}
	for _, p := range out.Data {
		byName[p.Name] = p
	}
	assert.True(t, byName[logic.DefaultProfile().Name].Active)
	assert.False(t, byName["sac305"].Active)
	assert.Equal(t, 245.0, *byName["sac305"].Reflow.TempC)
}

func TestPutProfileValidation(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPut, "/api/profiles/hot", profileBody(400))
	assert.Equal(t, http.StatusBadRequest, code)

	body := profileBody(245)
	delete(body, "soak")
	code, _ = env.do(t, http.MethodPut, "/api/profiles/partial", body)
	assert.Equal(t, http.StatusBadRequest, code)

	_, err := env.store.Profile("hot")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutProfileRejectsOversizedDuration(t *testing.T) {
	env := newTestEnv(t)

	body := profileBody(245)
	body["preheat"] = map[string]any{"temp_c": 150, "duration_ms": int64(18446744073710)}
	code, _ := env.do(t, http.MethodPut, "/api/profiles/forever", body)
	assert.Equal(t, http.StatusBadRequest, code)

	_, err := env.store.Profile("forever")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutActiveProfileRejectedDuringRun(t *testing.T) {
	env := newTestEnv(t)
	name := logic.DefaultProfile().Name
	env.do(t, http.MethodPost, "/api/start", nil)

	code, _ := env.do(t, http.MethodPut, "/api/profiles/"+name, profileBody(240))
	assert.Equal(t, http.StatusConflict, code)

	p, err := env.store.Profile(name)
	require.NoError(t, err)
	assert.Equal(t, logic.DefaultProfile().ReflowTemp, p.ReflowTemp, "stored profile unchanged")
}

func TestPutActiveProfileUpdatesOven(t *testing.T) {
	env := newTestEnv(t)
	name := logic.DefaultProfile().Name

	code, _ := env.do(t, http.MethodPut, "/api/profiles/"+name, profileBody(240))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 240.0, env.cmd.profile.ReflowTemp)
}

func TestGetAndDeleteProfile(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/api/profiles/sac305", profileBody(245))

	code, resp := env.do(t, http.MethodGet, "/api/profiles/sac305", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.NotNil(t, resp.Data)

	code, _ = env.do(t, http.MethodDelete, "/api/profiles/sac305", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodGet, "/api/profiles/sac305", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodDelete, "/api/profiles/"+logic.DefaultProfile().Name, nil)
	assert.Equal(t, http.StatusConflict, code, "active profile cannot be deleted")
}

func TestActivateProfile(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/api/profiles/sac305", profileBody(245))

	code, _ := env.do(t, http.MethodPost, "/api/profiles/missing/activate", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodPost, "/api/profiles/sac305/activate", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sac305", env.cmd.profile.Name)

	active, err := env.store.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, "sac305", active.Name)
}

func TestActivateProfileRejectedDuringRun(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/api/profiles/sac305", profileBody(245))
	env.do(t, http.MethodPost, "/api/start", nil)

	code, _ := env.do(t, http.MethodPost, "/api/profiles/sac305/activate", nil)
	assert.Equal(t, http.StatusConflict, code)

	active, err := env.store.ActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, logic.DefaultProfile().Name, active.Name)
}

func TestPutTunings(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPut, "/api/tunings", map[string]float64{"kp": 0.03, "ki": 0.0001, "kd": 0.2})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, logic.Tunings{Kp: 0.03, Ki: 0.0001, Kd: 0.2}, env.cmd.tunings)

	stored, err := env.store.Tunings()
	require.NoError(t, err)
	assert.Equal(t, env.cmd.tunings, stored)
}

func TestPutTuningsRejected(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPut, "/api/tunings", map[string]float64{"kp": -1, "ki": 0, "kd": 0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPut, "/api/tunings", map[string]float64{"kp": 1})
	assert.Equal(t, http.StatusBadRequest, code, "missing gains")

	env.do(t, http.MethodPost, "/api/start", nil)
	code, _ = env.do(t, http.MethodPut, "/api/tunings", map[string]float64{"kp": 1, "ki": 0, "kd": 0})
	assert.Equal(t, http.StatusConflict, code)

	stored, err := env.store.Tunings()
	require.NoError(t, err)
	assert.Equal(t, logic.DefaultTunings(), stored)
}

func TestGetTuningsFromTracker(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.Update(oven.Status{Tunings: logic.Tunings{Kp: 0.05, Ki: 0.001, Kd: 0.5}})

	resp, err := http.Get(env.ts.URL + "/api/tunings")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Data TuningsJSON `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 0.05, *out.Data.Kp)
	assert.Equal(t, 0.5, *out.Data.Kd)
}
