package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/reflow-controller/internal/logic"
	"github.com/sweeney/reflow-controller/internal/oven"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		SampleMs:    10,
		ControlMs:   1000,
		PWMPeriodMs: 500,
		HeartbeatMs: 900000,
		Broker:      "tcp://localhost:1883",
		HTTPAddr:    ":80",
	}
}

func soakStatus() oven.Status {
	return oven.Status{
		Phase:          logic.PhaseSoak,
		Active:         true,
		Elapsed:        130 * time.Second,
		Total:          420 * time.Second,
		TemperatureC:   148.26,
		ResistanceOhms: 2210.4,
		RawAverage:     1178.6,
		SetpointC:      150,
		Duty:           0.4567,
		RelayOn:        true,
		Tunings:        logic.DefaultTunings(),
		Profile:        "default",
		Counts:         logic.RunCounts{Started: 3, Completed: 1, Stopped: 1},
	}
}

func fixedTracker() *Tracker {
	tr := NewTracker(start, testConfig())
	tr.SetClock(func() time.Time { return start.Add(90*time.Second + 400*time.Millisecond) })
	return tr
}

func TestNewTracker(t *testing.T) {
	tr := NewTracker(start, testConfig())

	snap := tr.Snapshot()
	assert.True(t, snap.StartTime.Equal(start))
	assert.Equal(t, testConfig(), snap.Config)
	assert.False(t, snap.Ready)
	assert.False(t, snap.MQTTConnected)
	assert.Equal(t, logic.PhaseIdle, snap.Oven.Phase)
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := fixedTracker()
	tr.Update(soakStatus())
	tr.SetMQTTConnected(true)

	snap := tr.Snapshot()
	assert.True(t, snap.Ready)
	assert.True(t, snap.MQTTConnected)
	assert.Equal(t, soakStatus(), snap.Oven)
	assert.Equal(t, 90*time.Second+400*time.Millisecond, snap.Uptime())

	tr.SetMQTTConnected(false)
	assert.False(t, tr.Snapshot().MQTTConnected)
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := fixedTracker()
	tr.Update(soakStatus())

	snap := tr.Snapshot()
	snap.Oven.Phase = logic.PhaseDone
	snap.Config.Broker = "changed"

	again := tr.Snapshot()
	assert.Equal(t, logic.PhaseSoak, again.Oven.Phase)
	assert.Equal(t, "tcp://localhost:1883", again.Config.Broker)
}

func TestFormatJSON(t *testing.T) {
	tr := fixedTracker()
	tr.Update(soakStatus())

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatJSON(tr.Snapshot()), &parsed))
	s := parsed.Status

	assert.Empty(t, s.Event)
	assert.True(t, s.Ready)
	assert.Equal(t, int64(90), s.UptimeSeconds)
	assert.Equal(t, "2026-01-01T00:00:00Z", s.StartTime)
	assert.Equal(t, "2026-01-01T00:01:30Z", s.Timestamp)
	assert.Equal(t, "tcp://localhost:1883", s.MQTT.Broker)

	assert.Equal(t, "SOAK", s.Oven.Phase)
	assert.Equal(t, int64(130000), s.Oven.ElapsedMs)
	assert.Equal(t, int64(420000), s.Oven.TotalMs)
	assert.Equal(t, 148.3, s.Oven.TemperatureC)
	assert.Equal(t, 2210.0, s.Oven.ResistanceOhms)
	assert.Equal(t, 0.457, s.Oven.Duty)
	assert.Equal(t, TuningsJSON{Kp: 2, Ki: 5, Kd: 1}, s.Oven.Tunings)
	assert.Equal(t, CountsJSON{Started: 3, Completed: 1, Stopped: 1}, s.Counts)
	assert.Equal(t, int64(500), s.Config.PWMPeriodMs)
}

func TestFormatJSONOmitsDisabledCutout(t *testing.T) {
	data := FormatJSON(fixedTracker().Snapshot())
	assert.NotContains(t, string(data), "max_temp_c")
}

func TestFormatStatusEvent(t *testing.T) {
	tr := fixedTracker()
	tr.Update(soakStatus())

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM"), &parsed))
	assert.Equal(t, "SHUTDOWN", parsed.Status.Event)
	assert.Equal(t, "SIGTERM", parsed.Status.Reason)
	assert.Equal(t, "SOAK", parsed.Status.Oven.Phase)
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(fixedTracker().Snapshot(), "STARTUP", "")

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "STARTUP", raw["status"]["event"])
	assert.NotContains(t, raw["status"], "reason")
}

func TestMonitor(t *testing.T) {
	tr := fixedTracker()
	tr.Update(soakStatus())

	m := Monitor(tr.Snapshot())
	assert.Equal(t, MonitorJSON{
		TemperatureC:   148.3,
		ResistanceOhms: 2210,
		SetpointC:      150,
		Phase:          "SOAK",
		Active:         true,
		Profile:        "default",
		ElapsedMs:      130000,
		TotalMs:        420000,
		Duty:           0.457,
		RelayOn:        true,
	}, m)
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(start, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(soakStatus())
				tr.SetMQTTConnected(j%2 == 0)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = FormatJSON(tr.Snapshot())
			}
		}()
	}
	wg.Wait()
	assert.True(t, tr.Snapshot().Ready)
}
