package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Oven          OvenJSON   `json:"oven"`
	Counts        CountsJSON `json:"run_counts"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// OvenJSON is the JSON representation of the oven state.
type OvenJSON struct {
	Phase          string      `json:"phase"`
	Active         bool        `json:"active"`
	Profile        string      `json:"profile"`
	ElapsedMs      int64       `json:"elapsed_ms"`
	TotalMs        int64       `json:"total_ms"`
	TemperatureC   float64     `json:"temperature_c"`
	ResistanceOhms float64     `json:"resistance_ohms"`
	RawAverage     float64     `json:"raw_average"`
	SetpointC      float64     `json:"setpoint_c"`
	Duty           float64     `json:"duty"`
	RelayOn        bool        `json:"relay_on"`
	Tunings        TuningsJSON `json:"tunings"`
}

// TuningsJSON is the JSON representation of the PID gains.
type TuningsJSON struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

// CountsJSON is the JSON representation of run counts.
type CountsJSON struct {
	Started   int `json:"started"`
	Completed int `json:"completed"`
	Stopped   int `json:"stopped"`
	Faulted   int `json:"faulted"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SampleMs    int64   `json:"sample_ms"`
	ControlMs   int64   `json:"control_ms"`
	PWMPeriodMs int64   `json:"pwm_period_ms"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	MaxTempC    float64 `json:"max_temp_c,omitempty"`
	Broker      string  `json:"broker"`
	HTTPAddr    string  `json:"http_addr"`
}

// MonitorJSON is the compact live reading polled by the browser UI.
type MonitorJSON struct {
	TemperatureC   float64 `json:"temperature_c"`
	ResistanceOhms float64 `json:"resistance_ohms"`
	SetpointC      float64 `json:"setpoint_c"`
	Phase          string  `json:"phase"`
	Active         bool    `json:"active"`
	Profile        string  `json:"profile"`
	ElapsedMs      int64   `json:"elapsed_ms"`
	TotalMs        int64   `json:"total_ms"`
	Duty           float64 `json:"duty"`
	RelayOn        bool    `json:"relay_on"`
}

func buildOven(snap Snapshot) OvenJSON {
	st := snap.Oven
	return OvenJSON{
		Phase:          st.Phase.String(),
		Active:         st.Active,
		Profile:        st.Profile,
		ElapsedMs:      st.Elapsed.Milliseconds(),
		TotalMs:        st.Total.Milliseconds(),
		TemperatureC:   round(st.TemperatureC, 1),
		ResistanceOhms: round(st.ResistanceOhms, 0),
		RawAverage:     round(st.RawAverage, 1),
		SetpointC:      st.SetpointC,
		Duty:           round(st.Duty, 3),
		RelayOn:        st.RelayOn,
		Tunings:        TuningsJSON{Kp: st.Tunings.Kp, Ki: st.Tunings.Ki, Kd: st.Tunings.Kd},
	}
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Oven.Counts
	return StatusInner{
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Oven:          buildOven(snap),
		Counts: CountsJSON{
			Started:   c.Started,
			Completed: c.Completed,
			Stopped:   c.Stopped,
			Faulted:   c.Faulted,
		},
		Config: ConfigJSON{
			SampleMs:    snap.Config.SampleMs,
			ControlMs:   snap.Config.ControlMs,
			PWMPeriodMs: snap.Config.PWMPeriodMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			MaxTempC:    snap.Config.MaxTempC,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
}

// Full returns the status envelope served at /index.json.
func Full(snap Snapshot) StatusJSON {
	return StatusJSON{Status: buildInner(snap)}
}

// Monitor returns the compact live reading.
func Monitor(snap Snapshot) MonitorJSON {
	o := buildOven(snap)
	return MonitorJSON{
		TemperatureC:   o.TemperatureC,
		ResistanceOhms: o.ResistanceOhms,
		SetpointC:      o.SetpointC,
		Phase:          o.Phase,
		Active:         o.Active,
		Profile:        o.Profile,
		ElapsedMs:      o.ElapsedMs,
		TotalMs:        o.TotalMs,
		Duty:           o.Duty,
		RelayOn:        o.RelayOn,
	}
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Full(snap), "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
