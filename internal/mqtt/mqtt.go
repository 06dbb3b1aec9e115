// Package mqtt publishes oven lifecycle events and daemon status to an MQTT
// broker.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/reflow-controller/internal/logic"
)

// Topic is the MQTT topic for run and phase events.
const Topic = "reflow/oven/events"

// TopicSystem is the MQTT topic for daemon lifecycle events.
const TopicSystem = "reflow/oven/system"

// System event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an oven event to the broker.
	// Returns error if publishing fails (should not stop the control loop).
	Publish(event logic.Event) error

	// PublishSystem sends a daemon lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a daemon lifecycle event.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // STARTUP, SHUTDOWN, HEARTBEAT, RECONNECTED
	Reason     string // e.g. SIGTERM (shutdown only)
	RawPayload []byte // pre-formatted JSON; returned as-is by FormatSystemPayload
	Retained   bool
}

// Payload is the message body for oven events.
type Payload struct {
	Oven OvenPayload `json:"oven"`
}

// OvenPayload contains the oven event details.
type OvenPayload struct {
	Timestamp    string  `json:"timestamp"`
	Event        string  `json:"event"`
	Phase        string  `json:"phase"`
	Profile      string  `json:"profile"`
	ElapsedMs    int64   `json:"elapsed_ms"`
	TemperatureC float64 `json:"temperature_c"`
	SetpointC    float64 `json:"setpoint_c"`
}

// FormatPayload creates the JSON payload for an oven event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Oven: OvenPayload{
			Timestamp:    event.Timestamp.UTC().Format(time.RFC3339),
			Event:        string(event.Type),
			Phase:        event.Phase.String(),
			Profile:      event.Profile,
			ElapsedMs:    event.Elapsed.Milliseconds(),
			TemperatureC: round1(event.TemperatureC),
			SetpointC:    event.SetpointC,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the message body for simple system events (LWT,
// RECONNECTED) that don't carry a status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
