// Package mqtt publishes scheduler state and lifecycle events to a broker.
package mqtt

import (
	"bytes"
	"encoding/json"
	"time"
)

// TopicState carries the per-iteration diagnostics stream.
const TopicState = "touch/sensor/state"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "touch/sensor/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishState sends a diagnostics sample. Failures must not stop the
	// scheduler.
	PublishState(event StateEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// StateEvent is one diagnostics sample of the scheduler and sensing state.
type StateEvent struct {
	Timestamp  time.Time
	Mode       string
	Budget     uint32
	IntervalUs int64
	Iteration  uint64
	Active     bool
	Slots      uint16
	X          uint8
	Y          uint8
}

// SystemEvent represents a system lifecycle event (startup, shutdown, mode change).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "MODE"
	Reason     string // e.g., "SIGTERM", "active->alr"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StatePayload is the JSON envelope for a StateEvent.
type StatePayload struct {
	Touch StateInner `json:"touch"`
}

// StateInner contains the sample details.
type StateInner struct {
	Timestamp  string `json:"timestamp"`
	Mode       string `json:"mode"`
	Budget     uint32 `json:"budget"`
	IntervalUs int64  `json:"interval_us"`
	Iteration  uint64 `json:"iteration"`
	Active     bool   `json:"active"`
	Slots      uint16 `json:"slots"`
	X          uint8  `json:"x"`
	Y          uint8  `json:"y"`
}

// FormatStatePayload creates the JSON payload for a state sample.
func FormatStatePayload(event StateEvent) ([]byte, error) {
	return marshal(StatePayload{
		Touch: StateInner{
			Timestamp:  event.Timestamp.UTC().Format(time.RFC3339Nano),
			Mode:       event.Mode,
			Budget:     event.Budget,
			IntervalUs: event.IntervalUs,
			Iteration:  event.Iteration,
			Active:     event.Active,
			Slots:      event.Slots,
			X:          event.X,
			Y:          event.Y,
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, MODE) that don't carry a full status snapshot.
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
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
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
	return marshal(payload)
}

// marshal encodes v without HTML escaping, so reasons such as "active->alr"
// reach subscribers verbatim.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
