package status

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/sweeney/touch-power/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string           `json:"event,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Mode          string           `json:"mode"`
	Budget        uint32           `json:"budget"`
	Ceiling       uint32           `json:"ceiling"`
	IntervalUs    int64            `json:"interval_us"`
	Touch         TouchJSON        `json:"touch"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartTime     string           `json:"start_time"`
	Timestamp     string           `json:"timestamp"`
	LastChange    string           `json:"last_change,omitempty"`
	MQTT          MQTTStatus       `json:"mqtt"`
	Counts        CountsJSON       `json:"counts"`
	ProcessUs     map[string]int64 `json:"process_us"`
	Config        ConfigJSON       `json:"config"`
}

// TouchJSON is the latest processed touch.
type TouchJSON struct {
	Active bool   `json:"active"`
	Slots  uint16 `json:"slots"`
	X      uint8  `json:"x"`
	Y      uint8  `json:"y"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of loop counters.
type CountsJSON struct {
	Iterations   uint64            `json:"iterations"`
	Suspends     uint64            `json:"suspends"`
	ShallowSleep uint64            `json:"shallow_sleeps"`
	DeepSleep    uint64            `json:"deep_sleeps"`
	Transitions  map[string]uint64 `json:"transitions"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Engine           string `json:"engine"`
	ActiveHz         uint32 `json:"active_hz"`
	ActiveTimeoutMs  int64  `json:"active_timeout_ms"`
	ActiveIntervalUs int64  `json:"active_interval_us"`
	ALRHz            uint32 `json:"alr_hz"`
	ALRTimeoutMs     int64  `json:"alr_timeout_ms"`
	ALRIntervalUs    int64  `json:"alr_interval_us"`
	Output           bool   `json:"output"`
	Tuner            string `json:"tuner"`
	Broker           string `json:"broker,omitempty"`
	HTTPAddr         string `json:"http_addr"`
}

// ModeName returns the mode name for display, "starting" before the first
// iteration.
func ModeName(m logic.Mode) string {
	if m == 0 {
		return "starting"
	}
	return m.String()
}

// EdgeKeys returns the transition keys of counts in a stable order.
func EdgeKeys(counts map[string]uint64) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildInner(snap Snapshot) StatusInner {
	st := snap.Scheduler

	transitions := make(map[string]uint64, len(st.Transitions))
	for k, v := range st.Transitions {
		transitions[k] = v
	}
	process := make(map[string]int64, len(st.ProcessTime))
	for m, d := range st.ProcessTime {
		process[m.String()] = d.Microseconds()
	}

	inner := StatusInner{
		Mode:       ModeName(st.Mode),
		Budget:     st.Budget,
		Ceiling:    st.Ceiling,
		IntervalUs: st.Interval.Microseconds(),
		Touch: TouchJSON{
			Active: st.Touch.Active,
			Slots:  st.Touch.Slots,
			X:      st.Touch.X,
			Y:      st.Touch.Y,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Iterations:   st.Iterations,
			Suspends:     st.Suspends,
			ShallowSleep: st.Sleeps.Shallow,
			DeepSleep:    st.Sleeps.Deep,
			Transitions:  transitions,
		},
		ProcessUs: process,
		Config: ConfigJSON{
			Engine:           snap.Config.Engine,
			ActiveHz:         snap.Config.ActiveHz,
			ActiveTimeoutMs:  snap.Config.ActiveTimeout.Milliseconds(),
			ActiveIntervalUs: snap.Config.ActiveInterval.Microseconds(),
			ALRHz:            snap.Config.ALRHz,
			ALRTimeoutMs:     snap.Config.ALRTimeout.Milliseconds(),
			ALRIntervalUs:    snap.Config.ALRInterval.Microseconds(),
			Output:           snap.Config.Output,
			Tuner:            snap.Config.Tuner,
			Broker:           snap.Config.Broker,
			HTTPAddr:         snap.Config.HTTPAddr,
		},
	}
	if !st.LastChange.IsZero() {
		inner.LastChange = st.LastChange.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)

	return encode(StatusJSON{Status: inner}, "  ")
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	return encode(StatusJSON{Status: inner}, "")
}

// encode marshals v without HTML escaping so transition keys keep their
// literal "->". An empty indent gives compact output.
func encode(v any, indent string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}
