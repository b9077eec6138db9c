// Package status provides a thread-safe status tracker for the touch-power daemon.
// It is read by the HTTP handlers and the MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/touch-power/internal/scheduler"
)

// Config contains daemon configuration for display.
type Config struct {
	Engine         string // "mpr121" or "sim"
	ActiveHz       uint32
	ActiveTimeout  time.Duration
	ActiveInterval time.Duration
	ALRHz          uint32
	ALRTimeout     time.Duration
	ALRInterval    time.Duration
	Output         bool
	Tuner          string // "off", "mqtt" or "serial"
	Broker         string
	HTTPAddr       string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type; safe to use after the lock is released.
type Snapshot struct {
	Scheduler     scheduler.Stats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update stores the latest scheduler statistics.
// Called from runLoop on every status tick.
func (t *Tracker) Update(stats scheduler.Stats) {
	t.mu.Lock()
	t.snap.Scheduler = stats
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
