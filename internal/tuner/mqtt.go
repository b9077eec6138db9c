package tuner

import (
	"time"

	"github.com/sweeney/touch-power/internal/mqtt"
)

// DefaultMinInterval limits the MQTT diagnostics stream to 5 samples/s.
const DefaultMinInterval = 200 * time.Millisecond

// MQTTBridge publishes state samples to the broker. Samples are dropped when
// they arrive faster than MinInterval, unless the mode changed.
type MQTTBridge struct {
	pub         mqtt.Publisher
	MinInterval time.Duration

	last     time.Time
	lastMode string
	sent     bool
}

// NewMQTTBridge creates a bridge publishing through pub.
func NewMQTTBridge(pub mqtt.Publisher) *MQTTBridge {
	return &MQTTBridge{pub: pub, MinInterval: DefaultMinInterval}
}

// Exchange publishes s if it is due.
func (b *MQTTBridge) Exchange(s State) error {
	mode := s.Mode.String()
	if b.sent && mode == b.lastMode && s.Time.Sub(b.last) < b.MinInterval {
		return nil
	}

	err := b.pub.PublishState(mqtt.StateEvent{
		Timestamp:  s.Time,
		Mode:       mode,
		Budget:     s.Budget,
		IntervalUs: s.Interval.Microseconds(),
		Iteration:  s.Iteration,
		Active:     s.Touch.Active,
		Slots:      s.Touch.Slots,
		X:          s.Touch.X,
		Y:          s.Touch.Y,
	})
	if err != nil {
		return err
	}
	b.last = s.Time
	b.lastMode = mode
	b.sent = true
	return nil
}

// Close is a no-op; the publisher is owned by the caller.
func (b *MQTTBridge) Close() error {
	return nil
}
