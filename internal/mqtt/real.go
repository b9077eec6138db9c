package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// backlogCapacity bounds the system events kept while disconnected.
const backlogCapacity = 64

// brokerClient is the part of paho.Client the publisher drives.
type brokerClient interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client brokerClient

	mu      sync.Mutex
	pending *backlog
}

// NewRealPublisher creates a publisher for the given broker. The connection is
// retried in the background; messages published before it is up are kept in a
// backlog and flushed on connect.
func NewRealPublisher(broker, clientID string) *RealPublisher {
	p := &RealPublisher{pending: newBacklog(backlogCapacity)}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.flush() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	c := paho.NewClient(opts)
	p.client = c
	c.Connect()
	return p
}

// PublishState sends a diagnostics sample, QoS 0, not retained.
func (p *RealPublisher) PublishState(event StateEvent) error {
	payload, err := FormatStatePayload(event)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicState, payload: payload})
}

// PublishSystem sends a system lifecycle event, QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		p.pending.push(msg)
		p.mu.Unlock()
		// The connect handler may have drained the backlog between the
		// check and the push.
		if p.client.IsConnectionOpen() {
			p.flush()
		}
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays the backlog. It holds mu throughout so a concurrent publish
// either lands in this drain or sees the connection open.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := p.pending.drainAll()
	if len(msgs) > 0 {
		log.Printf("mqtt: connected, flushing %d buffered messages", len(msgs))
	}
	for _, m := range msgs {
		// Fire and forget: the handler runs on the client's goroutine.
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
