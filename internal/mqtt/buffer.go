package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog holds messages while disconnected. System events queue in a
// fixed-capacity FIFO that drops the oldest; state samples are superseded by
// the next one, so only the latest is kept.
// Not safe for concurrent use; caller must synchronize.
type backlog struct {
	system   []bufferedMsg
	capacity int
	head     int // next write position in system
	count    int
	overflow bool // true if any system event was dropped since last drain

	state *bufferedMsg
}

func newBacklog(capacity int) *backlog {
	if capacity <= 0 {
		capacity = 1
	}
	return &backlog{
		system:   make([]bufferedMsg, capacity),
		capacity: capacity,
	}
}

func (b *backlog) push(msg bufferedMsg) {
	if msg.topic == TopicState {
		b.state = &msg
		return
	}
	if b.count == b.capacity {
		if !b.overflow {
			log.Printf("mqtt: backlog full (%d events), dropping oldest", b.capacity)
			b.overflow = true
		}
		b.count--
	}
	b.system[b.head] = msg
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// drainAll returns queued system events oldest first, then the latest state
// sample, and empties the backlog.
func (b *backlog) drainAll() []bufferedMsg {
	if b.count == 0 && b.state == nil {
		return nil
	}

	result := make([]bufferedMsg, 0, b.count+1)
	start := (b.head - b.count + b.capacity) % b.capacity
	for i := 0; i < b.count; i++ {
		result = append(result, b.system[(start+i)%b.capacity])
	}
	if b.state != nil {
		result = append(result, *b.state)
	}

	b.count = 0
	b.head = 0
	b.overflow = false
	b.state = nil
	return result
}

func (b *backlog) len() int {
	if b.state != nil {
		return b.count + 1
	}
	return b.count
}
