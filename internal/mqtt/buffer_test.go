package mqtt

import (
	"testing"
)

func TestBacklogEmptyDrain(t *testing.T) {
	b := newBacklog(10)
	if got := b.drainAll(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestBacklogSystemFIFO(t *testing.T) {
	b := newBacklog(10)
	for i := 0; i < 5; i++ {
		b.push(bufferedMsg{topic: TopicSystem, payload: []byte{byte(i)}})
	}

	got := b.drainAll()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i := range got {
		if got[i].payload[0] != byte(i) {
			t.Errorf("item %d: expected payload %d, got %d", i, i, got[i].payload[0])
		}
	}
	if b.len() != 0 {
		t.Errorf("expected empty after drain, got %d", b.len())
	}
}

func TestBacklogOverflowDropsOldest(t *testing.T) {
	b := newBacklog(3)
	for i := 0; i < 7; i++ {
		b.push(bufferedMsg{topic: TopicSystem, payload: []byte{byte(i)}})
	}

	got := b.drainAll()
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	for i, want := range []byte{4, 5, 6} {
		if got[i].payload[0] != want {
			t.Errorf("item %d: expected %d, got %d", i, want, got[i].payload[0])
		}
	}
	if b.overflow {
		t.Error("overflow flag should reset on drain")
	}
}

func TestBacklogKeepsLatestStateOnly(t *testing.T) {
	b := newBacklog(4)
	b.push(bufferedMsg{topic: TopicState, payload: []byte{1}})
	b.push(bufferedMsg{topic: TopicSystem, payload: []byte{9}, qos: 1, retained: true})
	b.push(bufferedMsg{topic: TopicState, payload: []byte{2}})
	b.push(bufferedMsg{topic: TopicState, payload: []byte{3}})

	if b.len() != 2 {
		t.Fatalf("expected 2 pending, got %d", b.len())
	}

	got := b.drainAll()
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].topic != TopicSystem || got[0].qos != 1 || !got[0].retained {
		t.Errorf("system event should come first with its fields, got %+v", got[0])
	}
	if got[1].topic != TopicState || got[1].payload[0] != 3 {
		t.Errorf("expected latest state sample, got %+v", got[1])
	}
}
