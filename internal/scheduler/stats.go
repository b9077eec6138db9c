package scheduler

import (
	"time"

	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/power"
	"github.com/sweeney/touch-power/internal/sense"
)

// Stats is a snapshot of scheduler state for status reporting.
type Stats struct {
	Mode       logic.Mode
	Budget     uint32
	Ceiling    uint32
	Interval   time.Duration // wake-timer period currently programmed
	Iterations uint64
	Suspends   uint64
	Sleeps     power.SleepCounts
	Touch      sense.TouchState
	LastChange time.Time

	// Transitions counts mode changes keyed "from->to".
	Transitions map[string]uint64

	// ProcessTime is the last measured process+query duration per mode.
	ProcessTime map[logic.Mode]time.Duration
}

// EdgeKey names a transition edge in Stats.Transitions.
func EdgeKey(from, to logic.Mode) string {
	return from.String() + "->" + to.String()
}

// Stats returns a copy of the current statistics.
func (s *Scheduler) Stats() Stats {
	s.smu.Lock()
	defer s.smu.Unlock()

	out := s.stats
	out.Transitions = make(map[string]uint64, len(s.stats.Transitions))
	for k, v := range s.stats.Transitions {
		out.Transitions[k] = v
	}
	out.ProcessTime = make(map[logic.Mode]time.Duration, len(s.stats.ProcessTime))
	for k, v := range s.stats.ProcessTime {
		out.ProcessTime[k] = v
	}
	return out
}

func (s *Scheduler) record(t logic.Transition, scanned logic.Mode, depth logic.SleepDepth, suspends int, elapsed time.Duration, touch sense.TouchState) {
	s.smu.Lock()
	defer s.smu.Unlock()

	st := &s.stats
	st.Mode = t.To
	st.Budget = s.machine.Budget()
	st.Ceiling = s.machine.Ceiling()
	st.Interval = s.timer
	st.Iterations = s.iteration
	st.Suspends += uint64(suspends)
	if depth == logic.SleepShallow {
		st.Sleeps.Shallow += uint64(suspends)
	} else {
		st.Sleeps.Deep += uint64(suspends)
	}
	st.Touch = touch
	st.ProcessTime[scanned] = elapsed
	if t.Changed() {
		st.Transitions[EdgeKey(t.From, t.To)]++
		st.LastChange = s.now()
	}
}
