package power

import (
	"fmt"

	"github.com/sweeney/touch-power/internal/irq"
	"github.com/sweeney/touch-power/internal/logic"
)

// Fake is a test double that records critical sections and sleeps.
type Fake struct {
	// Sleeps contains every wait state entered, in order.
	Sleeps []logic.SleepDepth

	// Enters and Exits count critical-section boundaries.
	Enters int
	Exits  int

	// OnSleep, if set, runs inside each sleep. Tests use it to play the
	// interrupt that ends a scan.
	OnSleep func(logic.SleepDepth)

	held bool
	seq  irq.Token
}

// NewFake creates a Fake.
func NewFake() *Fake {
	return &Fake{}
}

// Enter records a critical-section entry. Nesting panics.
func (f *Fake) Enter() irq.Token {
	if f.held {
		panic("power: nested critical section")
	}
	f.held = true
	f.seq++
	f.Enters++
	return f.seq
}

// Exit records a critical-section exit.
func (f *Fake) Exit(tok irq.Token) {
	if !f.held || tok != f.seq {
		panic(fmt.Sprintf("power: unbalanced exit (held=%v tok=%d seq=%d)", f.held, tok, f.seq))
	}
	f.held = false
	f.Exits++
}

// Held reports whether a critical section is open.
func (f *Fake) Held() bool {
	return f.held
}

func (f *Fake) EnterShallowSleep() { f.sleep(logic.SleepShallow) }
func (f *Fake) EnterDeepSleep()    { f.sleep(logic.SleepDeep) }

func (f *Fake) sleep(d logic.SleepDepth) {
	f.Sleeps = append(f.Sleeps, d)
	if f.OnSleep != nil {
		f.OnSleep(d)
	}
}

// Counts tallies Sleeps by depth.
func (f *Fake) Counts() SleepCounts {
	var c SleepCounts
	for _, d := range f.Sleeps {
		if d == logic.SleepShallow {
			c.Shallow++
		} else {
			c.Deep++
		}
	}
	return c
}

// Reset clears recorded calls.
func (f *Fake) Reset() {
	f.Sleeps = nil
	f.Enters = 0
	f.Exits = 0
}
