package logic

// Budget counts down idle scan cycles before a mode steps down.
// It saturates at zero; decrementing an expired budget leaves it at zero.
type Budget struct {
	left    uint32
	ceiling uint32
}

// Reset sets the budget to the ceiling of mode m. WakeOnTouch has no
// timeout and resets to zero.
func (b *Budget) Reset(cfg Config, m Mode) {
	p, ok := cfg.Profile(m)
	if !ok {
		b.left, b.ceiling = 0, 0
		return
	}
	b.ceiling = p.Ceiling()
	b.left = b.ceiling
}

// Tick consumes one idle cycle.
func (b *Budget) Tick() {
	if b.left > 0 {
		b.left--
	}
}

// Expired reports whether the budget is exactly zero.
func (b *Budget) Expired() bool {
	return b.left == 0
}

// Left returns the remaining cycles.
func (b *Budget) Left() uint32 {
	return b.left
}

// Ceiling returns the value the last Reset restored.
func (b *Budget) Ceiling() uint32 {
	return b.ceiling
}
