package led

import (
	"github.com/sweeney/touch-power/internal/logic"
	"github.com/sweeney/touch-power/internal/sense"
)

// Render is one recorded Render call.
type Render struct {
	Mode  logic.Mode
	Touch sense.TouchState
}

// FakeRenderer records calls for test assertions.
type FakeRenderer struct {
	Renders []Render
	Rearms  int
	Closed  bool

	// RenderError and RearmError, if set, are returned by the matching call.
	RenderError error
	RearmError  error
}

// NewFakeRenderer creates a FakeRenderer.
func NewFakeRenderer() *FakeRenderer {
	return &FakeRenderer{}
}

func (f *FakeRenderer) Render(mode logic.Mode, touch sense.TouchState) error {
	f.Renders = append(f.Renders, Render{Mode: mode, Touch: touch})
	return f.RenderError
}

func (f *FakeRenderer) Rearm() error {
	f.Rearms++
	return f.RearmError
}

func (f *FakeRenderer) Close() error {
	f.Closed = true
	return nil
}
