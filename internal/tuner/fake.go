package tuner

// FakeBridge records exchanges for test assertions.
type FakeBridge struct {
	Exchanges []State
	Closed    bool

	// ExchangeError, if set, is returned by Exchange.
	ExchangeError error
}

// NewFakeBridge creates a FakeBridge.
func NewFakeBridge() *FakeBridge {
	return &FakeBridge{}
}

func (f *FakeBridge) Exchange(s State) error {
	f.Exchanges = append(f.Exchanges, s)
	return f.ExchangeError
}

func (f *FakeBridge) Close() error {
	f.Closed = true
	return nil
}
