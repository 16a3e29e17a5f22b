package engine

// signal is a coalescing wake-up channel.
//
// The buffer of 1 coalesces any number of Notify calls made while nobody is
// waiting into a single wake-up, so triggers never block and never pile up.
type signal struct {
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{}, 1)}
}

// Notify requests a wake-up. Non-blocking; safe from any goroutine.
func (s *signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel to select on.
func (s *signal) C() <-chan struct{} {
	return s.ch
}
