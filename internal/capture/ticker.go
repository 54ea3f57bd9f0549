package capture

import "time"

// Ticker drives the analysis loop. Tick intervals may vary; the detector
// counts ticks, not wall-clock time.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a [Ticker] firing roughly every d.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the default [TickerFactory], backed by [time.Ticker].
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// ManualTicker is a [Ticker] fired explicitly with [ManualTicker.Tick]. It is
// used by tests to step the analysis loop deterministically.
type ManualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
}

// NewManualTicker returns an unbuffered manual ticker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

// Factory returns a [TickerFactory] that always yields m.
func (m *ManualTicker) Factory() TickerFactory {
	return func(time.Duration) Ticker { return m }
}

// C implements [Ticker].
func (m *ManualTicker) C() <-chan time.Time { return m.ch }

// Stop implements [Ticker].
func (m *ManualTicker) Stop() {}

// Tick delivers one tick. It blocks until the loop receives it and reports
// false if no loop received it within timeout.
func (m *ManualTicker) Tick(timeout time.Duration) bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(timeout):
		return false
	}
}
