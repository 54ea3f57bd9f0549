// Package mock provides a recording test double for [sink.Sink].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/uttercap/internal/sink"
)

// Sink records every delivered utterance.
type Sink struct {
	mu sync.Mutex

	// SinkName is returned by Name. Defaults to "mock".
	SinkName string

	// DeliverErr, if non-nil, is returned by every Deliver call.
	DeliverErr error

	// DeliverFunc, if set, is called by Deliver and its result returned
	// instead of DeliverErr.
	DeliverFunc func(ctx context.Context, u sink.Utterance) error

	// Delivered records every utterance passed to Deliver, including failed
	// deliveries.
	Delivered []sink.Utterance

	notify chan sink.Utterance
}

// Ensure Sink implements sink.Sink at compile time.
var _ sink.Sink = (*Sink)(nil)

// Name implements [sink.Sink].
func (s *Sink) Name() string {
	if s.SinkName == "" {
		return "mock"
	}
	return s.SinkName
}

// Deliver implements [sink.Sink].
func (s *Sink) Deliver(ctx context.Context, u sink.Utterance) error {
	s.mu.Lock()
	s.Delivered = append(s.Delivered, u)
	fn, err := s.DeliverFunc, s.DeliverErr
	ch := s.notifyLocked()
	s.mu.Unlock()

	select {
	case ch <- u:
	default:
	}
	if fn != nil {
		return fn(ctx, u)
	}
	return err
}

// Notify returns a channel that receives each delivered utterance. It is
// buffered; deliveries beyond the buffer are not signalled.
func (s *Sink) Notify() <-chan sink.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyLocked()
}

func (s *Sink) notifyLocked() chan sink.Utterance {
	if s.notify == nil {
		s.notify = make(chan sink.Utterance, 64)
	}
	return s.notify
}

// Count returns the number of Deliver calls. Thread-safe.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Delivered)
}

// Last returns the most recent utterance and whether there was one.
func (s *Sink) Last() (sink.Utterance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Delivered) == 0 {
		return sink.Utterance{}, false
	}
	return s.Delivered[len(s.Delivered)-1], true
}
