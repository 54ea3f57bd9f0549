package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/uttercap/internal/sink"
	"github.com/MrWong99/uttercap/pkg/audio"
	"github.com/MrWong99/uttercap/pkg/vad"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// Registry maps component names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]func(SourceEntry) (audio.Source, error)
	sinks   map[string]func(SinkEntry) (sink.Sink, error)
	vad     map[string]func() (vad.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]func(SourceEntry) (audio.Source, error)),
		sinks:   make(map[string]func(SinkEntry) (sink.Sink, error)),
		vad:     make(map[string]func() (vad.Engine, error)),
	}
}

// RegisterSource registers an audio source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSource(name string, factory func(SourceEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// RegisterSink registers a sink factory under name.
func (r *Registry) RegisterSink(name string, factory func(SinkEntry) (sink.Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func() (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateSource instantiates the source registered under entry.Name.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSource(entry SourceEntry) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSink instantiates the sink described by entry. An entry with a
// Fallback list becomes a failover group whose members are created
// recursively; any other entry uses the factory registered under its name.
// Remote sinks are wrapped in a circuit breaker when entry.CircuitBreaker is
// set.
func (r *Registry) CreateSink(entry SinkEntry) (sink.Sink, error) {
	if len(entry.Fallback) > 0 {
		members := make([]sink.Sink, 0, len(entry.Fallback))
		for _, fe := range entry.Fallback {
			s, err := r.createSink(fe)
			if err != nil {
				return nil, fmt.Errorf("config: fallback group %q: %w", entry.Name, err)
			}
			members = append(members, s)
		}
		return sink.Fallback(entry.Name, entry.fallbackConfig(), members...), nil
	}

	s, err := r.createSink(entry)
	if err != nil {
		return nil, err
	}
	if entry.CircuitBreaker != nil {
		s = sink.Guard(s, entry.breakerConfig())
	}
	return s, nil
}

func (r *Registry) createSink(entry SinkEntry) (sink.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSinks instantiates every entry and combines them with [sink.NewMulti].
func (r *Registry) CreateSinks(entries []SinkEntry, opts ...sink.MultiOption) (*sink.Multi, error) {
	sinks := make([]sink.Sink, 0, len(entries))
	for i, e := range entries {
		s, err := r.CreateSink(e)
		if err != nil {
			return nil, fmt.Errorf("config: sinks[%d]: %w", i, err)
		}
		sinks = append(sinks, s)
	}
	return sink.NewMulti(sinks, opts...), nil
}

// CreateVAD instantiates the VAD engine registered under name.
func (r *Registry) CreateVAD(name string) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrNotRegistered, name)
	}
	return factory()
}
