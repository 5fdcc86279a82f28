package server

import (
	"errors"
	"sync"
	"time"

	"pianogen/engine"
	"pianogen/music"
)

// ErrUnknownModel is returned when a request names a model that was
// never published.
var ErrUnknownModel = errors.New("unknown model")

// Service holds the published models and runs generation requests
// against them. Each model name owns one swappable handle; publishing a
// retrained model swaps the handle atomically, so in-flight generations
// keep the entry they started with.
type Service struct {
	mu      sync.RWMutex
	handles map[string]*engine.Handle
	metrics *Metrics
}

// NewService returns an empty service. Metrics may be nil in tests.
func NewService(m *Metrics) *Service {
	return &Service{
		handles: make(map[string]*engine.Handle),
		metrics: m,
	}
}

// Publish makes a trained entry available under its name, replacing any
// previous model of that name.
func (s *Service) Publish(entry *engine.Entry) {
	s.mu.Lock()
	h, ok := s.handles[entry.Name]
	if !ok {
		h = &engine.Handle{}
		s.handles[entry.Name] = h
	}
	s.mu.Unlock()
	h.Swap(entry)
}

// Models lists the published model names.
func (s *Service) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.handles))
	for name := range s.handles {
		names = append(names, name)
	}
	return names
}

// Generate runs one synchronous generation request against the named
// model.
func (s *Service) Generate(model string, p engine.Parameters) (music.Sequence, error) {
	s.mu.RLock()
	h, ok := s.handles[model]
	s.mu.RUnlock()
	if !ok {
		return music.Sequence{}, ErrUnknownModel
	}
	entry, ok := h.Load()
	if !ok {
		return music.Sequence{}, ErrUnknownModel
	}

	eng := engine.New(entry.Encoder, entry.Alphabet)
	start := time.Now()
	seq, err := eng.Generate(entry.Model, p)
	if s.metrics != nil {
		s.metrics.ObserveGeneration(time.Since(start).Seconds())
		if err == nil {
			s.metrics.IncGenerations(model)
		}
	}
	return seq, err
}
