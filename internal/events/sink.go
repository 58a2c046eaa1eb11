// Package events delivers marketplace events to observers once the operation
// that produced them has committed.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/Aidin1998/lotmarket/pkg/models"
)

// Sink receives committed events.
type Sink interface {
	Publish(ctx context.Context, ev models.Event) error
}

// MemorySink keeps every published event so tests and the daemon's
// diagnostics can read them back in order.
type MemorySink struct {
	mu     sync.RWMutex
	events []models.Event
}

var _ Sink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(_ context.Context, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// All returns a copy of every event published so far.
func (s *MemorySink) All() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Event(nil), s.events...)
}

// Last returns the most recent event.
func (s *MemorySink) Last() (models.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return models.Event{}, false
	}
	return s.events[len(s.events)-1], true
}

func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Fanout publishes each event to every sink. All sinks are attempted; the
// returned error joins the individual failures.
func Fanout(sinks ...Sink) Sink {
	return fanout(sinks)
}

type fanout []Sink

func (f fanout) Publish(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(context.Context, models.Event) error { return nil }
