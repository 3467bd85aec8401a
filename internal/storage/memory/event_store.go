package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu        sync.RWMutex
	byProduct map[string][]*domain.Event
	keys      map[uuid.UUID]bool
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		byProduct: make(map[string][]*domain.Event),
		keys:      make(map[uuid.UUID]bool),
	}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Append adds a new event. Returns ErrDuplicateKey if the event ID exists.
func (s *EventStore) Append(_ context.Context, e *domain.Event) error {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[e.ID] {
		return storage.ErrDuplicateKey
	}
	s.insertLocked(e)
	return nil
}

// AppendBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) AppendBulk(_ context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[uuid.UUID]bool, len(events))
	for _, e := range events {
		if err := storage.ValidateEvent(e); err != nil {
			return err
		}
		if s.keys[e.ID] || batchKeys[e.ID] {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.ID] = true
	}

	for _, e := range events {
		s.insertLocked(e)
	}
	return nil
}

func (s *EventStore) insertLocked(e *domain.Event) {
	// Store a copy
	cp := *e
	cp.OccurredAt = e.OccurredAt.UTC()
	s.byProduct[e.ProductID] = append(s.byProduct[e.ProductID], &cp)
	s.keys[e.ID] = true
}

// DailyAggregates returns daily rows for events at or after since, ordered by date ASC.
func (s *EventStore) DailyAggregates(_ context.Context, productID string, since time.Time) ([]domain.DailyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var window []*domain.Event
	for _, e := range s.byProduct[productID] {
		if !e.OccurredAt.Before(since) {
			window = append(window, e)
		}
	}
	return domain.AggregateEvents(productID, window), nil
}

// ProductIDs returns all product IDs with at least one event, sorted ASC.
func (s *EventStore) ProductIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byProduct))
	for id := range s.byProduct {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
