package memory

import (
	"context"
	"sync"

	audit "warden/pkg/platform/audit"
)

const defaultCapacity = 1000

// RingStore keeps the most recent audit events in a bounded ring. When full,
// the oldest events are dropped to make room for new ones.
type RingStore struct {
	mu       sync.Mutex
	events   []audit.Event
	head     int // next write position
	count    int
	capacity int

	dropped int64
}

// NewRingStore creates a ring store with the given capacity.
func NewRingStore(capacity int) *RingStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &RingStore{
		events:   make([]audit.Event, capacity),
		capacity: capacity,
	}
}

// Append adds an event, dropping the oldest if necessary.
func (s *RingStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == s.capacity {
		s.dropped++
	} else {
		s.count++
	}
	s.events[s.head] = event
	s.head = (s.head + 1) % s.capacity
	return nil
}

// ListRecent returns up to limit of the newest events, oldest first.
// A non-positive limit returns everything retained.
func (s *RingStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.count
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]audit.Event, n)
	start := (s.head - n + s.capacity) % s.capacity
	for i := range n {
		result[i] = s.events[(start+i)%s.capacity]
	}
	return result, nil
}

// Len returns the number of retained events.
func (s *RingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Dropped returns the total number of events evicted by newer ones.
func (s *RingStore) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
