// Package memory is an in-process restriction store used by tests and by
// hosts that do not need restrictions to survive a restart.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"warden/internal/moderation/models"
	id "warden/pkg/domain"
)

type Store struct {
	mu      sync.RWMutex
	tables  map[models.Kind]map[id.SubjectID]time.Time
	saves   map[models.Kind]int
	saveErr error
	loadErr error
}

func New() *Store {
	return &Store{
		tables: make(map[models.Kind]map[id.SubjectID]time.Time),
		saves:  make(map[models.Kind]int),
	}
}

func (s *Store) Load(_ context.Context, kind models.Kind) (map[id.SubjectID]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := maps.Clone(s.tables[kind])
	if out == nil {
		out = map[id.SubjectID]time.Time{}
	}
	return out, nil
}

func (s *Store) Save(_ context.Context, kind models.Kind, entries map[id.SubjectID]time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves[kind]++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.tables[kind] = maps.Clone(entries)
	return nil
}

// FailSaves makes every later Save return err (nil restores normal behaviour).
func (s *Store) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// FailLoads makes every later Load return err.
func (s *Store) FailLoads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// Saves reports how many times Save was called for kind, failed calls included.
func (s *Store) Saves(kind models.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves[kind]
}

// Table returns a copy of what was last saved for kind.
func (s *Store) Table(kind models.Kind) map[id.SubjectID]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := maps.Clone(s.tables[kind])
	if out == nil {
		out = map[id.SubjectID]time.Time{}
	}
	return out
}
