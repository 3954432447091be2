// Package memstore provides an in-memory implementation of signal.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/opsfocus/internal/signal"
)

// Store holds signals in memory, in the order they were seeded.
type Store struct {
	mu      sync.RWMutex
	signals map[string]*signal.Signal // signal ID -> signal
	order   []string
}

// New validates seed and returns a Store holding copies of it. Duplicate ids are rejected.
func New(seed []signal.Signal) (*Store, error) {
	s := &Store{
		signals: make(map[string]*signal.Signal, len(seed)),
		order:   make([]string, 0, len(seed)),
	}
	for i := range seed {
		if err := seed[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.signals[seed[i].ID]; dup {
			return nil, fmt.Errorf("duplicate signal id %q", seed[i].ID)
		}
		cp := seed[i].Clone()
		s.signals[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
	}
	return s, nil
}

// List returns copies of all signals in seed order.
func (s *Store) List(_ context.Context) ([]signal.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]signal.Signal, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.signals[id].Clone())
	}
	return out, nil
}

// Get retrieves a signal by id. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (signal.Signal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok {
		return signal.Signal{}, false, nil
	}
	return sig.Clone(), true, nil
}

// MarkRead flags a signal as read.
func (s *Store) MarkRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return signal.ErrNotFound
	}
	sig.IsRead = true
	return nil
}

// SetStatus applies an operator status change and returns the updated signal.
// Suppressing stamps SuppressedUntil; any other status clears it.
func (s *Store) SetStatus(_ context.Context, id string, status signal.Status, now time.Time) (signal.Signal, error) {
	if !status.Valid() {
		return signal.Signal{}, fmt.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return signal.Signal{}, signal.ErrNotFound
	}
	sig.Status = status
	if status == signal.StatusSuppressed {
		until := now.Add(signal.SuppressFor)
		sig.SuppressedUntil = &until
	} else {
		sig.SuppressedUntil = nil
	}
	return sig.Clone(), nil
}
