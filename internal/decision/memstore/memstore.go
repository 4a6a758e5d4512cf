// Package memstore provides an in-memory implementation of decision.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/linnemanlabs/triagedesk/internal/decision"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

type key struct{ surface, txID string }

// Store holds decisions in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	history map[key][]*decision.Decision
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{history: make(map[key][]*decision.Decision)}
}

// Current returns a copy of the latest decision for a transaction.
func (s *Store) Current(_ context.Context, surface, txID string) (*decision.Decision, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[key{surface, txID}]
	if len(h) == 0 {
		return nil, false, nil
	}
	cp := *h[len(h)-1]
	return &cp, true, nil
}

// Record stores a copy of d if the recorded status for d's batch matches
// d.From.
func (s *Store) Record(_ context.Context, d *decision.Decision, initial ledger.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{d.Surface, d.TransactionID}
	h := s.history[k]

	current := initial
	if n := len(h); n > 0 && h[n-1].BatchID == d.BatchID {
		current = h[n-1].To
	}
	if current != d.From {
		return fmt.Errorf("%w: recorded %s, request from %s", decision.ErrStatusMismatch, current, d.From)
	}

	cp := *d
	s.history[k] = append(h, &cp)
	return nil
}

// History returns copies of every decision for a transaction.
func (s *Store) History(_ context.Context, surface, txID string) ([]*decision.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[key{surface, txID}]
	out := make([]*decision.Decision, len(h))
	for i, d := range h {
		cp := *d
		out[i] = &cp
	}
	return out, nil
}
