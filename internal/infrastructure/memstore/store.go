package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-verify-handoff/internal/domain"
)

// Store is the in-process correlation store. A single mutex guards the map;
// records are copied on the way in and on the way out.
type Store struct {
	mu      sync.Mutex
	records map[string]*domain.VerificationRecord
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates an empty store. Records older than ttl are treated as absent
// on read even before the sweeper removes them; ttl <= 0 disables that check.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		records: make(map[string]*domain.VerificationRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *Store) Put(_ context.Context, rec *domain.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Token] = rec.Clone()
	return nil
}

func (s *Store) PutIfAbsent(_ context.Context, rec *domain.VerificationRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(rec.Token); ok {
		return false, nil
	}
	s.records[rec.Token] = rec.Clone()
	return true, nil
}

func (s *Store) Get(_ context.Context, token string) (*domain.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(token)
	if !ok {
		return nil, fmt.Errorf("verification %q: %w", token, domain.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Store) TakeIf(_ context.Context, token, attempt string, states ...domain.State) (*domain.VerificationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(token)
	if !ok || rec.Attempt != attempt || !slices.Contains(states, rec.State) {
		return nil, false, nil
	}
	delete(s.records, token)
	return rec, true, nil
}

func (s *Store) Transition(_ context.Context, next *domain.VerificationRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.live(next.Token)
	if !ok || cur.Attempt != next.Attempt || !slices.Contains(next.State.Predecessors(), cur.State) {
		return false, nil
	}
	s.records[next.Token] = next.Clone()
	return true, nil
}

func (s *Store) SweepExpired(_ context.Context, maxAge time.Duration) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, rec := range s.records {
		if rec.Expired(maxAge, now) {
			delete(s.records, token)
			n++
		}
	}
	return n, nil
}

// live returns the record for token unless it is missing or past the ttl.
// Callers hold s.mu.
func (s *Store) live(token string) (*domain.VerificationRecord, bool) {
	rec, ok := s.records[token]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && rec.Expired(s.ttl, s.now()) {
		delete(s.records, token)
		return nil, false
	}
	return rec, true
}
