package auditlog

import (
	"context"
	"errors"
	"sync"

	"github.com/go-verify-handoff/internal/domain"
)

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
}

// Ring keeps the most recent events in memory.
type Ring struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	next   int
	full   bool
}

func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{events: make([]domain.AuditEvent, size)}
}

func (r *Ring) Record(_ context.Context, ev domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = ev
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// List returns up to limit events, newest first. limit <= 0 returns all.
func (r *Ring) List(limit int) []domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.events)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.AuditEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out
}

// Multi fans an event out to every sink. All sinks are tried; errors are joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev domain.AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
