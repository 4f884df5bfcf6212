package verification

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-verify-handoff/internal/domain"
	"github.com/go-verify-handoff/internal/pkg/token"
)

// reasoner is implemented by fetch errors that carry a client-facing reason.
type reasoner interface {
	FailureReason() string
}

// failureReason maps a fetch error to the reason stored on the record.
// Raw transport errors are never exposed.
func failureReason(err error) string {
	var r reasoner
	if errors.As(err, &r) && r.FailureReason() != "" {
		return r.FailureReason()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "profile fetch timed out"
	}
	return "profile fetch failed"
}

// fetchJob resolves one pending record. It is submitted exactly once per accepted callback.
type fetchJob struct {
	svc     *service
	pending *domain.VerificationRecord
}

func (j *fetchJob) Run(ctx context.Context) {
	s := j.svc
	base := j.pending.Processing(s.now())
	applied, err := j.transition(ctx, base)
	switch {
	case err != nil:
		// keep going: pending -> terminal is still a valid transition
		base = j.pending
	case !applied:
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	profile, err := s.fetcher.Fetch(fetchCtx, j.pending.Credential, j.pending.ProfileEndpoint)
	cancel()

	var next *domain.VerificationRecord
	switch {
	case err != nil:
		slog.Info("profile fetch failed", "token", j.pending.Token, "err", err)
		next = base.Failed(failureReason(err), s.now())
	case profile == nil:
		next = base.Failed("malformed profile response", s.now())
	default:
		next = base.Verified(profile, s.now())
	}
	j.finish(ctx, next)
}

// Abort fails the record without fetching. Transition accepts a failed record
// whether the stored one is still pending or already processing.
func (j *fetchJob) Abort(ctx context.Context, reason string) {
	j.finish(ctx, j.pending.Failed(reason, j.svc.now()))
}

func (j *fetchJob) finish(ctx context.Context, next *domain.VerificationRecord) {
	if applied, err := j.transition(ctx, next); err != nil || !applied {
		return
	}
	s := j.svc
	kind := domain.AuditFetchVerified
	if next.State == domain.StateFailed {
		kind = domain.AuditFetchFailed
	}
	s.record(ctx, domain.AuditEvent{
		Kind:        kind,
		Token:       next.Token,
		Attempt:     next.Attempt,
		Fingerprint: token.Fingerprint(j.pending.Credential),
		Detail:      next.FailureReason,
	})
	s.publish(ctx, next)
}

// transition writes next. Store writes outlive the dispatcher context so a
// shutdown cannot strand a record mid-flight.
func (j *fetchJob) transition(ctx context.Context, next *domain.VerificationRecord) (bool, error) {
	s := j.svc
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	applied, err := s.store.Transition(wctx, next)
	if err != nil {
		slog.Error("verification transition failed", "token", next.Token, "state", next.State, "err", err)
		return false, err
	}
	if !applied {
		slog.Info("verification superseded", "token", next.Token, "attempt", next.Attempt, "state", next.State)
		s.record(ctx, domain.AuditEvent{
			Kind:    domain.AuditFetchSuperseded,
			Token:   next.Token,
			Attempt: next.Attempt,
			Detail:  string(next.State),
		})
	}
	return applied, nil
}
