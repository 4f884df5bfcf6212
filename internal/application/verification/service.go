package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-verify-handoff/internal/domain"
	"github.com/go-verify-handoff/internal/pkg/id"
	"github.com/go-verify-handoff/internal/pkg/token"
	"github.com/go-verify-handoff/internal/pkg/validate"
	"github.com/go-verify-handoff/internal/pkg/worker"
)

// CallbackRequest is the normalized payload posted by the identity provider.
type CallbackRequest struct {
	Token           string `json:"token" validate:"required"`
	Credential      string `json:"credential" validate:"required"`
	ProfileEndpoint string `json:"profileEndpoint" validate:"required"`
}

// Store is the correlation store. Records passed in and returned are copies.
// Get returns domain.ErrNotFound when no live record exists.
type Store interface {
	Put(ctx context.Context, rec *domain.VerificationRecord) error
	PutIfAbsent(ctx context.Context, rec *domain.VerificationRecord) (bool, error)
	Get(ctx context.Context, token string) (*domain.VerificationRecord, error)
	// TakeIf deletes and returns the record only while its Attempt equals
	// attempt and its State is one of states. It reports false, without
	// deleting, when no live record matches.
	TakeIf(ctx context.Context, token, attempt string, states ...domain.State) (*domain.VerificationRecord, bool, error)
	// Transition replaces the stored record with next only when the stored
	// Attempt equals next.Attempt and its state can move to next.State.
	Transition(ctx context.Context, next *domain.VerificationRecord) (bool, error)
	SweepExpired(ctx context.Context, maxAge time.Duration) (int, error)
}

// ProfileFetcher performs the one-shot outbound profile call.
type ProfileFetcher interface {
	Fetch(ctx context.Context, credential, endpoint string) (*domain.Profile, error)
}

// Dispatcher schedules background tasks.
type Dispatcher interface {
	Submit(t worker.Task) error
}

// AuditSink records lifecycle events. Failures are logged, never propagated.
type AuditSink interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
}

// OutcomePublisher announces terminal outcomes. Failures are logged, never propagated.
type OutcomePublisher interface {
	Publish(ctx context.Context, o domain.Outcome) error
}

type Service interface {
	Start(ctx context.Context) (*StartResult, error)
	HandleCallback(ctx context.Context, req CallbackRequest) error
	// Status never reports absence: an unknown token is returned as a pending record.
	Status(ctx context.Context, token string) (*domain.VerificationRecord, error)
	// Consume removes and returns a verified record.
	Consume(ctx context.Context, token string) (*domain.VerificationRecord, error)
	Sweep(ctx context.Context) (int, error)
	RunSweeper(ctx context.Context, interval time.Duration)
}

// Options carries the policy knobs of the service.
type Options struct {
	RecordTTL       time.Duration
	FetchTimeout    time.Duration
	SingleUseStatus bool // StatusQuery consumes terminal records
	IgnoreDuplicate bool // first live callback wins, later ones are acknowledged only
	Partner         Partner
}

// ServiceDeps groups the collaborators. Audit and Outcomes may be nil.
type ServiceDeps struct {
	Store      Store
	Fetcher    ProfileFetcher
	Dispatcher Dispatcher
	Audit      AuditSink
	Outcomes   OutcomePublisher
	Options    Options
	Now        func() time.Time
}

// storeTimeout bounds every background store write.
const storeTimeout = 5 * time.Second

// takeAttempts bounds how often a single-use read retries when the record
// changes between its read and its take.
const takeAttempts = 3

type service struct {
	store      Store
	fetcher    ProfileFetcher
	dispatcher Dispatcher
	audit      AuditSink
	outcomes   OutcomePublisher
	opts       Options
	now        func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		store:      deps.Store,
		fetcher:    deps.Fetcher,
		dispatcher: deps.Dispatcher,
		audit:      deps.Audit,
		outcomes:   deps.Outcomes,
		opts:       deps.Options,
		now:        deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.opts.RecordTTL <= 0 {
		s.opts.RecordTTL = 10 * time.Minute
	}
	if s.opts.FetchTimeout <= 0 {
		s.opts.FetchTimeout = 10 * time.Second
	}
	if s.opts.Partner.PollInterval <= 0 {
		s.opts.Partner.PollInterval = 2 * time.Second
	}
	if s.opts.Partner.PollTimeout <= 0 {
		s.opts.Partner.PollTimeout = time.Minute
	}
	return s
}

func (s *service) HandleCallback(ctx context.Context, req CallbackRequest) error {
	if err := validate.Struct(req); err != nil {
		s.record(ctx, domain.AuditEvent{
			Kind:        domain.AuditCallbackRejected,
			Token:       req.Token,
			Fingerprint: token.Fingerprint(req.Credential),
			Detail:      err.Error(),
		})
		return fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}

	now := s.now()
	pending := domain.NewPending(req.Token, id.NewAt(now), req.Credential, req.ProfileEndpoint, now)

	if s.opts.IgnoreDuplicate {
		inserted, err := s.store.PutIfAbsent(ctx, pending)
		if err != nil {
			return fmt.Errorf("store pending record: %w", err)
		}
		if !inserted {
			slog.Info("duplicate callback ignored", "token", req.Token)
			s.record(ctx, domain.AuditEvent{
				Kind:        domain.AuditCallbackIgnored,
				Token:       req.Token,
				Fingerprint: token.Fingerprint(req.Credential),
			})
			return nil
		}
	} else if err := s.store.Put(ctx, pending); err != nil {
		return fmt.Errorf("store pending record: %w", err)
	}

	s.record(ctx, domain.AuditEvent{
		Kind:        domain.AuditCallbackAccepted,
		Token:       pending.Token,
		Attempt:     pending.Attempt,
		Fingerprint: token.Fingerprint(pending.Credential),
	})

	job := &fetchJob{svc: s, pending: pending}
	if err := s.dispatcher.Submit(job); err != nil {
		reason := "verification backlog full"
		if errors.Is(err, worker.ErrStopped) {
			reason = "service shutting down"
		}
		slog.Warn("profile fetch not scheduled", "token", pending.Token, "err", err)
		job.Abort(context.WithoutCancel(ctx), reason)
	}
	return nil
}

func (s *service) Status(ctx context.Context, tok string) (*domain.VerificationRecord, error) {
	if tok == "" {
		return nil, fmt.Errorf("token is required: %w", domain.ErrBadRequest)
	}
	for i := 0; i < takeAttempts; i++ {
		rec, err := s.store.Get(ctx, tok)
		if errors.Is(err, domain.ErrNotFound) {
			return unknown(tok), nil
		}
		if err != nil {
			return nil, err
		}
		if !s.opts.SingleUseStatus || !rec.State.Terminal() {
			return rec, nil
		}
		taken, ok, err := s.store.TakeIf(ctx, tok, rec.Attempt, rec.State)
		if err != nil {
			return nil, err
		}
		if ok {
			return taken, nil
		}
		// another poller took it or a newer callback replaced it; read again
	}
	return unknown(tok), nil
}

func (s *service) Consume(ctx context.Context, tok string) (*domain.VerificationRecord, error) {
	if tok == "" {
		return nil, fmt.Errorf("token is required: %w", domain.ErrBadRequest)
	}
	rec, err := s.store.Get(ctx, tok)
	if err != nil {
		return nil, err
	}
	if rec.State != domain.StateVerified {
		return nil, fmt.Errorf("verification is %s: %w", rec.State, domain.ErrConflict)
	}
	taken, ok, err := s.store.TakeIf(ctx, tok, rec.Attempt, domain.StateVerified)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("verification %q changed before it was consumed: %w", tok, domain.ErrNotFound)
	}
	return taken, nil
}

func (s *service) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.SweepExpired(ctx, s.opts.RecordTTL)
	if err != nil {
		return n, fmt.Errorf("sweep expired records: %w", err)
	}
	if n > 0 {
		slog.Info("swept expired verification records", "count", n)
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Warn("verification sweep failed", "err", err)
			}
		}
	}
}

func (s *service) record(ctx context.Context, ev domain.AuditEvent) {
	if s.audit == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if ev.ID == "" {
		ev.ID = id.NewAt(ev.At)
	}
	if err := s.audit.Record(ctx, ev); err != nil {
		slog.Warn("audit record failed", "kind", ev.Kind, "token", ev.Token, "err", err)
	}
}

func (s *service) publish(ctx context.Context, rec *domain.VerificationRecord) {
	if s.outcomes == nil {
		return
	}
	o := domain.Outcome{
		Token:         rec.Token,
		State:         rec.State,
		FailureReason: rec.FailureReason,
		At:            rec.UpdatedAt,
	}
	if rec.Profile != nil {
		o.PhoneNumber = rec.Profile.PhoneNumber
	}
	if err := s.outcomes.Publish(ctx, o); err != nil {
		slog.Warn("outcome publish failed", "token", rec.Token, "err", err)
	}
}

func unknown(tok string) *domain.VerificationRecord {
	return &domain.VerificationRecord{Token: tok, State: domain.StatePending}
}
