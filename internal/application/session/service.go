package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-verify-handoff/internal/domain"
	"github.com/go-verify-handoff/internal/pkg/id"
	"github.com/go-verify-handoff/internal/pkg/validate"
)

type ExchangeRequest struct {
	Token string `json:"token" validate:"required"`
}

type ExchangeResult struct {
	Bearer  string
	Profile *domain.Profile
}

// Verifications consumes verified records.
type Verifications interface {
	Consume(ctx context.Context, token string) (*domain.VerificationRecord, error)
}

// JWTSigner issues a session token for a verified profile.
type JWTSigner interface {
	Sign(profile *domain.Profile, verificationToken string) (string, error)
}

type AuditSink interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
}

type Service interface {
	// Exchange trades a verified correlation token for a session JWT.
	// The verification record is consumed: a second exchange returns ErrNotFound.
	Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error)
}

type ServiceDeps struct {
	Verifications Verifications
	JWTProvider   JWTSigner
	Audit         AuditSink
}

type service struct {
	verifications Verifications
	jwtProvider   JWTSigner
	audit         AuditSink
}

func NewService(deps ServiceDeps) Service {
	return &service{
		verifications: deps.Verifications,
		jwtProvider:   deps.JWTProvider,
		audit:         deps.Audit,
	}
}

func (s *service) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}
	rec, err := s.verifications.Consume(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	bearer, err := s.jwtProvider.Sign(rec.Profile, rec.Token)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	if s.audit != nil {
		now := time.Now().UTC()
		ev := domain.AuditEvent{
			ID:      id.NewAt(now),
			Kind:    domain.AuditSessionIssued,
			Token:   rec.Token,
			Attempt: rec.Attempt,
			At:      now,
		}
		if err := s.audit.Record(ctx, ev); err != nil {
			slog.Warn("audit record failed", "kind", ev.Kind, "token", ev.Token, "err", err)
		}
	}
	return &ExchangeResult{Bearer: bearer, Profile: rec.Profile}, nil
}
