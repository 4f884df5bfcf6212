package http

import (
	"github.com/go-verify-handoff/internal/application/session"
	"github.com/go-verify-handoff/internal/application/verification"
	jwtinfra "github.com/go-verify-handoff/internal/infrastructure/jwt"
	"github.com/go-verify-handoff/internal/transport/http/handler"
)

// Deps holds the application services the router exposes.
// Sessions and JWTProvider are nil when no signing keys are configured;
// the session routes are then not mounted.
type Deps struct {
	Verifications verification.Service
	Sessions      session.Service
	JWTProvider   *jwtinfra.Provider
	AuditLog      handler.AuditLister
	// Checks back the readiness probe, keyed by dependency name.
	Checks        map[string]handler.Check
}
