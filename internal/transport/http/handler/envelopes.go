package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-verify-handoff/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// CallbackEnvelope is the acknowledgement returned to the identity provider.
type CallbackEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StatusEnvelope is the poll response. Profile is set only when verified,
// FailureReason only when failed.
type StatusEnvelope struct {
	Token         string          `json:"token"`
	State         domain.State    `json:"state"`
	Profile       *domain.Profile `json:"profile,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
}

// StartEnvelope carries a new correlation token. Durations are milliseconds.
type StartEnvelope struct {
	Token        string `json:"token"`
	DeepLink     string `json:"deepLink"`
	ExpiresIn    int64  `json:"expiresIn"`
	PollInterval int64  `json:"pollInterval"`
	PollTimeout  int64  `json:"pollTimeout"`
}

// AuthEnvelope wraps session exchange responses.
type AuthEnvelope struct {
	Bearer  string          `json:"Bearer,omitempty"`
	Profile *domain.Profile `json:"profile,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ClaimsEnvelope describes the caller's session.
type ClaimsEnvelope struct {
	PhoneNumber       string `json:"phone_number"`
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
	VerificationToken string `json:"verification_token"`
	Role              string `json:"role"`
	ExpiresAt         int64  `json:"expires_at,omitempty"`
}

// AuditEnvelope wraps the recent audit events.
type AuditEnvelope struct {
	Data []domain.AuditEvent `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// statusFor maps domain sentinels onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
