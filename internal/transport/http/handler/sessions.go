package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-verify-handoff/internal/application/session"
	"github.com/go-verify-handoff/internal/domain"
	"github.com/go-verify-handoff/internal/transport/http/middleware"
)

// SessionHandler handles session endpoints.
type SessionHandler struct {
	svc session.Service
}

func NewSessionHandler(svc session.Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// Exchange trades a verified correlation token for a Bearer token.
func (h *SessionHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req session.ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.svc.Exchange(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, AuthEnvelope{Bearer: res.Bearer, Profile: res.Profile})
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "session expired or not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "not verified yet")
	default:
		slog.Error("session exchange failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	env := ClaimsEnvelope{
		PhoneNumber:       claims.PhoneNumber,
		Name:              claims.Name,
		Email:             claims.Email,
		VerificationToken: claims.VerificationToken,
		Role:              claims.Role,
	}
	if claims.ExpiresAt != nil {
		env.ExpiresAt = claims.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, env)
}
