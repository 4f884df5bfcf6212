package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-verify-handoff/internal/application/verification"
	"github.com/go-verify-handoff/internal/domain"
)

const maxCallbackBody = 64 << 10

// AuditLister exposes recent audit events.
type AuditLister interface {
	List(limit int) []domain.AuditEvent
}

// VerificationHandler handles the verification handoff endpoints.
type VerificationHandler struct {
	svc  verification.Service
	logs AuditLister
}

func NewVerificationHandler(svc verification.Service, logs AuditLister) *VerificationHandler {
	return &VerificationHandler{svc: svc, logs: logs}
}

// callbackPayload accepts both our field names and the provider's native ones.
type callbackPayload struct {
	Token           string `json:"token"`
	RequestID       string `json:"requestId"`
	Credential      string `json:"credential"`
	AccessToken     string `json:"accessToken"`
	ProfileEndpoint string `json:"profileEndpoint"`
	Endpoint        string `json:"endpoint"`
}

func (p callbackPayload) request() verification.CallbackRequest {
	return verification.CallbackRequest{
		Token:           strings.TrimSpace(firstNonEmpty(p.Token, p.RequestID)),
		Credential:      strings.TrimSpace(firstNonEmpty(p.Credential, p.AccessToken)),
		ProfileEndpoint: strings.TrimSpace(firstNonEmpty(p.ProfileEndpoint, p.Endpoint)),
	}
}

func (h *VerificationHandler) Start(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Start(r.Context())
	if err != nil {
		status := statusFor(err)
		if status == http.StatusServiceUnavailable {
			writeError(w, status, "verification is not configured")
			return
		}
		slog.Error("start verification failed", "err", err)
		writeError(w, status, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, StartEnvelope{
		Token:        res.Token,
		DeepLink:     res.DeepLink,
		ExpiresIn:    res.ExpiresIn.Milliseconds(),
		PollInterval: res.PollInterval.Milliseconds(),
		PollTimeout:  res.PollTimeout.Milliseconds(),
	})
}

// Callback receives the provider's server-to-server notification. It only
// records the callback; the profile is fetched in the background.
func (h *VerificationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var p callbackPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBody)).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, CallbackEnvelope{Error: "invalid request body"})
		return
	}
	err := h.svc.HandleCallback(r.Context(), p.request())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, CallbackEnvelope{OK: true})
	case errors.Is(err, domain.ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, CallbackEnvelope{Error: err.Error()})
	default:
		slog.Error("verification callback failed", "err", err, "request_id", chimiddleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, CallbackEnvelope{Error: "internal error"})
	}
}

// Status answers the client's poll. Unknown tokens read as pending and the
// intermediate processing state is not exposed.
func (h *VerificationHandler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tok := strings.TrimSpace(firstNonEmpty(q.Get("token"), q.Get("nonce")))
	if tok == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	rec, err := h.svc.Status(r.Context(), tok)
	if err != nil {
		slog.Error("verification status failed", "err", err, "request_id", chimiddleware.GetReqID(r.Context()))
		writeError(w, statusFor(err), "internal error")
		return
	}
	env := StatusEnvelope{Token: tok, State: rec.State}
	switch rec.State {
	case domain.StateProcessing:
		env.State = domain.StatePending
	case domain.StateVerified:
		env.Profile = rec.Profile
	case domain.StateFailed:
		env.FailureReason = rec.FailureReason
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, env)
}

// Logs lists recent audit events, newest first.
func (h *VerificationHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	events := []domain.AuditEvent{}
	if h.logs != nil {
		events = append(events, h.logs.List(limit)...)
	}
	writeJSON(w, http.StatusOK, AuditEnvelope{Data: events})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
