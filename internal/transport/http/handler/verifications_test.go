package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-verify-handoff/internal/application/verification"
	"github.com/go-verify-handoff/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mock ---

type mockVerificationSvc struct{ mock.Mock }

func (m *mockVerificationSvc) Start(ctx context.Context) (*verification.StartResult, error) {
	args := m.Called(ctx)
	if r, _ := args.Get(0).(*verification.StartResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVerificationSvc) HandleCallback(ctx context.Context, req verification.CallbackRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockVerificationSvc) Status(ctx context.Context, token string) (*domain.VerificationRecord, error) {
	args := m.Called(ctx, token)
	if r, _ := args.Get(0).(*domain.VerificationRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVerificationSvc) Consume(ctx context.Context, token string) (*domain.VerificationRecord, error) {
	args := m.Called(ctx, token)
	if r, _ := args.Get(0).(*domain.VerificationRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockVerificationSvc) Sweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockVerificationSvc) RunSweeper(ctx context.Context, interval time.Duration) {
	m.Called(ctx, interval)
}

type staticLogs []domain.AuditEvent

func (s staticLogs) List(limit int) []domain.AuditEvent {
	if limit < len(s) {
		return s[:limit]
	}
	return s
}

// --- helpers ---

func postJSON(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeCallback(t *testing.T, rr *httptest.ResponseRecorder) CallbackEnvelope {
	t.Helper()
	var env CallbackEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	return env
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var env map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	return env
}

// --- Callback ---

func TestCallback_Accepted(t *testing.T) {
	svc := &mockVerificationSvc{}
	svc.On("HandleCallback", mock.Anything, verification.CallbackRequest{
		Token: "t1", Credential: "c1", ProfileEndpoint: "https://p.example/me",
	}).Return(nil)
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Callback(rr, postJSON("/v1/verifications/callback", `{"token":"t1","credential":"c1","profileEndpoint":"https://p.example/me"}`))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeCallback(t, rr).OK)
	svc.AssertExpectations(t)
}

func TestCallback_ProviderFieldNames(t *testing.T) {
	svc := &mockVerificationSvc{}
	svc.On("HandleCallback", mock.Anything, verification.CallbackRequest{
		Token: "t1", Credential: "c1", ProfileEndpoint: "https://p.example/me",
	}).Return(nil)
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Callback(rr, postJSON("/v1/verifications/callback", `{"requestId":"t1","accessToken":"c1","endpoint":"https://p.example/me"}`))

	assert.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestCallback_InvalidBody(t *testing.T) {
	svc := &mockVerificationSvc{}
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Callback(rr, postJSON("/v1/verifications/callback", "not-json"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeCallback(t, rr)
	assert.False(t, env.OK)
	assert.NotEmpty(t, env.Error)
	svc.AssertNotCalled(t, "HandleCallback", mock.Anything, mock.Anything)
}

func TestCallback_ValidationError(t *testing.T) {
	svc := &mockVerificationSvc{}
	svc.On("HandleCallback", mock.Anything, mock.Anything).
		Return(fmt.Errorf("field 'profileEndpoint' failed 'required': %w", domain.ErrBadRequest))
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Callback(rr, postJSON("/v1/verifications/callback", `{"token":"t1","credential":"c1"}`))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeCallback(t, rr).Error, "profileEndpoint")
}

func TestCallback_StoreFailureHidesDetail(t *testing.T) {
	svc := &mockVerificationSvc{}
	svc.On("HandleCallback", mock.Anything, mock.Anything).Return(errors.New("redis: connection refused"))
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Callback(rr, postJSON("/v1/verifications/callback", `{"token":"t1","credential":"c1","profileEndpoint":"https://x"}`))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	env := decodeCallback(t, rr)
	assert.False(t, env.OK)
	assert.Equal(t, "internal error", env.Error)
}

// --- Status ---

func TestStatus_MissingToken(t *testing.T) {
	h := NewVerificationHandler(&mockVerificationSvc{}, nil)
	rr := httptest.NewRecorder()
	h.Status(rr, httptest.NewRequest(http.MethodGet, "/v1/verifications/status", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatus_NonceAlias(t *testing.T) {
	svc := &mockVerificationSvc{}
	svc.On("Status", mock.Anything, "t1").Return(&domain.VerificationRecord{Token: "t1", State: domain.StatePending}, nil)
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Status(rr, httptest.NewRequest(http.MethodGet, "/v1/verifications/status?nonce=t1", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pending", decodeStatus(t, rr)["state"])
}

func TestStatus_ProcessingReadsAsPending(t *testing.T) {
	svc := &mockVerificationSvc{}
	svc.On("Status", mock.Anything, "t1").Return(&domain.VerificationRecord{Token: "t1", State: domain.StateProcessing}, nil)
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Status(rr, httptest.NewRequest(http.MethodGet, "/v1/verifications/status?token=t1", nil))

	env := decodeStatus(t, rr)
	assert.Equal(t, "pending", env["state"])
	assert.Equal(t, "t1", env["token"])
}

func TestStatus_Verified(t *testing.T) {
	now := time.Now()
	rec := domain.NewPending("t1", "a", "c", "https://x", now).
		Verified(&domain.Profile{PhoneNumber: "+15550100", Name: "Ada"}, now)
	svc := &mockVerificationSvc{}
	svc.On("Status", mock.Anything, "t1").Return(rec, nil)
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Status(rr, httptest.NewRequest(http.MethodGet, "/v1/verifications/status?token=t1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	env := decodeStatus(t, rr)
	assert.Equal(t, "verified", env["state"])
	profile, ok := env["profile"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "+15550100", profile["phoneNumber"])
	assert.NotContains(t, env, "failureReason")
	assert.NotContains(t, env, "credential")
}

func TestStatus_Failed(t *testing.T) {
	now := time.Now()
	rec := domain.NewPending("t1", "a", "c", "https://x", now).Failed("profile provider returned status 401", now)
	svc := &mockVerificationSvc{}
	svc.On("Status", mock.Anything, "t1").Return(rec, nil)
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Status(rr, httptest.NewRequest(http.MethodGet, "/v1/verifications/status?token=t1", nil))

	env := decodeStatus(t, rr)
	assert.Equal(t, "failed", env["state"])
	assert.Equal(t, "profile provider returned status 401", env["failureReason"])
	assert.NotContains(t, env, "profile")
}

func TestStatus_StoreError(t *testing.T) {
	svc := &mockVerificationSvc{}
	svc.On("Status", mock.Anything, "t1").Return(nil, errors.New("dynamo: throttled"))
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Status(rr, httptest.NewRequest(http.MethodGet, "/v1/verifications/status?token=t1", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "throttled")
}

// --- Start ---

func TestStart_Created(t *testing.T) {
	svc := &mockVerificationSvc{}
	svc.On("Start", mock.Anything).Return(&verification.StartResult{
		Token:        "t1",
		DeepLink:     "truecallersdk://truesdk/web_verify?requestNonce=t1",
		ExpiresIn:    10 * time.Minute,
		PollInterval: 2 * time.Second,
		PollTimeout:  time.Minute,
	}, nil)
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Start(rr, httptest.NewRequest(http.MethodPost, "/v1/verifications", nil))

	require.Equal(t, http.StatusCreated, rr.Code)
	var env StartEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	assert.Equal(t, "t1", env.Token)
	assert.Equal(t, int64(600000), env.ExpiresIn)
	assert.Equal(t, int64(2000), env.PollInterval)
	assert.Equal(t, int64(60000), env.PollTimeout)
}

func TestStart_NotConfigured(t *testing.T) {
	svc := &mockVerificationSvc{}
	svc.On("Start", mock.Anything).Return(nil, fmt.Errorf("partner key not configured: %w", domain.ErrUnavailable))
	h := NewVerificationHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Start(rr, httptest.NewRequest(http.MethodPost, "/v1/verifications", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

// --- Logs ---

func TestLogs(t *testing.T) {
	logs := staticLogs{{ID: "e2"}, {ID: "e1"}}
	h := NewVerificationHandler(&mockVerificationSvc{}, logs)

	rr := httptest.NewRecorder()
	h.Logs(rr, httptest.NewRequest(http.MethodGet, "/v1/verifications/logs?limit=1", nil))

	var env AuditEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	require.Len(t, env.Data, 1)
	assert.Equal(t, "e2", env.Data[0].ID)
}

func TestLogs_NoSink(t *testing.T) {
	h := NewVerificationHandler(&mockVerificationSvc{}, nil)
	rr := httptest.NewRecorder()
	h.Logs(rr, httptest.NewRequest(http.MethodGet, "/v1/verifications/logs", nil))
	assert.JSONEq(t, `{"data":[]}`, rr.Body.String())
}
