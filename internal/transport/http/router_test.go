package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-verify-handoff/internal/application/verification"
	"github.com/go-verify-handoff/internal/config"
	"github.com/go-verify-handoff/internal/infrastructure/auditlog"
	"github.com/go-verify-handoff/internal/infrastructure/memstore"
	"github.com/go-verify-handoff/internal/infrastructure/profile"
	"github.com/go-verify-handoff/internal/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// provider fakes the identity provider's profile endpoint. Each credential
// maps to a response; "slow-*" credentials block until release is closed.
type provider struct {
	*httptest.Server
	release chan struct{}
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	p := &provider{release: make(chan struct{})}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		switch {
		case cred == "expired":
			w.WriteHeader(http.StatusUnauthorized)
			return
		case strings.HasPrefix(cred, "slow-"):
			<-p.release
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"phoneNumbers":[919876543210],"name":{"first":"Ada","last":"%s"}}`, cred)
	}))
	t.Cleanup(func() {
		select {
		case <-p.release:
		default:
			close(p.release)
		}
		p.Close()
	})
	return p
}

type app struct {
	server   *httptest.Server
	provider *provider
}

func newApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	prov := newProvider(t)
	d := worker.NewDispatcher(4, 32)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	ring := auditlog.NewRing(50)
	svc := verification.NewService(verification.ServiceDeps{
		Store:      memstore.NewStore(time.Minute),
		Fetcher:    profile.NewFetcher(profile.Options{Timeout: 2 * time.Second, RequirePhone: true}),
		Dispatcher: d,
		Audit:      ring,
		Options:    verification.Options{RecordTTL: time.Minute, FetchTimeout: 2 * time.Second},
	})
	srv := httptest.NewServer(NewRouter(cfg, &Deps{Verifications: svc, AuditLog: ring}))
	t.Cleanup(srv.Close)
	return &app{server: srv, provider: prov}
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                 "development",
		AllowedOrigins:         []string{"*"},
		RateLimitRPS:           100,
		RateLimitBurst:         100,
		CallbackRateLimitRPS:   100,
		CallbackRateLimitBurst: 100,
	}
}

func (a *app) callback(t *testing.T, body map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(a.server.URL+"/v1/verifications/callback", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (a *app) status(t *testing.T, tok string) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(a.server.URL + "/v1/verifications/status?token=" + tok)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var env map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func (a *app) waitFor(t *testing.T, tok, state string) map[string]interface{} {
	t.Helper()
	var env map[string]interface{}
	require.Eventually(t, func() bool {
		env = a.status(t, tok)
		return env["state"] == state
	}, 3*time.Second, 10*time.Millisecond)
	return env
}

func TestFlow_Verified(t *testing.T) {
	a := newApp(t, testConfig())

	resp := a.callback(t, map[string]string{"token": "t1", "credential": "c1", "profileEndpoint": a.provider.URL})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env := a.waitFor(t, "t1", "verified")
	profile := env["profile"].(map[string]interface{})
	assert.Equal(t, "919876543210", profile["phoneNumber"])
	assert.Equal(t, "Ada c1", profile["name"])
}

func TestFlow_ProviderRejects(t *testing.T) {
	a := newApp(t, testConfig())

	a.callback(t, map[string]string{"token": "t1", "credential": "expired", "profileEndpoint": a.provider.URL})

	env := a.waitFor(t, "t1", "failed")
	assert.Equal(t, "profile provider returned status 401", env["failureReason"])
}

func TestFlow_InvalidCallbackCreatesNothing(t *testing.T) {
	a := newApp(t, testConfig())

	resp := a.callback(t, map[string]string{"token": "t1", "credential": "c1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, "pending", a.status(t, "t1")["state"])
}

func TestFlow_LastCallbackWins(t *testing.T) {
	a := newApp(t, testConfig())

	a.callback(t, map[string]string{"token": "t1", "credential": "slow-one", "profileEndpoint": a.provider.URL})
	a.callback(t, map[string]string{"token": "t1", "credential": "fast", "profileEndpoint": a.provider.URL})

	env := a.waitFor(t, "t1", "verified")
	assert.Equal(t, "Ada fast", env["profile"].(map[string]interface{})["name"])

	close(a.provider.release)
	time.Sleep(50 * time.Millisecond)
	env = a.status(t, "t1")
	assert.Equal(t, "verified", env["state"])
	assert.Equal(t, "Ada fast", env["profile"].(map[string]interface{})["name"])
}

func TestFlow_ConcurrentPollsSeeSameRecord(t *testing.T) {
	a := newApp(t, testConfig())
	a.callback(t, map[string]string{"token": "t1", "credential": "c1", "profileEndpoint": a.provider.URL})
	a.waitFor(t, "t1", "verified")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(a.server.URL + "/v1/verifications/status?token=t1")
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			var env map[string]interface{}
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
			assert.Equal(t, "verified", env["state"])
		}()
	}
	wg.Wait()
}

func TestRouter_LogsHiddenInProduction(t *testing.T) {
	cfg := testConfig()
	dev := newApp(t, cfg)
	resp, err := http.Get(dev.server.URL + "/v1/verifications/logs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	prodCfg := testConfig()
	prodCfg.AppEnv = "production"
	prod := newApp(t, prodCfg)
	resp, err = http.Get(prod.server.URL + "/v1/verifications/logs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_SessionRoutesNeedKeys(t *testing.T) {
	a := newApp(t, testConfig())
	resp, err := http.Post(a.server.URL+"/v1/sessions/verification", "application/json", bytes.NewBufferString(`{"token":"t1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
