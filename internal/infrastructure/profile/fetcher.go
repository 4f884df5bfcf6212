package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-verify-handoff/internal/domain"
)

// maxBodyBytes caps the profile response read from the provider.
const maxBodyBytes = 1 << 20

// Error is a fetch failure with a reason safe to show to the polling client.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// FailureReason returns the client-facing reason.
func (e *Error) FailureReason() string { return e.Reason }

func fail(reason string, err error) error { return &Error{Reason: reason, Err: err} }

// Options configures a Fetcher.
type Options struct {
	Timeout      time.Duration
	RequirePhone bool
	AllowedHosts []string // empty allows any host
	HTTPClient   *http.Client
}

// Fetcher calls the provider's profile endpoint with the callback credential.
type Fetcher struct {
	client       *http.Client
	requirePhone bool
	allowedHosts map[string]struct{}
}

func NewFetcher(opts Options) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	f := &Fetcher{client: client, requirePhone: opts.RequirePhone}
	if len(opts.AllowedHosts) > 0 {
		f.allowedHosts = make(map[string]struct{}, len(opts.AllowedHosts))
		for _, h := range opts.AllowedHosts {
			f.allowedHosts[strings.ToLower(h)] = struct{}{}
		}
	}
	return f
}

// Fetch performs exactly one GET against endpoint and returns the normalized profile.
// Every failure is an *Error.
func (f *Fetcher) Fetch(ctx context.Context, credential, endpoint string) (*domain.Profile, error) {
	u, err := f.checkEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fail("invalid profile endpoint", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fail("profile fetch timed out", err)
		}
		return nil, fail("profile fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fail(fmt.Sprintf("profile provider returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fail("profile fetch timed out", err)
		}
		return nil, fail("profile fetch failed", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fail("malformed profile response", errors.New("profile body too large"))
	}

	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, fail("malformed profile response", err)
	}
	if msg, ok := providerError(raw); ok {
		return nil, fail(msg, nil)
	}

	p := Normalize(raw)
	if f.requirePhone && p.PhoneNumber == "" {
		return nil, fail("no phone number in profile", nil)
	}
	return p, nil
}

func (f *Fetcher) checkEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, fail("invalid profile endpoint", err)
	}
	if f.allowedHosts != nil {
		if _, ok := f.allowedHosts[strings.ToLower(u.Hostname())]; !ok {
			return nil, fail("profile endpoint host not allowed", nil)
		}
	}
	return u, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
