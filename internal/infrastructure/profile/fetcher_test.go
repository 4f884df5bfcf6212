package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerServer(t *testing.T, status int, body string) (*httptest.Server, *string) {
	t.Helper()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &gotAuth
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	return pe.FailureReason()
}

func TestFetch_Success_SendsBearer(t *testing.T) {
	srv, gotAuth := providerServer(t, http.StatusOK, `{"phoneNumbers":[15550001],"name":{"first":"Ann","last":"Lee"}}`)
	f := NewFetcher(Options{Timeout: time.Second, RequirePhone: true})

	p, err := f.Fetch(context.Background(), "cred-1", srv.URL+"/profile")
	require.NoError(t, err)
	assert.Equal(t, "Bearer cred-1", *gotAuth)
	assert.Equal(t, "15550001", p.PhoneNumber)
	assert.Equal(t, "Ann Lee", p.Name)
}

func TestFetch_NonOKStatus(t *testing.T) {
	srv, _ := providerServer(t, http.StatusUnauthorized, `{"message":"bad token"}`)
	_, err := NewFetcher(Options{}).Fetch(context.Background(), "c", srv.URL)
	assert.Equal(t, "profile provider returned status 401", reasonOf(t, err))
}

func TestFetch_ProviderErrorInBody(t *testing.T) {
	srv, _ := providerServer(t, http.StatusOK, `{"error":{"message":"access token expired"}}`)
	_, err := NewFetcher(Options{}).Fetch(context.Background(), "c", srv.URL)
	assert.Equal(t, "access token expired", reasonOf(t, err))
}

func TestFetch_MalformedBody(t *testing.T) {
	for _, body := range []string{`not json`, `[1,2,3]`, `null`} {
		srv, _ := providerServer(t, http.StatusOK, body)
		_, err := NewFetcher(Options{}).Fetch(context.Background(), "c", srv.URL)
		assert.Equal(t, "malformed profile response", reasonOf(t, err), body)
	}
}

func TestFetch_BodyTooLarge(t *testing.T) {
	big := `{"phoneNumber":"1","pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	srv, _ := providerServer(t, http.StatusOK, big)
	_, err := NewFetcher(Options{}).Fetch(context.Background(), "c", srv.URL)
	assert.Equal(t, "malformed profile response", reasonOf(t, err))
}

func TestFetch_MissingPhone(t *testing.T) {
	srv, _ := providerServer(t, http.StatusOK, `{"name":{"first":"Ann"}}`)

	_, err := NewFetcher(Options{RequirePhone: true}).Fetch(context.Background(), "c", srv.URL)
	assert.Equal(t, "no phone number in profile", reasonOf(t, err))

	p, err := NewFetcher(Options{RequirePhone: false}).Fetch(context.Background(), "c", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Ann", p.FirstName)
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewFetcher(Options{Timeout: 5 * time.Second}).Fetch(ctx, "c", srv.URL)
	assert.Equal(t, "profile fetch timed out", reasonOf(t, err))
}

func TestFetch_TransportFailure(t *testing.T) {
	srv, _ := providerServer(t, http.StatusOK, `{}`)
	addr := srv.URL
	srv.Close()

	_, err := NewFetcher(Options{Timeout: time.Second}).Fetch(context.Background(), "c", addr)
	assert.Equal(t, "profile fetch failed", reasonOf(t, err))
}

func TestFetch_InvalidEndpoint(t *testing.T) {
	f := NewFetcher(Options{})
	for _, ep := range []string{"", "not a url", "/relative/path", "ftp://example.com/p", "http://"} {
		_, err := f.Fetch(context.Background(), "c", ep)
		assert.Equal(t, "invalid profile endpoint", reasonOf(t, err), ep)
	}
}

func TestFetch_HostAllowList(t *testing.T) {
	srv, _ := providerServer(t, http.StatusOK, `{"phoneNumber":"1"}`)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	_, err = NewFetcher(Options{AllowedHosts: []string{"profile.example.com"}}).Fetch(context.Background(), "c", srv.URL)
	assert.Equal(t, "profile endpoint host not allowed", reasonOf(t, err))

	p, err := NewFetcher(Options{AllowedHosts: []string{u.Hostname()}}).Fetch(context.Background(), "c", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "1", p.PhoneNumber)
}
