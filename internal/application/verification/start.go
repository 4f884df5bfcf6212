package verification

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-verify-handoff/internal/domain"
	"github.com/go-verify-handoff/internal/pkg/token"
)

const deepLinkBase = "truecallersdk://truesdk/web_verify"

// Partner identifies this app to the provider's mobile SDK.
type Partner struct {
	Key          string
	Name         string
	Lang         string
	PublicURL    string // privacy and terms pages live under it
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// StartResult is what a client needs to open the provider app and poll.
type StartResult struct {
	Token        string
	DeepLink     string
	ExpiresIn    time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Start issues a fresh correlation token and the deep link carrying it.
// Nothing is stored: a record only exists once the provider calls back.
func (s *service) Start(_ context.Context) (*StartResult, error) {
	p := s.opts.Partner
	if p.Key == "" {
		return nil, fmt.Errorf("partner key not configured: %w", domain.ErrUnavailable)
	}
	tok := token.NewCorrelationToken()

	q := url.Values{}
	q.Set("type", "btmsheet")
	q.Set("requestNonce", tok)
	q.Set("partnerKey", p.Key)
	q.Set("partnerName", p.Name)
	q.Set("lang", p.Lang)
	q.Set("privacyUrl", p.PublicURL+"/privacy")
	q.Set("termsUrl", p.PublicURL+"/terms")
	q.Set("loginPrefix", "Continue")
	q.Set("ctaPrefix", "Verify with")
	q.Set("btnShape", "rounded")
	q.Set("ttl", strconv.FormatInt(s.opts.RecordTTL.Milliseconds(), 10))

	return &StartResult{
		Token:        tok,
		DeepLink:     deepLinkBase + "?" + q.Encode(),
		ExpiresIn:    s.opts.RecordTTL,
		PollInterval: p.PollInterval,
		PollTimeout:  p.PollTimeout,
	}, nil
}
