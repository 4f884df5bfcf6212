package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, 10*time.Minute, cfg.RecordTTL)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, ReadRepeatable, cfg.StatusReadMode)
	assert.Equal(t, DuplicateOverwrite, cfg.DuplicatePolicy)
	assert.True(t, cfg.RequirePhone)
	assert.Empty(t, cfg.ProfileAllowedHosts)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("RECORD_TTL", "90s")
	t.Setenv("FETCH_WORKERS", "3")
	t.Setenv("REQUIRE_PHONE", "false")
	t.Setenv("PROFILE_ALLOWED_HOSTS", "profile.example.com, , api.example.com")
	t.Setenv("PUBLIC_BASE_URL", "https://app.example.com/")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreRedis, cfg.StoreBackend)
	assert.Equal(t, 90*time.Second, cfg.RecordTTL)
	assert.Equal(t, 3, cfg.FetchWorkers)
	assert.False(t, cfg.RequirePhone)
	assert.Equal(t, []string{"profile.example.com", "api.example.com"}, cfg.ProfileAllowedHosts)
	assert.Equal(t, "https://app.example.com", cfg.PublicBaseURL)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("FETCH_WORKERS", "many")
	t.Setenv("FETCH_TIMEOUT", "soon")
	cfg := Load()
	assert.Equal(t, 8, cfg.FetchWorkers)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
}

func TestValidate_RejectsUnknownValues(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":   func(c *Config) { c.StoreBackend = "etcd" },
		"read mode": func(c *Config) { c.StatusReadMode = "twice" },
		"policy":    func(c *Config) { c.DuplicatePolicy = "merge" },
		"ttl":       func(c *Config) { c.RecordTTL = 0 },
		"timeout":   func(c *Config) { c.FetchTimeout = -time.Second },
		"workers":   func(c *Config) { c.FetchWorkers = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Load()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{AppEnv: "Production"}).IsProduction())
	assert.False(t, (&Config{AppEnv: "development"}).IsProduction())
}
