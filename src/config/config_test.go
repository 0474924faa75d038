package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	assert.Same(t, Cfg, cfg)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxUploadSizeBytes)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, 60*time.Minute, cfg.AccessTokenExpiry)
	assert.Equal(t, 10, cfg.FallbackRetain)
	assert.Equal(t, 0.5, cfg.ResolverAcceptThreshold)
	assert.Equal(t, 80.0, cfg.TargetHedgeRatio)
	assert.False(t, cfg.AutoApprove)
	assert.Equal(t, "log", cfg.AlertProvider)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("ACCESS_TOKEN_EXPIRY", "15m")
	t.Setenv("RESOLVER_FUZZY_CUTOFF", "0.65")
	t.Setenv("AUTO_APPROVE", "true")
	t.Setenv("TARGET_HEDGE_RATIO", "not-a-number")
	t.Setenv("FALLBACK_RETAIN", "-3")

	cfg := LoadConfig()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenExpiry)
	assert.Equal(t, 0.65, cfg.ResolverFuzzyCutoff)
	assert.True(t, cfg.AutoApprove)
	assert.Equal(t, 80.0, cfg.TargetHedgeRatio, "invalid values fall back to the default")
	assert.Equal(t, 10, cfg.FallbackRetain)
}

func TestMailgunWithoutCredentialsFallsBackToLog(t *testing.T) {
	t.Setenv("ALERT_PROVIDER", "mailgun")
	t.Setenv("MAILGUN_DOMAIN", "")
	assert.Equal(t, "log", LoadConfig().AlertProvider)
}
