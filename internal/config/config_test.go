package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("ADMIN_NOTIFICATION_EMAILS", "a@example.com, b@example.com ,")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Session.Secret)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Email.AdminEmails)
	assert.Equal(t, 10*time.Minute, cfg.Codes.TTL)
	assert.Equal(t, 60*time.Second, cfg.Codes.MinInterval)
	assert.Equal(t, 5, cfg.Codes.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Codes.Lockout)
	assert.Equal(t, "access", cfg.Cookies.AccessName)
	assert.Equal(t, "refresh", cfg.Cookies.RefreshName)
	assert.Equal(t, "/", cfg.Cookies.Path)
	assert.Equal(t, ThrottleRule{Limit: 10, Window: time.Minute}, cfg.Throttle.Rules["code_ip"])
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
server:
  port: 8081
session:
  secret: from-file
  access_ttl: 5m
  refresh_ttl: 1h
codes:
  min_interval: 30s
cookies:
  secure: true
  same_site: Strict
throttle:
  rules:
    code_ip:
      limit: 2
      window: 10s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "from-file", cfg.Session.Secret)
	assert.Equal(t, 5*time.Minute, cfg.Session.AccessTTL)
	assert.Equal(t, time.Hour, cfg.Session.RefreshTTL)
	assert.Equal(t, 30*time.Second, cfg.Codes.MinInterval)
	assert.True(t, cfg.Cookies.Secure)
	assert.Equal(t, "Strict", cfg.Cookies.SameSite)
	assert.Equal(t, "access", cfg.Cookies.AccessName)
	assert.Equal(t, ThrottleRule{Limit: 2, Window: 10 * time.Second}, cfg.Throttle.Rules["code_ip"])
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := writeYAML(t, "session:\n  secret: from-file\n")
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Session.Secret)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeYAML(t, "server: [oops")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"missing secret": func(c *Config) { c.Session.Secret = "" },
		"access not shorter than refresh": func(c *Config) {
			c.Session.AccessTTL = time.Hour
			c.Session.RefreshTTL = time.Hour
		},
		"zero code ttl":    func(c *Config) { c.Codes.TTL = 0 },
		"bad throttle rule": func(c *Config) { c.Throttle.Rules["x"] = ThrottleRule{Limit: 0, Window: time.Second} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Session.Secret = "x"
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Session.Secret = "x"
	assert.NoError(t, cfg.Validate())
}
