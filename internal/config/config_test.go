package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_MAX_OPEN_CONNS", "20")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("STORAGE_DRIVER", "MinIO")
	t.Setenv("UPLOAD_STAGING_TTL", "30m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.MinIO.UseSSL)
	assert.Equal(t, "minio", cfg.Storage.Driver)
	assert.Equal(t, 30*time.Minute, cfg.Upload.StagingTTL)
	assert.Equal(t, float64(10), cfg.Upload.DefaultMaxSizeMB)
	assert.Equal(t, 5, cfg.Security.SubmissionLimit.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Security.CSRFLifetime)
}

func TestLoad_SecurityPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
disposable_email_domains: [" Spam.example "]
csrf_lifetime: 10m
submission_limit:
  max_attempts: 3
  window: 1m
`), 0o600))
	t.Setenv("SECURITY_POLICY_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"spam.example"}, cfg.Security.DisposableEmailDomains)
	assert.Equal(t, 10*time.Minute, cfg.Security.CSRFLifetime)
	assert.Equal(t, RateLimitRule{MaxAttempts: 3, Window: time.Minute}, cfg.Security.SubmissionLimit)
	// untouched keys keep defaults
	assert.Equal(t, 20, cfg.Security.UploadLimit.MaxAttempts)
}

func TestLoadSecurityPolicy_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSecurityPolicy(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("upload_limit:\n  max_attempts: 0\n  window: 1m\n"), 0o600))
	_, err = LoadSecurityPolicy(bad)
	assert.ErrorContains(t, err, "upload_limit")
}

func TestGetEnv(t *testing.T) {
	key := "TEST_ENV_VAR"
	t.Setenv(key, "value")

	assert.Equal(t, "value", getEnv(key, "default"))
	assert.Equal(t, "default", getEnv("NON_EXISTENT", "default"))
}

func TestGetEnvBool(t *testing.T) {
	key := "TEST_BOOL_VAR"

	t.Setenv(key, "true")
	assert.True(t, getEnvBool(key, false))

	t.Setenv(key, "false")
	assert.False(t, getEnvBool(key, true))

	t.Setenv(key, "invalid")
	assert.True(t, getEnvBool(key, true))

	os.Unsetenv(key)
	assert.True(t, getEnvBool(key, true))
}

func TestGetEnvInt(t *testing.T) {
	key := "TEST_INT_VAR"

	t.Setenv(key, "123")
	assert.Equal(t, 123, getEnvInt(key, 0))

	t.Setenv(key, "invalid")
	assert.Equal(t, 10, getEnvInt(key, 10))

	os.Unsetenv(key)
	assert.Equal(t, 10, getEnvInt(key, 10))
}

func TestGetEnvDuration(t *testing.T) {
	key := "TEST_DURATION_VAR"

	t.Setenv(key, "90s")
	assert.Equal(t, 90*time.Second, getEnvDuration(key, time.Minute))

	t.Setenv(key, "-5s")
	assert.Equal(t, time.Minute, getEnvDuration(key, time.Minute))

	t.Setenv(key, "soon")
	assert.Equal(t, time.Minute, getEnvDuration(key, time.Minute))
}
