package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/docmigrate/internal/core"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 20*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Server.Backend)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docmigrate.yaml")
	content := `
project: site
dataset: production
concurrency: 100
timeout: 45s
catalog: [faq, faqCategory]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("DOCMIGRATE_TOKEN", "secret")
	t.Setenv("DOCMIGRATE_DATASET", "staging")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "site", cfg.Project)
	assert.Equal(t, "staging", cfg.Dataset)
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, 25, cfg.Concurrency, "concurrency is clamped")
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"faq", "faqCategory"}, cfg.Catalog)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var cerr *core.ConfigurationError
	assert.True(t, errors.As(err, &cerr))
}

func TestValidateMissingCredential(t *testing.T) {
	cfg := Default()
	cfg.Project = "site"
	cfg.Dataset = "production"

	err := cfg.Validate()
	var cerr *core.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Reason, "token")
}

func TestValidateFailureThreshold(t *testing.T) {
	cfg := Default()
	cfg.Project, cfg.Dataset, cfg.Token = "p", "d", "t"
	cfg.FailureThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestLoadWebhooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docmigrate.yaml")
	content := `
project: site
dataset: production
token: secret
webhooks:
  - url: https://hooks.example.com/migrations
    events: ["migrate.*"]
  - url: https://hooks.example.com/all
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 2)
	assert.Equal(t, "https://hooks.example.com/migrations", cfg.Webhooks[0].URL)
	assert.Equal(t, []string{"migrate.*"}, cfg.Webhooks[0].Events)
	assert.Empty(t, cfg.Webhooks[1].Events)
	assert.NoError(t, cfg.Validate())

	cfg.Webhooks[1].URL = ""
	assert.Error(t, cfg.Validate())
}
