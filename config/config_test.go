package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqueductlabs/aqueduct/retry"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
provider: anthropic
model: claude-sonnet-4-5
temperature: 0.3
max_tokens: 1024
system_message: be concise
backoff:
  strategy: linear
  base_delay: 100ms
  max_delay: 2s
  max_attempts: 5
graceful_cancellation_timeout: 5s
`))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, 0.3, *cfg.Temperature)
	require.NotNil(t, cfg.MaxTokens)
	assert.Equal(t, 1024, *cfg.MaxTokens)
	assert.Equal(t, "5s", cfg.GracefulCancellationTimeout)

	require.NotNil(t, cfg.Backoff)
	rc := cfg.Backoff.toRetry()
	assert.Equal(t, retry.StrategyLinear, rc.Strategy)
	assert.Equal(t, 100*time.Millisecond, rc.BaseDelay)
	assert.Equal(t, 2*time.Second, rc.MaxDelay)
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.True(t, rc.Jitter, "unset jitter keeps the default")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "malformed yaml",
			yaml: "provider: [unclosed",
		},
		{
			name: "bad graceful timeout",
			yaml: "graceful_cancellation_timeout: soon",
		},
		{
			name: "unknown backoff strategy",
			yaml: "backoff:\n  strategy: fibonacci",
		},
		{
			name: "bad backoff delay",
			yaml: "backoff:\n  base_delay: fast",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aqueduct.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: ollama\nmodel: llama3.2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, "llama3.2", cfg.Model)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	temp := 0.7
	cfg := &Config{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Temperature: &temp,
		Backoff:     &Backoff{MaxAttempts: 2},
	}

	opts := cfg.Options()
	assert.Len(t, opts, 4)
}

func TestOptions_Empty(t *testing.T) {
	cfg := &Config{}
	assert.Empty(t, cfg.Options())
}
