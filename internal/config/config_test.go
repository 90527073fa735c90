package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("RUSTMEND_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
	require.NoError(t, err)
	assert.Equal(t, "cargo", cfg.Build.Tool)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, ".rustmend_cache.db", cfg.Cache.Path)
	assert.True(t, cfg.Web.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("RUSTMEND_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: gemini
  model: gemini-2.5-flash
  timeout: 5m
retry:
  max_attempts: 3
cache:
  disabled: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, 5*time.Minute, cfg.LLM.Timeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Cache.Disabled)
	// Untouched sections keep defaults.
	assert.Equal(t, "cargo", cfg.Build.Tool)
}

func TestLoadEnvAPIKeyWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  api_key: from-file\n"), 0o644))

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("RUSTMEND_API_KEY", "from-env")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
}

func TestLoadGeminiKeyOnlyFillsBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  api_key: from-file\n"), 0o644))

	t.Setenv("RUSTMEND_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "fallback")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.LLM.APIKey, "GEMINI_API_KEY must not override an explicit key")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero attempts", "retry:\n  max_attempts: 0\n"},
		{"empty tool", "build:\n  tool: \"\"\n"},
		{"enabled cache without path", "cache:\n  path: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DefaultFileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
