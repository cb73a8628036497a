package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultAddr, cfg.Addr)
	require.Equal(t, DefaultPublicOrigin, cfg.PublicOrigin)
	require.Equal(t, "openai", cfg.LLM.Provider)
	require.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
	require.False(t, cfg.Dev)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
addr: "0.0.0.0:9090"
public_origin: "https://patchbay.example.com"
allow_hosts:
  - "*.internal.example.com"
dev: true
llm:
  provider: scripted
  model: test-model
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9090", cfg.Addr)
	require.Equal(t, "https://patchbay.example.com", cfg.PublicOrigin)
	require.Equal(t, []string{"*.internal.example.com"}, cfg.AllowHosts)
	require.True(t, cfg.Dev)
	require.Equal(t, "scripted", cfg.LLM.Provider)
	require.Equal(t, "test-model", cfg.LLM.Model)
	// Unset file fields keep their defaults.
	require.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnv)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `addr: "127.0.0.1:7000"`)
	t.Setenv("PATCHBAY_ADDR", "127.0.0.1:7001")
	t.Setenv("PATCHBAY_ALLOW_HOSTS", "a.example.com, b.example.com")
	t.Setenv("PATCHBAY_DEV", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7001", cfg.Addr)
	require.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.AllowHosts)
	require.True(t, cfg.Dev)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: mystery
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "unknown llm provider")
}

func TestAPIKeyResolution(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-test")
	cfg := Default()
	cfg.LLM.APIKeyEnv = "TEST_PROVIDER_KEY"
	require.Equal(t, "sk-test", cfg.APIKey())

	cfg.LLM.APIKeyEnv = ""
	require.Empty(t, cfg.APIKey())
}
