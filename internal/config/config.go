// Package config loads server configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the file nor the environment sets a value.
const (
	DefaultAddr         = "127.0.0.1:8080"
	DefaultPublicOrigin = "http://127.0.0.1:8080"
	DefaultLLMProvider  = "openai"
	DefaultAPIKeyEnv    = "OPENAI_API_KEY"
)

// LLM configures the completion backend.
type LLM struct {
	// Provider selects the backend: "openai" or "scripted".
	Provider string `yaml:"provider"`
	// Model names the provider model. Empty means the provider default.
	Model string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the provider key.
	// The key itself never appears in config files.
	APIKeyEnv string `yaml:"api_key_env"`
}

// Config is the root configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`
	// PublicOrigin is the externally reachable base URL, used to resolve
	// relative gear output URLs.
	PublicOrigin string `yaml:"public_origin"`
	// AllowHosts are egress targets exempt from the private-range block.
	// Entries may use glob patterns, e.g. "*.internal.example.com".
	AllowHosts []string `yaml:"allow_hosts"`
	// Dev enables stack traces in error payloads and the scripted LLM
	// fallback when no API key is present.
	Dev bool `yaml:"dev"`

	LLM LLM `yaml:"llm"`
}

// Default returns a config with all defaults applied.
func Default() Config {
	return Config{
		Addr:         DefaultAddr,
		PublicOrigin: DefaultPublicOrigin,
		LLM: LLM{
			Provider:  DefaultLLMProvider,
			APIKeyEnv: DefaultAPIKeyEnv,
		},
	}
}

// Load reads path (when non-empty), layers the environment on top, and fills
// remaining gaps with defaults. A missing file at an explicitly given path is
// an error; path=="" skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides file values from PATCHBAY_* variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PATCHBAY_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("PATCHBAY_PUBLIC_ORIGIN"); v != "" {
		cfg.PublicOrigin = v
	}
	if v := os.Getenv("PATCHBAY_ALLOW_HOSTS"); v != "" {
		cfg.AllowHosts = splitList(v)
	}
	if v := os.Getenv("PATCHBAY_DEV"); v != "" {
		cfg.Dev = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PATCHBAY_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("PATCHBAY_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("PATCHBAY_LLM_API_KEY_ENV"); v != "" {
		cfg.LLM.APIKeyEnv = v
	}
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must be set")
	}
	switch c.LLM.Provider {
	case "openai", "scripted":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}

// APIKey resolves the provider key from the environment. Empty when unset.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
