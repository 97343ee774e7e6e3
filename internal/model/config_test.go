package model

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-positive window", func(c *Config) { c.Extraction.ContextBefore = 0 }},
		{"negative top-n", func(c *Config) { c.Selection.TopN = -1 }},
		{"fraction above one", func(c *Config) { c.Selection.TopFraction = 1.5 }},
		{"weight out of range", func(c *Config) { c.Keywords.Weights = map[string]int{"cyrk": 5} }},
		{"keyword also excluded", func(c *Config) {
			c.Keywords.Weights = map[string]int{"cyrk": 3}
			c.Keywords.Exclude = []string{"cyrk"}
		}},
		{"keyword excluded in another case", func(c *Config) {
			c.Keywords.Weights = map[string]int{"ŚMIECH NA SALI": 2}
			c.Keywords.Exclude = []string{"śmiech  na sali"}
		}},
		{"keyword excluded with combining accent", func(c *Config) {
			c.Keywords.Weights = map[string]int{"śmiech": 2}
			c.Keywords.Exclude = []string{"S\u0301MIECH"}
		}},
		{"unknown provider", func(c *Config) { c.Providers.Order = []string{"bard"} }},
		{"duplicate provider alias", func(c *Config) { c.Providers.Order = []string{"anthropic", "claude"} }},
		{"empty provider order", func(c *Config) { c.Providers.Order = nil }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"max backoff below base", func(c *Config) { c.Retry.MaxBackoff = time.Millisecond }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "redis" }},
		{"missing cache path", func(c *Config) { c.Cache.Path = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestConfig_MemoryBackendNeedsNoPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Backend = "memory"
	cfg.Cache.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected memory backend without path to be valid, got %v", err)
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.Providers.Settings = map[string]ProviderConfig{
		"openai": {APIKey: "sk-test"},
	}
	cfg.ApplyDefaults()

	openai := cfg.Provider("openai")
	if openai.APIKey != "sk-test" {
		t.Errorf("expected api key to survive, got %q", openai.APIKey)
	}
	if openai.RatePerMinute != 50 {
		t.Errorf("expected default rate 50, got %v", openai.RatePerMinute)
	}
	if cfg.Provider("claude").RatePerMinute != 40 {
		t.Errorf("expected claude alias to resolve to anthropic defaults")
	}
}

func TestStatement_ID(t *testing.T) {
	if got := (Statement{Num: 7}).ID(); got != "7" {
		t.Errorf("expected 7, got %s", got)
	}
	if got := (Statement{Num: 7, ProceedingID: "10-2"}).ID(); got != "10-2/7" {
		t.Errorf("expected 10-2/7, got %s", got)
	}
}

func TestFoldKeyword(t *testing.T) {
	tests := map[string]string{
		"Cyrk":               "cyrk",
		"  ŻENADA   totalna ": "żenada totalna",
		"ŻENADA":       "żenada",
	}
	for in, want := range tests {
		if got := FoldKeyword(in); got != want {
			t.Errorf("FoldKeyword(%q) = %q, want %q", in, got, want)
		}
	}
}
