package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultRoutingConfigIsValid(t *testing.T) {
	cfg := DefaultRoutingConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.AttemptTimeout != DefaultAttemptTimeout {
		t.Fatalf("expected default attempt timeout, got %s", cfg.AttemptTimeout)
	}
}

func TestParseRoutingConfigPreservesTaskOrder(t *testing.T) {
	data := []byte(`
task_types:
  - name: zeta
    keywords: [z]
    backend: local
  - name: alpha
    keywords: [a]
    backend: local
default_backend: local
backends:
  local: {adapter: ollama, model: llama3}
  opus: {adapter: anthropic, model: claude-opus-4-20250514}
pricing:
  local: {input_per_mtok: 0, output_per_mtok: 0}
  opus: {input_per_mtok: 15, output_per_mtok: 75}
attempt_timeout: 5s
`)
	cfg, err := ParseRoutingConfig(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.TaskTypes[0].Name != "zeta" || cfg.TaskTypes[1].Name != "alpha" {
		t.Fatalf("task order not preserved: %+v", cfg.TaskTypes)
	}
	if cfg.AttemptTimeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cfg.AttemptTimeout)
	}
	if cfg.BaselineBackend != "opus" {
		t.Fatalf("expected most expensive backend as baseline, got %q", cfg.BaselineBackend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *RoutingConfig {
		return &RoutingConfig{
			DefaultBackend: "local",
			Backends: map[string]BackendSpec{
				"local": {Adapter: "ollama", Model: "llama3"},
				"opus":  {Adapter: "anthropic", Model: "claude-opus"},
			},
			AttemptTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*RoutingConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*RoutingConfig) {}},
		{
			name: "rule unknown backend",
			mutate: func(c *RoutingConfig) {
				c.Rules = []Rule{{Name: "r", Tags: []string{"x"}, Backend: "missing"}}
			},
			wantErr: `unknown backend "missing"`,
		},
		{
			name: "rule empty tags",
			mutate: func(c *RoutingConfig) {
				c.Rules = []Rule{{Name: "r", Backend: "opus"}}
			},
			wantErr: "empty tag set",
		},
		{
			name: "duplicate rule",
			mutate: func(c *RoutingConfig) {
				c.Rules = []Rule{
					{Name: "r", Tags: []string{"x"}, Backend: "opus"},
					{Name: "r", Tags: []string{"y"}, Backend: "local"},
				}
			},
			wantErr: "duplicate rule",
		},
		{
			name: "chain unknown fallback",
			mutate: func(c *RoutingConfig) {
				c.FallbackChains = map[string][]string{"local": {"ghost"}}
			},
			wantErr: `unknown fallback backend "ghost"`,
		},
		{
			name: "task unknown backend",
			mutate: func(c *RoutingConfig) {
				c.TaskTypes = []TaskType{{Name: "bug_fix", Keywords: []string{"fix"}, Backend: "ghost"}}
			},
			wantErr: "unknown backend",
		},
		{
			name: "reserved general task",
			mutate: func(c *RoutingConfig) {
				c.TaskTypes = []TaskType{{Name: GeneralTask, Keywords: []string{"x"}, Backend: "local"}}
			},
			wantErr: "reserved",
		},
		{
			name: "negative price",
			mutate: func(c *RoutingConfig) {
				c.Pricing = PricingConfig{"opus": {InputPerMTok: -1}}
			},
			wantErr: "must not be negative",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *RoutingConfig) { c.AttemptTimeout = 0 },
			wantErr: "attempt_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigurationError, got %T", err)
			}
		})
	}
}

func TestChainDeduplicatesAndPreservesOrder(t *testing.T) {
	cfg := &RoutingConfig{
		FallbackChains: map[string][]string{
			"a": {"b", "a", "c", "b"},
		},
	}
	got := cfg.Chain("a")
	want := []string{"a", "b", "c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Chain() = %v, want %v", got, want)
	}

	if got := cfg.Chain("solo"); len(got) != 1 || got[0] != "solo" {
		t.Fatalf("Chain() without fallbacks = %v", got)
	}
}

func TestBackendIDsSorted(t *testing.T) {
	cfg := DefaultRoutingConfig()
	ids := cfg.BackendIDs()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			t.Fatalf("ids not sorted: %v", ids)
		}
	}
	if cfg.Price("unknown") != (ModelPricing{}) {
		t.Fatalf("expected zero price for unknown backend")
	}
}
