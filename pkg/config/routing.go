package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GeneralTask is the catch-all category for prompts no keyword matches.
const GeneralTask = "general"

// DefaultAttemptTimeout bounds a single backend attempt.
const DefaultAttemptTimeout = 60 * time.Second

// RoutingConfig holds the routing rules configuration. It is loaded once at
// startup and treated as read-only afterwards.
type RoutingConfig struct {
	TaskTypes       []TaskType             `yaml:"task_types"`
	DefaultBackend  string                 `yaml:"default_backend"`
	Rules           []Rule                 `yaml:"rules,omitempty"`
	FallbackChains  map[string][]string    `yaml:"fallback_chains,omitempty"`
	Backends        map[string]BackendSpec `yaml:"backends"`
	Pricing         PricingConfig          `yaml:"pricing,omitempty"`
	BaselineBackend string                 `yaml:"baseline_backend,omitempty"`
	AttemptTimeout  time.Duration          `yaml:"attempt_timeout,omitempty"`
}

// TaskType defines a category of tasks and the backend that serves it by
// default. Order in the list is the classification precedence.
type TaskType struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Backend  string   `yaml:"backend"`
}

// Rule overrides the classified backend when all of its tags are present
// on a request.
type Rule struct {
	Name     string   `yaml:"name"`
	Tags     []string `yaml:"tags"`
	Backend  string   `yaml:"backend"`
	Priority int      `yaml:"priority,omitempty"`
}

// BackendSpec binds a backend identifier to an adapter and model.
type BackendSpec struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

// PricingConfig maps backend id -> pricing.
type PricingConfig map[string]ModelPricing

// ModelPricing defines USD per one million tokens, input and output priced independently.
type ModelPricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRoutingConfig(data)
}

// ParseRoutingConfig decodes YAML routing configuration and applies defaults.
func ParseRoutingConfig(data []byte) (*RoutingConfig, error) {
	var cfg RoutingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Field: "routing", Reason: err.Error()}
	}

	applyRoutingDefaults(&cfg)
	return &cfg, nil
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{
		TaskTypes: []TaskType{
			{
				Name:     "bug_fix",
				Keywords: []string{"fix", "bug", "bugs", "error", "errors", "broken", "crash", "crashes", "issue", "debug"},
				Backend:  "local-coder",
			},
			{
				Name:     "code_review",
				Keywords: []string{"review", "check", "audit", "inspect", "quality"},
				Backend:  "claude-sonnet",
			},
			{
				Name:     "architecture",
				Keywords: []string{"architect", "architecture", "design", "structure", "pattern", "system", "scalability", "diagram"},
				Backend:  "claude-sonnet",
			},
			{
				Name:     "documentation",
				Keywords: []string{"document", "documentation", "readme", "comment", "comments", "docstring", "explain"},
				Backend:  "local-llama",
			},
			{
				Name:     "refactor",
				Keywords: []string{"refactor", "clean", "simplify", "reorganize", "improve"},
				Backend:  "local-coder",
			},
			{
				Name:     "code_generation",
				Keywords: []string{"create", "build", "implement", "add", "write", "generate", "make"},
				Backend:  "local-coder",
			},
		},
		DefaultBackend: "local-llama",
		Rules: []Rule{
			{Name: "critical", Tags: []string{"critical"}, Backend: "claude-opus", Priority: 100},
			{Name: "security", Tags: []string{"security"}, Backend: "claude-opus", Priority: 90},
			{Name: "long-context", Tags: []string{"long-context"}, Backend: "gemini-flash", Priority: 50},
			{Name: "cheap", Tags: []string{"cheap"}, Backend: "local-llama", Priority: 10},
		},
		FallbackChains: map[string][]string{
			"local-coder":   {"local-llama", "deepseek-coder", "claude-sonnet"},
			"local-llama":   {"gpt-4o-mini", "claude-sonnet"},
			"gpt-4o-mini":   {"gemini-flash", "claude-sonnet"},
			"claude-sonnet": {"gpt-4o", "claude-opus"},
			"claude-opus":   {"claude-sonnet"},
		},
		Backends: map[string]BackendSpec{
			"local-llama":    {Adapter: "ollama", Model: "llama3.1:8b"},
			"local-coder":    {Adapter: "ollama", Model: "qwen2.5-coder:7b"},
			"gpt-4o-mini":    {Adapter: "openai", Model: "gpt-4o-mini"},
			"gpt-4o":         {Adapter: "openai", Model: "gpt-4o"},
			"claude-sonnet":  {Adapter: "anthropic", Model: "claude-sonnet-4-20250514"},
			"claude-opus":    {Adapter: "anthropic", Model: "claude-opus-4-20250514"},
			"gemini-flash":   {Adapter: "google", Model: "gemini-2.0-flash"},
			"deepseek-coder": {Adapter: "deepseek", Model: "deepseek-coder"},
		},
		Pricing: PricingConfig{
			"local-llama":    {},
			"local-coder":    {},
			"gpt-4o-mini":    {InputPerMTok: 0.15, OutputPerMTok: 0.60},
			"gpt-4o":         {InputPerMTok: 2.50, OutputPerMTok: 10.00},
			"claude-sonnet":  {InputPerMTok: 3.00, OutputPerMTok: 15.00},
			"claude-opus":    {InputPerMTok: 15.00, OutputPerMTok: 75.00},
			"gemini-flash":   {InputPerMTok: 0.10, OutputPerMTok: 0.40},
			"deepseek-coder": {InputPerMTok: 0.27, OutputPerMTok: 1.10},
		},
		BaselineBackend: "claude-opus",
	}

	applyRoutingDefaults(cfg)
	return cfg
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.BaselineBackend == "" {
		cfg.BaselineBackend = mostExpensiveBackend(cfg.Pricing)
	}
}

// mostExpensiveBackend picks the backend with the highest combined price,
// breaking ties by name so the result is stable.
func mostExpensiveBackend(pricing PricingConfig) string {
	best := ""
	bestPrice := -1.0
	for id, p := range pricing {
		price := p.InputPerMTok + p.OutputPerMTok
		if price > bestPrice || (price == bestPrice && id < best) {
			best = id
			bestPrice = price
		}
	}
	return best
}
