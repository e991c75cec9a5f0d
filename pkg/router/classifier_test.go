package router

import (
	"testing"

	"github.com/zen-systems/routegate/pkg/config"
)

func TestClassifier_DefaultTable(t *testing.T) {
	c := NewClassifier(config.DefaultRoutingConfig())

	tests := []struct {
		name     string
		prompt   string
		category string
		backend  string
	}{
		{
			name:     "bug fix",
			prompt:   "fix the crash in login",
			category: "bug_fix",
			backend:  "local-coder",
		},
		{
			name:     "code review",
			prompt:   "Please review this pull request",
			category: "code_review",
			backend:  "claude-sonnet",
		},
		{
			name:     "architecture",
			prompt:   "Design a scalable event system",
			category: "architecture",
			backend:  "claude-sonnet",
		},
		{
			name:     "documentation",
			prompt:   "Write a README for the project",
			category: "documentation",
			backend:  "local-llama",
		},
		{
			name:     "refactor",
			prompt:   "refactor this handler",
			category: "refactor",
			backend:  "local-coder",
		},
		{
			name:     "code generation",
			prompt:   "implement a binary search",
			category: "code_generation",
			backend:  "local-coder",
		},
		{
			name:     "no match",
			prompt:   "what's the weather like today?",
			category: config.GeneralTask,
			backend:  "local-llama",
		},
		{
			name:     "empty prompt",
			prompt:   "",
			category: config.GeneralTask,
			backend:  "local-llama",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.prompt)
			if got.Category != tt.category || got.Backend != tt.backend {
				t.Errorf("Classify(%q) = %+v, want {%s %s}", tt.prompt, got, tt.category, tt.backend)
			}
		})
	}
}

func TestClassifier_DeclarationOrderBreaksTies(t *testing.T) {
	cfg := &config.RoutingConfig{
		DefaultBackend: "d",
		TaskTypes: []config.TaskType{
			{Name: "first", Keywords: []string{"beta"}, Backend: "b1"},
			{Name: "second", Keywords: []string{"alpha"}, Backend: "b2"},
		},
	}
	c := NewClassifier(cfg)

	// "alpha" appears first in the text but "first" is declared first.
	got := c.Classify("alpha beta")
	if got.Category != "first" {
		t.Fatalf("expected first, got %s", got.Category)
	}
}

func TestClassifier_WholeTokensOnly(t *testing.T) {
	cfg := &config.RoutingConfig{
		DefaultBackend: "d",
		TaskTypes: []config.TaskType{
			{Name: "bug_fix", Keywords: []string{"fix"}, Backend: "b"},
		},
	}
	c := NewClassifier(cfg)

	if got := c.Classify("prefix the string"); got.Category != config.GeneralTask {
		t.Fatalf("substring must not match, got %s", got.Category)
	}
	if got := c.Classify("FIX: nil pointer"); got.Category != "bug_fix" {
		t.Fatalf("case-insensitive token should match, got %s", got.Category)
	}
}

func TestClassifier_Phrases(t *testing.T) {
	cfg := &config.RoutingConfig{
		DefaultBackend: "d",
		TaskTypes: []config.TaskType{
			{Name: "explain", Keywords: []string{"what is"}, Backend: "b"},
		},
	}
	c := NewClassifier(cfg)

	if got := c.Classify("What is a goroutine?"); got.Category != "explain" {
		t.Fatalf("expected phrase match, got %s", got.Category)
	}
	if got := c.Classify("somewhat isolated"); got.Category != config.GeneralTask {
		t.Fatalf("phrase must respect word boundaries, got %s", got.Category)
	}
}

func TestContainsTrigger(t *testing.T) {
	tests := []struct {
		prompt  string
		trigger string
		want    bool
	}{
		{"what is go", "what is", true},
		{"somewhat is", "what is", false},
		{"somewhat is, what is", "what is", true},
		{"tell me what isn't", "what is", false},
		{"end with what is", "what is", true},
	}
	for _, tt := range tests {
		if got := containsTrigger(tt.prompt, tt.trigger); got != tt.want {
			t.Errorf("containsTrigger(%q, %q) = %v, want %v", tt.prompt, tt.trigger, got, tt.want)
		}
	}
}
