package router

import (
	"errors"
	"testing"

	"github.com/zen-systems/routegate/pkg/config"
)

func knownBackends(ids ...string) func(string) bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(id string) bool { return set[id] }
}

func TestRuleEngine_CriticalOverride(t *testing.T) {
	re, err := NewRuleEngine([]config.Rule{
		{Name: "critical", Tags: []string{"critical"}, Backend: "opus", Priority: 100},
	}, knownBackends("opus", "gpt-mini"))
	if err != nil {
		t.Fatalf("NewRuleEngine: %v", err)
	}

	got := re.Apply([]string{"critical"}, Classification{Category: "general", Backend: "gpt-mini"})
	if got != "opus" {
		t.Fatalf("expected opus, got %s", got)
	}
}

func TestRuleEngine_HighestPriorityWins(t *testing.T) {
	re, err := NewRuleEngine([]config.Rule{
		{Name: "low", Tags: []string{"x"}, Backend: "low", Priority: 10},
		{Name: "high", Tags: []string{"x"}, Backend: "high", Priority: 20},
	}, knownBackends("low", "high"))
	if err != nil {
		t.Fatalf("NewRuleEngine: %v", err)
	}

	if got := re.Apply([]string{"x"}, Classification{Backend: "d"}); got != "high" {
		t.Fatalf("expected high, got %s", got)
	}
}

func TestRuleEngine_FirstDeclaredWinsTies(t *testing.T) {
	re, err := NewRuleEngine([]config.Rule{
		{Name: "a", Tags: []string{"x"}, Backend: "first", Priority: 5},
		{Name: "b", Tags: []string{"x"}, Backend: "second", Priority: 5},
	}, knownBackends("first", "second"))
	if err != nil {
		t.Fatalf("NewRuleEngine: %v", err)
	}

	name, backend, ok := re.Match([]string{"x"})
	if !ok || name != "a" || backend != "first" {
		t.Fatalf("expected rule a -> first, got %s -> %s (%v)", name, backend, ok)
	}
}

func TestRuleEngine_SubsetMatch(t *testing.T) {
	re, err := NewRuleEngine([]config.Rule{
		{Name: "both", Tags: []string{"security", "critical"}, Backend: "opus", Priority: 100},
	}, knownBackends("opus"))
	if err != nil {
		t.Fatalf("NewRuleEngine: %v", err)
	}

	tests := []struct {
		name string
		tags []string
		want string
	}{
		{"all tags present", []string{"critical", "security"}, "opus"},
		{"superset of tags", []string{"critical", "security", "extra"}, "opus"},
		{"case and whitespace", []string{" Critical", "SECURITY "}, "opus"},
		{"partial", []string{"critical"}, "default"},
		{"none", nil, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := re.Apply(tt.tags, Classification{Backend: "default"}); got != tt.want {
				t.Errorf("Apply(%v) = %s, want %s", tt.tags, got, tt.want)
			}
		})
	}
}

func TestRuleEngine_UnknownBackendIsConfigurationError(t *testing.T) {
	_, err := NewRuleEngine([]config.Rule{
		{Name: "bad", Tags: []string{"x"}, Backend: "nowhere", Priority: 1},
	}, knownBackends("opus"))

	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRuleEngine_EmptyTagsRejected(t *testing.T) {
	_, err := NewRuleEngine([]config.Rule{
		{Name: "empty", Backend: "opus"},
	}, knownBackends("opus"))
	if err == nil {
		t.Fatal("expected error for rule without tags")
	}
}
