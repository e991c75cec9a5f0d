package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zen-systems/routegate/pkg/config"
)

// RuleEngine selects tag-based backend overrides. Rules are fixed once the
// engine is built.
type RuleEngine struct {
	rules []compiledRule
}

type compiledRule struct {
	name     string
	tags     []string
	backend  string
	priority int
}

// NewRuleEngine compiles rules in declaration order. Every rule must target a
// backend for which known returns true.
func NewRuleEngine(rules []config.Rule, known func(string) bool) (*RuleEngine, error) {
	re := &RuleEngine{}
	var errs []error
	for i, rule := range rules {
		field := fmt.Sprintf("rules[%d]", i)
		if len(rule.Tags) == 0 {
			errs = append(errs, &config.ConfigurationError{Field: field, Reason: "rule has no tags"})
			continue
		}
		if known != nil && !known(rule.Backend) {
			errs = append(errs, &config.ConfigurationError{Field: field, Reason: fmt.Sprintf("unknown backend %q", rule.Backend)})
			continue
		}
		cr := compiledRule{name: rule.Name, backend: rule.Backend, priority: rule.Priority}
		for _, tag := range rule.Tags {
			cr.tags = append(cr.tags, normalizeTag(tag))
		}
		re.rules = append(re.rules, cr)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return re, nil
}

// Match returns the name and backend of the winning rule for tags. The
// highest priority rule whose tags are all present wins; the first declared
// rule wins ties.
func (re *RuleEngine) Match(tags []string) (name, backend string, ok bool) {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		set[normalizeTag(tag)] = struct{}{}
	}

	best := -1
	for i, rule := range re.rules {
		if !subset(rule.tags, set) {
			continue
		}
		if best == -1 || rule.priority > re.rules[best].priority {
			best = i
		}
	}
	if best == -1 {
		return "", "", false
	}
	return re.rules[best].name, re.rules[best].backend, true
}

// Apply returns the backend for a request with tags, given its classification.
func (re *RuleEngine) Apply(tags []string, cls Classification) string {
	if _, backend, ok := re.Match(tags); ok {
		return backend
	}
	return cls.Backend
}

// Len returns the number of compiled rules.
func (re *RuleEngine) Len() int {
	return len(re.rules)
}

func subset(required []string, set map[string]struct{}) bool {
	for _, tag := range required {
		if _, ok := set[tag]; !ok {
			return false
		}
	}
	return true
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
