package config

import (
	"errors"
	"fmt"
)

// Validate checks that every rule, task, chain and price references a known
// backend. All problems are joined into one error; each is a *ConfigurationError.
func (c *RoutingConfig) Validate() error {
	if c == nil {
		return &ConfigurationError{Reason: "routing config is missing"}
	}

	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if len(c.Backends) == 0 {
		fail("backends", "at least one backend is required")
	}
	for id, spec := range c.Backends {
		if spec.Adapter == "" {
			fail("backends."+id, "adapter is required")
		}
	}

	if c.DefaultBackend == "" {
		fail("default_backend", "is required")
	} else if !c.HasBackend(c.DefaultBackend) {
		fail("default_backend", "unknown backend %q", c.DefaultBackend)
	}

	tasks := make(map[string]bool, len(c.TaskTypes))
	for i, t := range c.TaskTypes {
		field := fmt.Sprintf("task_types[%d]", i)
		switch {
		case t.Name == "":
			fail(field, "name is required")
		case t.Name == GeneralTask:
			fail(field, "%q is reserved for the catch-all category", GeneralTask)
		case tasks[t.Name]:
			fail(field, "duplicate task type %q", t.Name)
		}
		tasks[t.Name] = true
		if len(t.Keywords) == 0 {
			fail(field, "task type %q has no keywords", t.Name)
		}
		if !c.HasBackend(t.Backend) {
			fail(field, "task type %q references unknown backend %q", t.Name, t.Backend)
		}
	}

	rules := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if r.Name == "" {
			fail(field, "name is required")
		} else if rules[r.Name] {
			fail(field, "duplicate rule %q", r.Name)
		}
		rules[r.Name] = true
		if len(r.Tags) == 0 {
			fail(field, "rule %q has an empty tag set", r.Name)
		}
		if !c.HasBackend(r.Backend) {
			fail(field, "rule %q references unknown backend %q", r.Name, r.Backend)
		}
	}

	for primary, chain := range c.FallbackChains {
		if !c.HasBackend(primary) {
			fail("fallback_chains."+primary, "unknown primary backend %q", primary)
		}
		for _, id := range chain {
			if !c.HasBackend(id) {
				fail("fallback_chains."+primary, "unknown fallback backend %q", id)
			}
		}
	}

	for id, p := range c.Pricing {
		if !c.HasBackend(id) {
			fail("pricing."+id, "unknown backend %q", id)
		}
		if p.InputPerMTok < 0 || p.OutputPerMTok < 0 {
			fail("pricing."+id, "prices must not be negative")
		}
	}

	if c.BaselineBackend != "" && !c.HasBackend(c.BaselineBackend) {
		fail("baseline_backend", "unknown backend %q", c.BaselineBackend)
	}
	if c.AttemptTimeout <= 0 {
		fail("attempt_timeout", "must be positive")
	}

	return errors.Join(errs...)
}
