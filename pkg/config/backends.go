package config

import "sort"

// Backend returns the adapter/model binding for a backend id.
func (c *RoutingConfig) Backend(id string) (BackendSpec, bool) {
	if c == nil || c.Backends == nil {
		return BackendSpec{}, false
	}
	spec, ok := c.Backends[id]
	return spec, ok
}

// HasBackend returns true if id is a configured backend.
func (c *RoutingConfig) HasBackend(id string) bool {
	_, ok := c.Backend(id)
	return ok
}

// BackendIDs returns all configured backend ids, sorted.
func (c *RoutingConfig) BackendIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Backends))
	for id := range c.Backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Chain returns primary followed by its configured fallbacks, with
// duplicates removed and order preserved.
func (c *RoutingConfig) Chain(primary string) []string {
	chain := []string{primary}
	seen := map[string]bool{primary: true}
	if c == nil {
		return chain
	}
	for _, id := range c.FallbackChains[primary] {
		if seen[id] {
			continue
		}
		seen[id] = true
		chain = append(chain, id)
	}
	return chain
}

// Price returns the pricing for a backend. Backends with no entry are free.
func (c *RoutingConfig) Price(id string) ModelPricing {
	if c == nil || c.Pricing == nil {
		return ModelPricing{}
	}
	return c.Pricing[id]
}

// Task returns the task type with the given name.
func (c *RoutingConfig) Task(name string) (TaskType, bool) {
	if c == nil {
		return TaskType{}, false
	}
	for _, t := range c.TaskTypes {
		if t.Name == name {
			return t, true
		}
	}
	return TaskType{}, false
}
