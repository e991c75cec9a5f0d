package router

import (
	"fmt"
	"strings"

	"github.com/zen-systems/routegate/pkg/config"
)

// Input is the routing-relevant part of a request.
type Input struct {
	Prompt          string
	Tags            []string
	TaskOverride    string
	BackendOverride string
}

// RouteInfo describes a task type route.
type RouteInfo struct {
	TaskType string
	Keywords []string
	Backend  string
	Chain    []string
}

// Router combines the classifier, the rule engine and the fallback chain
// table into one routing decision.
type Router struct {
	config     *config.RoutingConfig
	classifier *Classifier
	rules      *RuleEngine
}

// New builds a router. The routing config is validated and any problem is
// returned as ConfigurationError.
func New(cfg *config.RoutingConfig) (*Router, error) {
	if cfg == nil {
		return nil, &config.ConfigurationError{Field: "routing", Reason: "missing routing config"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules, err := NewRuleEngine(cfg.Rules, cfg.HasBackend)
	if err != nil {
		return nil, err
	}
	return &Router{
		config:     cfg,
		classifier: NewClassifier(cfg),
		rules:      rules,
	}, nil
}

// Classifier returns the router's task classifier.
func (r *Router) Classifier() *Classifier {
	return r.classifier
}

// Rules returns the router's rule engine.
func (r *Router) Rules() *RuleEngine {
	return r.rules
}

// Route classifies the prompt, applies tag rules and resolves the fallback
// chain. An explicit backend override wins over rules; a task override skips
// classification.
func (r *Router) Route(in Input) (*Decision, error) {
	var (
		cls     Classification
		keyword string
		d       = &Decision{}
	)

	if task := strings.TrimSpace(in.TaskOverride); task != "" {
		if task == config.GeneralTask {
			cls = Classification{Category: config.GeneralTask, Backend: r.config.DefaultBackend}
		} else {
			tt, ok := r.config.Task(task)
			if !ok {
				return nil, &config.ConfigurationError{Field: "task_override", Reason: fmt.Sprintf("unknown task type %q", task)}
			}
			cls = Classification{Category: tt.Name, Backend: tt.Backend}
		}
		d.TaskOverridden = true
		d.Reasons = append(d.Reasons, "task override: "+cls.Category)
	} else {
		cls, keyword = r.classifier.classify(in.Prompt)
		if keyword != "" {
			d.Reasons = append(d.Reasons, fmt.Sprintf("keyword %q -> %s", keyword, cls.Category))
		} else {
			d.Reasons = append(d.Reasons, "no keyword matched; using "+cls.Category)
		}
	}

	d.Category = cls.Category
	d.ClassifiedBackend = cls.Backend
	d.Keyword = keyword
	d.Backend = cls.Backend

	if name, backend, ok := r.rules.Match(in.Tags); ok {
		d.Rule = name
		d.Backend = backend
		d.Reasons = append(d.Reasons, fmt.Sprintf("rule %q -> %s", name, backend))
	}

	if override := strings.TrimSpace(in.BackendOverride); override != "" {
		if !r.config.HasBackend(override) {
			return nil, &config.ConfigurationError{Field: "backend_override", Reason: fmt.Sprintf("unknown backend %q", override)}
		}
		d.Backend = override
		d.BackendOverridden = true
		d.Reasons = append(d.Reasons, "backend override: "+override)
	}

	d.Chain = r.config.Chain(d.Backend)
	return d, nil
}

// Routes lists the configured task types in classification order, followed
// by the general catch-all.
func (r *Router) Routes() []RouteInfo {
	var routes []RouteInfo
	for _, task := range r.config.TaskTypes {
		routes = append(routes, RouteInfo{
			TaskType: task.Name,
			Keywords: task.Keywords,
			Backend:  task.Backend,
			Chain:    r.config.Chain(task.Backend),
		})
	}
	routes = append(routes, RouteInfo{
		TaskType: config.GeneralTask,
		Backend:  r.config.DefaultBackend,
		Chain:    r.config.Chain(r.config.DefaultBackend),
	})
	return routes
}
