package router

// Classification is the task category of a request and the backend that
// serves that category by default.
type Classification struct {
	Category string `json:"category"`
	Backend  string `json:"backend"`
}

// Decision captures routing decision details.
type Decision struct {
	Category          string   `json:"category"`
	ClassifiedBackend string   `json:"classified_backend"`
	Keyword           string   `json:"keyword,omitempty"`
	Rule              string   `json:"rule,omitempty"`
	Backend           string   `json:"backend"`
	Chain             []string `json:"chain"`
	TaskOverridden    bool     `json:"task_overridden,omitempty"`
	BackendOverridden bool     `json:"backend_overridden,omitempty"`
	Reasons           []string `json:"reasons,omitempty"`
}
