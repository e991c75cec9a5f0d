package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zen-systems/routegate/pkg/artifact"
)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	name            string
	responses       map[string]string
	defaultResponse string
	Usage           *Usage

	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return NewMockAdapterWithResponses(nil, "")
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	if responses == nil {
		responses = make(map[string]string)
	}
	return &MockAdapter{
		name:            "mock",
		responses:       responses,
		defaultResponse: defaultResponse,
		errs:            make(map[string]error),
		calls:           make(map[string]int),
	}
}

// FailModel makes every call for model return err. A nil err clears it.
func (a *MockAdapter) FailModel(model string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.errs, model)
		return
	}
	a.errs[model] = err
}

// Calls returns how many times model was invoked.
func (a *MockAdapter) Calls(model string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[model]
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Generate returns a deterministic artifact for the prompt.
func (a *MockAdapter) Generate(ctx context.Context, model string, prompt string, _ Params) (*Response, error) {
	if model == "" {
		model = "mock-1"
	}

	a.mu.Lock()
	a.calls[model]++
	err := a.errs[model]
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	usage := a.usageFor(prompt)
	if response, ok := a.responses[prompt]; ok {
		return &Response{Artifact: artifact.New(response, a.Name(), model), Usage: usage}, nil
	}
	content := fmt.Sprintf("%s\n%s", a.defaultResponse, prompt)
	return &Response{Artifact: artifact.New(content, a.Name(), model), Usage: usage}, nil
}

// usageFor approximates token counts by whitespace words when no fixed
// usage was configured.
func (a *MockAdapter) usageFor(prompt string) *Usage {
	if a.Usage != nil {
		u := a.Usage.Normalize()
		return &u
	}
	u := Usage{
		PromptTokens:     len(strings.Fields(prompt)),
		CompletionTokens: len(strings.Fields(a.defaultResponse)) + len(strings.Fields(prompt)),
	}.Normalize()
	return &u
}
