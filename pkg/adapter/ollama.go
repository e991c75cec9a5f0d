package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zen-systems/routegate/pkg/artifact"
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaAdapter implements the Adapter interface for a local Ollama server.
type OllamaAdapter struct {
	baseURL    string
	httpClient *http.Client
	models     []string
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// NewOllamaAdapter creates an adapter for the Ollama server at host.
// An empty host uses the default local endpoint.
func NewOllamaAdapter(host string, models ...string) *OllamaAdapter {
	if host == "" {
		host = defaultOllamaHost
	}
	return &OllamaAdapter{
		baseURL:    strings.TrimRight(host, "/"),
		httpClient: &http.Client{},
		models:     models,
	}
}

// Name returns the adapter identifier.
func (a *OllamaAdapter) Name() string {
	return "ollama"
}

// Models returns the models this adapter was configured with.
func (a *OllamaAdapter) Models() []string {
	return append([]string(nil), a.models...)
}

// Generate sends a non-streaming generate request to Ollama.
func (a *OllamaAdapter) Generate(ctx context.Context, model string, prompt string, params Params) (*Response, error) {
	reqBody := ollamaRequest{
		Model:  model,
		Prompt: prompt,
		Options: ollamaOptions{
			NumPredict:  params.MaxTokens,
			Temperature: params.Temperature,
			TopP:        params.TopP,
			Stop:        params.Stop,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var ollamaResp ollamaResponse
	if jsonErr := json.Unmarshal(body, &ollamaResp); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return nil, statusError(http.StatusBadGateway, fmt.Errorf("failed to parse response: %w", jsonErr))
	}

	if resp.StatusCode != http.StatusOK {
		msg := ollamaResp.Error
		if msg == "" {
			msg = string(body)
		}
		return nil, statusError(resp.StatusCode, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, msg))
	}

	usage := Usage{
		PromptTokens:     ollamaResp.PromptEvalCount,
		CompletionTokens: ollamaResp.EvalCount,
	}.Normalize()
	return &Response{Artifact: artifact.New(ollamaResp.Response, a.Name(), model), Usage: &usage}, nil
}
