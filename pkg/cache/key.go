package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/zen-systems/routegate/pkg/adapter"
)

type keyMaterial struct {
	Backend     string   `json:"backend"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Key returns the cache key for a (backend, prompt, params) tuple. The digest
// is stable across processes.
func Key(backend, prompt string, params adapter.Params) string {
	m := keyMaterial{
		Backend:     strings.TrimSpace(backend),
		Prompt:      prompt,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stop:        params.Stop,
	}
	// Marshalling a struct of plain fields cannot fail.
	data, _ := json.Marshal(m)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
