package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Artifact is the immutable output of one backend call. It is the unit the
// response cache stores and the dispatcher returns.
type Artifact struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Backend   string            `json:"backend,omitempty"`
	Adapter   string            `json:"adapter"`
	Model     string            `json:"model"`
	TokensIn  int               `json:"tokens_in"`
	TokensOut int               `json:"tokens_out"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Hash      string            `json:"hash"`
}

// New creates a new Artifact with computed hash.
func New(content, adapter, model string) *Artifact {
	a := &Artifact{
		ID:        uuid.NewString(),
		Content:   content,
		Adapter:   adapter,
		Model:     model,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
	}
	a.Hash = a.computeHash()
	return a
}

// WithBackend returns a copy of the artifact attributed to a backend id.
func (a *Artifact) WithBackend(backend string) *Artifact {
	out := a.clone()
	out.Backend = backend
	return out
}

// WithUsage returns a copy of the artifact carrying token counts.
func (a *Artifact) WithUsage(tokensIn, tokensOut int) *Artifact {
	out := a.clone()
	out.TokensIn = tokensIn
	out.TokensOut = tokensOut
	return out
}

// WithMetadata returns a new artifact with additional metadata.
func (a *Artifact) WithMetadata(key, value string) *Artifact {
	out := a.clone()
	out.Metadata[key] = value
	return out
}

// Verify reports whether the content still matches the stored hash.
func (a *Artifact) Verify() bool {
	return a != nil && a.Hash == a.computeHash()
}

func (a *Artifact) clone() *Artifact {
	out := *a
	out.Metadata = copyMetadata(a.Metadata)
	return &out
}

func (a *Artifact) computeHash() string {
	h := sha256.New()
	h.Write([]byte(a.Content))
	h.Write([]byte(a.Adapter))
	h.Write([]byte(a.Model))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func copyMetadata(m map[string]string) map[string]string {
	newM := make(map[string]string, len(m))
	for k, v := range m {
		newM[k] = v
	}
	return newM
}
