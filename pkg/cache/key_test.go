package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zen-systems/routegate/pkg/adapter"
)

func TestKey(t *testing.T) {
	temp := 0.2
	base := Key("local-llama", "hello", adapter.Params{})

	assert.Len(t, base, 64)
	assert.Equal(t, base, Key("local-llama", "hello", adapter.Params{}), "key must be deterministic")
	assert.NotEqual(t, base, Key("claude-opus", "hello", adapter.Params{}))
	assert.NotEqual(t, base, Key("local-llama", "hello!", adapter.Params{}))
	assert.NotEqual(t, base, Key("local-llama", "hello", adapter.Params{Temperature: &temp}))
	assert.NotEqual(t, base, Key("local-llama", "hello", adapter.Params{MaxTokens: 100}))
}
