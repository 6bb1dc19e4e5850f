package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsKnownProviders(t *testing.T) {
	t.Parallel()

	for _, key := range Known() {
		p, err := New(key, Options{Model: "m", APIKey: "k"}, nil)
		require.NoError(t, err, key)
		assert.Equal(t, key, p.Name())
	}

	// key 大小写不敏感
	p, err := New("OpenAI", Options{Model: "m", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestNewUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New("cohere", Options{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "cohere"`)
	assert.Contains(t, err.Error(), "claude, gemini, openai")
}

func TestKnownIsSorted(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"claude", "gemini", "openai"}, Known())
}

func TestParseSpec(t *testing.T) {
	t.Parallel()

	key, model, err := ParseSpec("openai:gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", key)
	assert.Equal(t, "gpt-4o", model)

	key, model, err = ParseSpec("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", key)
	assert.Empty(t, model)

	key, model, err = ParseSpec(" gemini : gemini-2.0-flash ")
	require.NoError(t, err)
	assert.Equal(t, "gemini", key)
	assert.Equal(t, "gemini-2.0-flash", model)

	_, _, err = ParseSpec(":model-only")
	require.Error(t, err)
}
