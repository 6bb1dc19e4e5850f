// Package factory constructs LLM providers from a provider key, replacing
// per-vendor construction switches at call sites with a single lookup table.
package factory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/llm/providers"
	"github.com/BaSui01/chatflow/llm/providers/claude"
	"github.com/BaSui01/chatflow/llm/providers/gemini"
	"github.com/BaSui01/chatflow/llm/providers/openai"
	"go.uber.org/zap"
)

// Options carries the provider-independent construction parameters. The value
// is built once by the caller (CLI flag parsing, config load) and passed by
// value; the factory never mutates it.
type Options struct {
	Model   string
	APIKey  string
	BaseURL string
}

type builder func(opts Options, logger *zap.Logger) llm.Provider

var builders = map[string]builder{
	"openai": func(opts Options, logger *zap.Logger) llm.Provider {
		return openai.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  opts.APIKey,
			BaseURL: opts.BaseURL,
			Model:   opts.Model,
		}, logger)
	},
	"claude": func(opts Options, logger *zap.Logger) llm.Provider {
		return claude.NewClaudeProvider(providers.ClaudeConfig{
			APIKey:  opts.APIKey,
			BaseURL: opts.BaseURL,
			Model:   opts.Model,
		}, logger)
	},
	"gemini": func(opts Options, logger *zap.Logger) llm.Provider {
		return gemini.NewGeminiProvider(providers.GeminiConfig{
			APIKey:  opts.APIKey,
			BaseURL: opts.BaseURL,
			Model:   opts.Model,
		}, logger)
	},
}

// New builds the provider registered under key.
func New(key string, opts Options, logger *zap.Logger) (llm.Provider, error) {
	b, ok := builders[strings.ToLower(key)]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %s)", key, strings.Join(Known(), ", "))
	}
	return b(opts, logger), nil
}

// Known returns the sorted provider keys the factory can build.
func Known() []string {
	keys := make([]string, 0, len(builders))
	for k := range builders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseSpec splits a "provider:model" spec. The model part is optional; the
// provider's configured default applies when it is omitted.
func ParseSpec(spec string) (key, model string, err error) {
	key, model, _ = strings.Cut(spec, ":")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", fmt.Errorf("empty provider spec %q", spec)
	}
	return key, strings.TrimSpace(model), nil
}
