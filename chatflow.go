// Package chatflow provides a top-level convenience entry point for wiring a
// multi-provider conversation with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/chatflow"
//
//	orch, err := chatflow.New(
//	    chatflow.WithOpenAI("gpt-4o"),
//	    chatflow.WithClaude("claude-sonnet-4-20250514"),
//	)
//	result, err := orch.Start(ctx, "Discuss cats")
//
// API keys come from the conventional environment variables
// (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY) unless an explicit
// adapter is supplied via [WithAdapter].
package chatflow

import (
	"fmt"
	"os"

	"github.com/BaSui01/chatflow/conversation"
	"github.com/BaSui01/chatflow/llm/factory"
	"go.uber.org/zap"
)

type builder struct {
	cfg      conversation.Config
	logger   *zap.Logger
	adapters []conversation.Adapter
	orchOpts []conversation.Option
	errs     []error
}

// Option configures the orchestrator created by [New].
type Option func(*builder)

// New assembles an orchestrator from the given options. At least one
// participant must be configured; two or more are needed before Start.
func New(opts ...Option) (*conversation.Orchestrator, error) {
	b := &builder{cfg: conversation.DefaultConfig()}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if len(b.adapters) == 0 {
		return nil, fmt.Errorf("no participants configured")
	}

	orch := conversation.NewOrchestrator(b.cfg, b.logger, b.orchOpts...)
	for _, a := range b.adapters {
		orch.AddParticipant(a)
	}
	return orch, nil
}

func (b *builder) addProvider(key, model, envVar string) {
	apiKey := os.Getenv(envVar)
	provider, err := factory.New(key, factory.Options{Model: model, APIKey: apiKey}, b.logger)
	if err != nil {
		b.errs = append(b.errs, err)
		return
	}
	b.adapters = append(b.adapters, conversation.NewProviderAdapter(provider, model))
}

// WithOpenAI adds an OpenAI participant speaking with the given model.
func WithOpenAI(model string) Option {
	return func(b *builder) { b.addProvider("openai", model, "OPENAI_API_KEY") }
}

// WithClaude adds an Anthropic Claude participant.
func WithClaude(model string) Option {
	return func(b *builder) { b.addProvider("claude", model, "ANTHROPIC_API_KEY") }
}

// WithGemini adds a Google Gemini participant.
func WithGemini(model string) Option {
	return func(b *builder) { b.addProvider("gemini", model, "GEMINI_API_KEY") }
}

// WithAdapter adds a pre-built participant adapter.
func WithAdapter(a conversation.Adapter) Option {
	return func(b *builder) { b.adapters = append(b.adapters, a) }
}

// WithConfig overrides the run budget.
func WithConfig(cfg conversation.Config) Option {
	return func(b *builder) { b.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

// WithScheduler replaces the default round-robin scheduler.
func WithScheduler(s conversation.Scheduler) Option {
	return func(b *builder) { b.orchOpts = append(b.orchOpts, conversation.WithScheduler(s)) }
}

// WithResponder registers an internal responder.
func WithResponder(r conversation.Responder) Option {
	return func(b *builder) { b.orchOpts = append(b.orchOpts, conversation.WithResponder(r)) }
}

// WithStatsSink attaches a telemetry sink.
func WithStatsSink(s conversation.StatsSink) Option {
	return func(b *builder) { b.orchOpts = append(b.orchOpts, conversation.WithStatsSink(s)) }
}
