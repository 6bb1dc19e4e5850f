package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/chatflow/llm"
)

// mockAdapter is a scriptable participant for orchestrator tests.
type mockAdapter struct {
	name  string
	model string

	mu      sync.Mutex
	replies []string
	calls   int
	err     error
	fn      func(ctx context.Context, messages []llm.Message) (string, error)
}

func newMockAdapter(name, model string) *mockAdapter {
	return &mockAdapter{name: name, model: model}
}

// WithReplies scripts the replies returned in order; the last one repeats.
func (m *mockAdapter) WithReplies(replies ...string) *mockAdapter {
	m.replies = replies
	return m
}

// WithError makes every call fail.
func (m *mockAdapter) WithError(err error) *mockAdapter {
	m.err = err
	return m
}

// WithFunc replaces the scripted behavior entirely.
func (m *mockAdapter) WithFunc(fn func(ctx context.Context, messages []llm.Message) (string, error)) *mockAdapter {
	m.fn = fn
	return m
}

func (m *mockAdapter) Name() string  { return m.name }
func (m *mockAdapter) Model() string { return m.model }

func (m *mockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockAdapter) GenerateResponse(ctx context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	if m.fn != nil {
		return m.fn(ctx, messages)
	}
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	idx := call - 1
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	return m.replies[idx], nil
}

// recordingSink captures StatsSink callbacks for assertions.
type recordingSink struct {
	mu        sync.Mutex
	turns     []string
	providers []string
	errors    int
	runStates []State
}

func (s *recordingSink) RecordTurn(author string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, author)
}

func (s *recordingSink) RecordProviderCall(provider string, _ time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append(s.providers, provider)
	if err != nil {
		s.errors++
	}
}

func (s *recordingSink) RecordRun(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runStates = append(s.runStates, state)
}
