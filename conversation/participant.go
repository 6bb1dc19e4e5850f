package conversation

import (
	"context"
	"fmt"

	"github.com/BaSui01/chatflow/llm"
)

// Adapter is the capability a scheduled participant exposes: generate one
// reply from a message array. Implementations wrap a configured model; the
// orchestrator never sees vendor specifics.
type Adapter interface {
	GenerateResponse(ctx context.Context, messages []llm.Message) (string, error)
	Name() string
	Model() string
}

// Participant is a registered adapter eligible to be scheduled for a turn.
// The id is its registration index; neither field changes after registration.
type Participant struct {
	ID      int
	Name    string
	Adapter Adapter
}

// DisplayName builds the canonical participant label.
func DisplayName(name, model string) string {
	return fmt.Sprintf("%s (%s)", name, model)
}

// providerAdapter bridges an llm.Provider to the Adapter capability.
type providerAdapter struct {
	provider llm.Provider
	model    string
}

// NewProviderAdapter wraps provider as a participant adapter speaking with
// the given model.
func NewProviderAdapter(provider llm.Provider, model string) Adapter {
	return &providerAdapter{provider: provider, model: model}
}

func (a *providerAdapter) Name() string  { return a.provider.Name() }
func (a *providerAdapter) Model() string { return a.model }

func (a *providerAdapter) GenerateResponse(ctx context.Context, messages []llm.Message) (string, error) {
	resp, err := a.provider.Completion(ctx, &llm.ChatRequest{
		Model:    a.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
