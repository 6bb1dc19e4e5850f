package conversation

import (
	"fmt"
	"strings"

	"github.com/BaSui01/chatflow/llm"
	"go.uber.org/zap"
)

// PromptBuilder constructs the exact message array sent to a participant's
// adapter for one turn: a synthesized system instruction (never stored in the
// log) followed by the entire prompt-message history, unfiltered. Callers
// relying on very long conversations must size MaxTurns and the provider
// context accordingly.
type PromptBuilder struct {
	topic      string
	responders []string
	estimator  *llm.TokenEstimator
	logger     *zap.Logger
}

// NewPromptBuilder creates a builder for the given working topic. responders
// lists the names of registered internal responders so speakers can be told
// how to reach them.
func NewPromptBuilder(topic string, responders []string, logger *zap.Logger) *PromptBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptBuilder{
		topic:      topic,
		responders: responders,
		estimator:  llm.NewTokenEstimator(""),
		logger:     logger.With(zap.String("component", "prompt_builder")),
	}
}

// Topic returns the working topic the builder was created with.
func (b *PromptBuilder) Topic() string { return b.topic }

// Build composes the request for speaker's turn. turnCount is the number of
// assistant turns already appended, numParticipants the size of the
// participant list, maxTurns the run's turn cap.
func (b *PromptBuilder) Build(speaker Participant, log *Log, turnCount, numParticipants, maxTurns int) []llm.Message {
	system := llm.Message{
		Role:    llm.RoleSystem,
		Content: b.systemContent(speaker, turnCount, numParticipants, maxTurns),
	}
	messages := append([]llm.Message{system}, log.PromptMessages()...)

	b.logger.Debug("prompt built",
		zap.String("speaker", speaker.Name),
		zap.Int("messages", len(messages)),
		zap.Int("estimated_tokens", b.estimator.Estimate(messages)),
	)
	return messages
}

func (b *PromptBuilder) systemContent(speaker Participant, turnCount, numParticipants, maxTurns int) string {
	// 最后一轮：收尾指令覆盖其余所有指令
	if maxTurns > 0 && turnCount >= maxTurns-2 {
		return fmt.Sprintf(
			"You are %s in a group conversation. The conversation is ending now. "+
				"Say a short, friendly goodbye to the others and do not discuss the topic any further.",
			speaker.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s in a conversation between several AI assistants and a human.\n", speaker.Name)
	fmt.Fprintf(&sb, "The topic under discussion: %s\n", b.topic)
	sb.WriteString("Do not introduce yourself and do not restate your role; everyone already knows who you are.\n")
	sb.WriteString("Keep your replies short and conversational, a few sentences at most.\n")

	if turnCount < numParticipants {
		sb.WriteString("This is your opening turn: make one brief remark on the topic in your own personality.\n")
	} else {
		sb.WriteString("Build on, challenge, or redirect the most recent remarks. Do not reintroduce yourself or the topic.\n")
	}

	sb.WriteString("Address other participants by name, e.g. @OpenAI (gpt-4o), when you refer to what they said.\n")
	for _, name := range b.responders {
		fmt.Fprintf(&sb, "You can ask %s a question by mentioning @%s in your reply.\n", name, name)
	}
	return sb.String()
}
