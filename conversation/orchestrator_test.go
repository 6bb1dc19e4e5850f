package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/chatflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestratorConversationFlow(t *testing.T) {
	t.Parallel()

	alpha := newMockAdapter("alpha", "m1").WithReplies("a1", "a2")
	bravo := newMockAdapter("bravo", "m2").WithReplies("b1", "b2")

	orch := NewOrchestrator(Config{MaxTurns: 4, Timeout: time.Minute}, nil)
	orch.AddParticipant(alpha)
	orch.AddParticipant(bravo)

	result, err := orch.Start(context.Background(), "Discuss cats")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "max_turns", result.TerminationReason)
	assert.Equal(t, 4, result.TurnCount)
	assert.Equal(t, 2, alpha.Calls())
	assert.Equal(t, 2, bravo.Calls())

	history := orch.History()
	require.Len(t, history, 5)
	assert.Equal(t, UserAuthorName, history[0].From)
	assert.Equal(t, "Discuss cats", history[0].Content)

	// 轮转调度：0,1,0,1
	wantFrom := []string{"alpha (m1)", "bravo (m2)", "alpha (m1)", "bravo (m2)"}
	wantContent := []string{"a1", "b1", "a2", "b2"}
	for i, entry := range history[1:] {
		assert.Equal(t, wantFrom[i], entry.From)
		assert.Equal(t, wantContent[i], entry.Content)
	}

	turns := orch.Turns()
	require.Len(t, turns, 5)
	assert.Nil(t, turns[0].ParticipantID)
	assert.Equal(t, llm.RoleUser, turns[0].Role)
	require.NotNil(t, turns[1].ParticipantID)
	assert.Equal(t, 0, *turns[1].ParticipantID)
	require.NotNil(t, turns[2].ParticipantID)
	assert.Equal(t, 1, *turns[2].ParticipantID)
	assert.False(t, turns[1].Timestamp.Before(turns[0].Timestamp))
}

func TestOrchestratorStartRequiresTwoParticipants(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(DefaultConfig(), nil)
	orch.AddParticipant(newMockAdapter("solo", "m1").WithReplies("hi"))

	_, err := orch.Start(context.Background(), "topic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two participants")
	assert.Equal(t, StateIdle, orch.State())
}

func TestOrchestratorStartGroupAllowsSingleParticipant(t *testing.T) {
	t.Parallel()

	solo := newMockAdapter("solo", "m1").WithReplies("only me")
	orch := NewOrchestrator(Config{MaxTurns: 1, Timeout: time.Minute}, nil)
	orch.AddParticipant(solo)

	result, err := orch.StartGroup(context.Background(), "topic")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 1, result.TurnCount)
}

func TestOrchestratorStartWhileActiveFails(t *testing.T) {
	t.Parallel()

	var orch *Orchestrator
	reentrant := newMockAdapter("alpha", "m1").WithFunc(func(context.Context, []llm.Message) (string, error) {
		_, err := orch.Start(context.Background(), "again")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already active")
		return "fine", nil
	})

	orch = NewOrchestrator(Config{MaxTurns: 1, Timeout: time.Minute}, nil)
	orch.AddParticipant(reentrant)
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithReplies("b"))

	result, err := orch.Start(context.Background(), "topic")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
}

func TestOrchestratorEmptyRepliesHitIterationLimit(t *testing.T) {
	t.Parallel()

	mute1 := newMockAdapter("mute1", "m1")
	mute2 := newMockAdapter("mute2", "m2")

	orch := NewOrchestrator(Config{MaxTurns: 3, Timeout: time.Minute}, nil)
	orch.AddParticipant(mute1)
	orch.AddParticipant(mute2)

	result, err := orch.Start(context.Background(), "topic")
	require.NoError(t, err)

	assert.Equal(t, StateStopped, result.State)
	assert.Equal(t, "iteration_limit", result.TerminationReason)
	assert.Equal(t, 0, result.TurnCount)
	// 空回复不入日志，只剩种子消息
	assert.Len(t, orch.History(), 1)
	// 迭代上限 = MaxTurns * (participants + 1)
	assert.Equal(t, 9, mute1.Calls()+mute2.Calls())
}

func TestOrchestratorAdapterErrorFailsRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	orch := NewOrchestrator(Config{MaxTurns: 4, Timeout: time.Minute}, nil)
	orch.AddParticipant(newMockAdapter("alpha", "m1").WithReplies("a1"))
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithError(boom))

	result, err := orch.Start(context.Background(), "topic")
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bravo (m2)")

	require.NotNil(t, result)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, "adapter_error", result.TerminationReason)
	assert.Equal(t, 1, result.TurnCount)
	// 失败的那一轮不产生日志条目
	assert.Len(t, orch.History(), 2)
}

func TestOrchestratorTimeout(t *testing.T) {
	t.Parallel()

	alpha := newMockAdapter("alpha", "m1").WithReplies("a")
	orch := NewOrchestrator(Config{MaxTurns: 10, Timeout: time.Nanosecond}, nil)
	orch.AddParticipant(alpha)
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithReplies("b"))

	result, err := orch.Start(context.Background(), "topic")
	require.NoError(t, err)

	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, "timeout", result.TerminationReason)
	assert.Equal(t, 0, result.TurnCount)
	assert.Zero(t, alpha.Calls())
}

func TestOrchestratorContextCanceled(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(Config{MaxTurns: 10, Timeout: time.Minute}, nil)
	orch.AddParticipant(newMockAdapter("alpha", "m1").WithReplies("a"))
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithReplies("b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := orch.Start(ctx, "topic")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, result.State)
	assert.Equal(t, "context_canceled", result.TerminationReason)
	assert.Equal(t, 0, result.TurnCount)
}

func TestOrchestratorStopIsCooperativeAndIdempotent(t *testing.T) {
	t.Parallel()

	var orch *Orchestrator
	alpha := newMockAdapter("alpha", "m1").WithFunc(func(context.Context, []llm.Message) (string, error) {
		orch.Stop()
		orch.Stop() // 幂等
		return "last words", nil
	})

	orch = NewOrchestrator(Config{MaxTurns: 10, Timeout: time.Minute}, nil)
	orch.AddParticipant(alpha)
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithReplies("never"))

	result, err := orch.Start(context.Background(), "topic")
	require.NoError(t, err)

	assert.Equal(t, StateStopped, result.State)
	assert.Equal(t, "stop_requested", result.TerminationReason)
	// 请求停止后，进行中的那一轮仍然完整落盘
	assert.Equal(t, 1, result.TurnCount)
	assert.Equal(t, "last words", orch.History()[1].Content)
}

func TestOrchestratorStopWordEndsRun(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(Config{MaxTurns: 10, Timeout: time.Minute, StopWords: []string{"TERMINATE"}}, nil)
	orch.AddParticipant(newMockAdapter("alpha", "m1").WithReplies("TERMINATE"))
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithReplies("never spoken"))

	result, err := orch.Start(context.Background(), "topic")
	require.NoError(t, err)

	assert.Equal(t, StateStopped, result.State)
	assert.Equal(t, "stop_word", result.TerminationReason)
	assert.Equal(t, 1, result.TurnCount)
}

func TestOrchestratorCapsRunawayReplies(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("字", 1500)
	orch := NewOrchestrator(Config{MaxTurns: 1, Timeout: time.Minute}, nil)
	orch.AddParticipant(newMockAdapter("alpha", "m1").WithReplies(long))
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithReplies("b"))

	_, err := orch.Start(context.Background(), "topic")
	require.NoError(t, err)

	content := orch.History()[1].Content
	runes := []rune(content)
	assert.Len(t, runes, maxTurnContentRunes+1)
	assert.Equal(t, '…', runes[len(runes)-1])
}

func TestOrchestratorRestoreAndContinue(t *testing.T) {
	t.Parallel()

	alpha := newMockAdapter("alpha", "m1").WithReplies("a-next")
	bravo := newMockAdapter("bravo", "m2").WithReplies("b-next")

	orch := NewOrchestrator(Config{MaxTurns: 2, Timeout: time.Minute}, nil)
	orch.AddParticipant(alpha)
	orch.AddParticipant(bravo)

	pid0, pid1 := 0, 1
	restored := []Turn{
		{Role: llm.RoleUser, Content: "old topic", Timestamp: time.Now().Add(-time.Hour)},
		{Role: llm.RoleAssistant, Content: "a-old", ParticipantID: &pid0, AuthorName: "alpha (m1)"},
		{Role: llm.RoleAssistant, Content: "b-old", ParticipantID: &pid1, AuthorName: "bravo (m2)"},
	}
	require.NoError(t, orch.Restore("old topic", restored))
	assert.Equal(t, 2, orch.TurnCount())
	assert.Equal(t, "old topic", orch.Topic())

	orch.SetMaxTurns(orch.TurnCount() + 2)
	result, err := orch.Continue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 4, result.TurnCount)

	history := orch.History()
	require.Len(t, history, 5)
	// 续写从下一个轮转位置开始：turnCount=2 → participant 0
	assert.Equal(t, "a-next", history[3].Content)
	assert.Equal(t, "b-next", history[4].Content)
}

func TestOrchestratorRestoreRejectsUnknownParticipant(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(DefaultConfig(), nil)
	orch.AddParticipant(newMockAdapter("alpha", "m1"))

	pid := 7
	err := orch.Restore("topic", []Turn{
		{Role: llm.RoleAssistant, Content: "x", ParticipantID: &pid},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown participant id 7")
}

func TestOrchestratorContinueRequiresHistory(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(DefaultConfig(), nil)
	orch.AddParticipant(newMockAdapter("alpha", "m1"))

	_, err := orch.Continue(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty conversation")
}

// echoResponder answers every mention of its name with a fixed reply.
type echoResponder struct {
	name  string
	reply string
	panic bool
}

func (r *echoResponder) Name() string { return r.name }

func (r *echoResponder) ShouldHandle(latest Turn, _ []Turn) bool {
	if r.panic {
		panic("responder exploded")
	}
	return strings.Contains(latest.Content, "@"+r.name)
}

func (r *echoResponder) HandleMessage(_ context.Context, _ Turn, _ []Turn) (*Reply, error) {
	return &Reply{Content: r.reply}, nil
}

func TestOrchestratorResponderInjectsUnscheduledTurn(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(Config{MaxTurns: 1, Timeout: time.Minute}, nil,
		WithResponder(&echoResponder{name: "Helper", reply: "42"}),
	)
	orch.AddParticipant(newMockAdapter("alpha", "m1").WithReplies("a"))
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithReplies("b"))

	result, err := orch.Start(context.Background(), "@Helper what is the answer?")
	require.NoError(t, err)

	// 应答轮次不占 MaxTurns 名额
	assert.Equal(t, 1, result.TurnCount)

	history := orch.History()
	require.Len(t, history, 3)
	assert.Equal(t, "Helper", history[1].From)
	assert.Equal(t, "42", history[1].Content)

	turns := orch.Turns()
	assert.Nil(t, turns[1].ParticipantID)
	assert.Equal(t, llm.RoleAssistant, turns[1].Role)
}

func TestOrchestratorResponderPanicIsIsolated(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(Config{MaxTurns: 2, Timeout: time.Minute}, nil,
		WithResponder(&echoResponder{name: "Helper", panic: true}),
	)
	orch.AddParticipant(newMockAdapter("alpha", "m1").WithReplies("a"))
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithReplies("b"))

	result, err := orch.Start(context.Background(), "topic")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 2, result.TurnCount)
}

func TestOrchestratorStatsAndListeners(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	var seen []string
	orch := NewOrchestrator(Config{MaxTurns: 2, Timeout: time.Minute}, nil,
		WithStatsSink(sink),
		WithTurnListener(func(turn Turn) { seen = append(seen, turn.Content) }),
		WithTurnListener(func(Turn) { panic("listener exploded") }),
	)
	orch.AddParticipant(newMockAdapter("alpha", "m1").WithReplies("a"))
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithReplies("b"))

	result, err := orch.Start(context.Background(), "topic")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)

	assert.Equal(t, []string{"topic", "a", "b"}, seen)
	assert.Equal(t, []string{UserAuthorName, "alpha (m1)", "bravo (m2)"}, sink.turns)
	assert.Equal(t, []string{"alpha", "bravo"}, sink.providers)
	assert.Zero(t, sink.errors)
	assert.Equal(t, []State{StateCompleted}, sink.runStates)
}

func TestOrchestratorTurnDelayHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	orch := NewOrchestrator(Config{MaxTurns: 5, Timeout: time.Minute, TurnDelay: time.Hour}, nil)
	orch.AddParticipant(newMockAdapter("alpha", "m1").WithFunc(func(context.Context, []llm.Message) (string, error) {
		cancel() // 在延迟窗口前取消，Start 必须立刻返回
		return "a", nil
	}))
	orch.AddParticipant(newMockAdapter("bravo", "m2").WithReplies("b"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := orch.Start(ctx, "topic")
		assert.NoError(t, err)
		assert.Equal(t, StateStopped, result.State)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not return after context cancellation")
	}
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxTurns: -3, Timeout: 0, TurnDelay: -time.Second}.withDefaults()
	assert.Equal(t, DefaultConfig().MaxTurns, cfg.MaxTurns)
	assert.Equal(t, DefaultConfig().Timeout, cfg.Timeout)
	assert.Zero(t, cfg.TurnDelay)
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "OpenAI (gpt-4o)", DisplayName("OpenAI", "gpt-4o"))
	assert.Equal(t, fmt.Sprintf("%s (%s)", "Claude", "sonnet"), DisplayName("Claude", "sonnet"))
}
