package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/chatflow/llm"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the orchestrator's run state. Active is the only state in which
// the scheduling loop runs; every other non-idle state is terminal for that
// run. A fresh Start or an explicit Continue begins a new active phase.
type State string

const (
	StateIdle      State = "idle"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Config bounds one run. Invalid values fall back to defaults rather than
// producing a non-terminating or zero-budget loop.
type Config struct {
	// MaxTurns 单次运行允许的 assistant 轮次上限
	MaxTurns int `yaml:"max_turns" json:"max_turns"`
	// Timeout 整次运行的墙钟预算
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// TurnDelay 轮次之间的回放延迟，纯展示用途，非交互场景保持 0
	TurnDelay time.Duration `yaml:"turn_delay" json:"turn_delay"`
	// StopWords 可选终止词：某条回复恰好等于其中之一时提前结束
	StopWords []string `yaml:"stop_words" json:"stop_words"`
}

// DefaultConfig returns the default run budget.
func DefaultConfig() Config {
	return Config{
		MaxTurns: 10,
		Timeout:  5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxTurns < 1 {
		c.MaxTurns = def.MaxTurns
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.TurnDelay < 0 {
		c.TurnDelay = 0
	}
	return c
}

// StatsSink receives fire-and-forget telemetry after each append and at run
// end. Sink failures (including panics) never affect run state.
type StatsSink interface {
	RecordTurn(author string)
	RecordProviderCall(provider string, duration time.Duration, err error)
	RecordRun(state State)
}

// TurnListener observes every appended turn, e.g. to broadcast it into a chat
// room. Invoked synchronously in append order; panics are swallowed.
type TurnListener func(Turn)

// Result summarizes one finished run.
type Result struct {
	ConversationID    string    `json:"conversation_id"`
	Topic             string    `json:"topic"`
	State             State     `json:"state"`
	TerminationReason string    `json:"termination_reason"`
	TurnCount         int       `json:"turn_count"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithScheduler replaces the default round-robin scheduler.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) { o.scheduler = s }
}

// WithResponder registers an internal responder. Responders are offered
// turns in registration order.
func WithResponder(r Responder) Option {
	return func(o *Orchestrator) { o.responders = append(o.responders, r) }
}

// WithStatsSink attaches a telemetry sink.
func WithStatsSink(s StatsSink) Option {
	return func(o *Orchestrator) { o.stats = append(o.stats, s) }
}

// WithTurnListener attaches a turn observer.
func WithTurnListener(fn TurnListener) Option {
	return func(o *Orchestrator) { o.listeners = append(o.listeners, fn) }
}

// Orchestrator owns the participant list and the message log, runs the
// scheduling loop one turn at a time, and enforces the run budget. One
// orchestrator instance drives one conversation; nothing else may mutate its
// log or participants.
type Orchestrator struct {
	id         string
	cfg        Config
	scheduler  Scheduler
	responders []Responder
	stats      []StatsSink
	listeners  []TurnListener
	logger     *zap.Logger

	log           *Log
	stopRequested atomic.Bool

	mu           sync.RWMutex
	participants []Participant
	prompts      *PromptBuilder
	state        State
	turnCount    int
	lastSpeaker  int
	startTime    time.Time
}

// NewOrchestrator creates an idle orchestrator with the given run budget.
func NewOrchestrator(cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		id:          uuid.New().String(),
		cfg:         cfg.withDefaults(),
		scheduler:   RoundRobinScheduler{},
		state:       StateIdle,
		lastSpeaker: -1,
	}
	o.logger = logger.With(
		zap.String("component", "orchestrator"),
		zap.String("conversation_id", o.id),
	)
	o.log = NewLog(func(id int) (string, bool) {
		o.mu.RLock()
		defer o.mu.RUnlock()
		if id < 0 || id >= len(o.participants) {
			return "", false
		}
		return o.participants[id].Name, true
	})
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ID returns the conversation id.
func (o *Orchestrator) ID() string { return o.id }

// AddParticipant registers an adapter as the next participant and returns its
// id. No duplicate detection: registering the same model twice yields two
// independent voices.
func (o *Orchestrator) AddParticipant(adapter Adapter) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := len(o.participants)
	o.participants = append(o.participants, Participant{
		ID:      id,
		Name:    DisplayName(adapter.Name(), adapter.Model()),
		Adapter: adapter,
	})
	return id
}

// Participants returns a copy of the participant list.
func (o *Orchestrator) Participants() []Participant {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Participant, len(o.participants))
	copy(out, o.participants)
	return out
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// TurnCount returns the number of assistant turns appended since the run (or
// replay) began.
func (o *Orchestrator) TurnCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.turnCount
}

// MaxTurns returns the current turn cap.
func (o *Orchestrator) MaxTurns() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.MaxTurns
}

// SetMaxTurns adjusts the turn cap, e.g. before resuming a replayed
// conversation with additional turns. Values below 1 are ignored.
func (o *Orchestrator) SetMaxTurns(n int) {
	if n < 1 {
		return
	}
	o.mu.Lock()
	o.cfg.MaxTurns = n
	o.mu.Unlock()
}

// History delegates to the log's external projection.
func (o *Orchestrator) History() []HistoryEntry { return o.log.History() }

// Turns returns a copy of the full turn sequence.
func (o *Orchestrator) Turns() []Turn { return o.log.Turns() }

// Topic returns the working topic of the current run, or "".
func (o *Orchestrator) Topic() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.prompts == nil {
		return ""
	}
	return o.prompts.Topic()
}

// Stop requests the run to end. Idempotent; takes effect at the top of the
// next loop iteration and does not interrupt an in-flight adapter call.
func (o *Orchestrator) Stop() {
	o.stopRequested.Store(true)
}

// Start begins a fresh conversation-mode run: it requires at least two
// participants, resets the log and counters, appends the initial message as a
// user turn, and runs the scheduling loop to a terminal state.
func (o *Orchestrator) Start(ctx context.Context, initialMessage string) (*Result, error) {
	if len(o.Participants()) < 2 {
		return nil, fmt.Errorf("conversation mode requires at least two participants, have %d", len(o.Participants()))
	}
	return o.start(ctx, initialMessage)
}

// StartGroup begins a group-chat / single-prompt run, which allows a single
// participant.
func (o *Orchestrator) StartGroup(ctx context.Context, initialMessage string) (*Result, error) {
	if len(o.Participants()) < 1 {
		return nil, fmt.Errorf("group chat requires at least one participant")
	}
	return o.start(ctx, initialMessage)
}

func (o *Orchestrator) start(ctx context.Context, initialMessage string) (*Result, error) {
	o.mu.Lock()
	if o.state == StateActive {
		o.mu.Unlock()
		return nil, fmt.Errorf("conversation already active")
	}
	o.log.reset(nil)
	o.turnCount = 0
	o.lastSpeaker = -1
	o.prompts = NewPromptBuilder(initialMessage, o.responderNames(), o.logger)
	o.startTime = time.Now()
	o.state = StateActive
	o.stopRequested.Store(false)
	o.mu.Unlock()

	o.logger.Info("conversation started",
		zap.Int("participants", len(o.Participants())),
		zap.Int("max_turns", o.MaxTurns()),
	)

	seed, err := o.appendTurn(Turn{Role: llm.RoleUser, Content: initialMessage})
	if err != nil {
		o.setState(StateFailed)
		return nil, fmt.Errorf("seed message: %w", err)
	}
	o.dispatchResponders(ctx, seed)

	return o.run(ctx)
}

// Continue re-enters the scheduling loop with the current log, turn count,
// and participants. Used both for resuming a replayed conversation and for
// driving additional turns after a finished run. The wall-clock budget
// restarts on resume.
func (o *Orchestrator) Continue(ctx context.Context) (*Result, error) {
	if len(o.Participants()) < 1 {
		return nil, fmt.Errorf("cannot continue without participants")
	}
	if o.log.Len() == 0 {
		return nil, fmt.Errorf("cannot continue an empty conversation")
	}

	o.mu.Lock()
	if o.state == StateActive {
		o.mu.Unlock()
		return nil, fmt.Errorf("conversation already active")
	}
	if o.prompts == nil {
		topic := ""
		if turns := o.log.Turns(); len(turns) > 0 {
			topic = turns[0].Content
		}
		o.prompts = NewPromptBuilder(topic, o.responderNames(), o.logger)
	}
	o.startTime = time.Now()
	o.state = StateActive
	o.stopRequested.Store(false)
	o.mu.Unlock()

	o.logger.Info("conversation resumed",
		zap.Int("turn_count", o.TurnCount()),
		zap.Int("max_turns", o.MaxTurns()),
	)
	return o.run(ctx)
}

// Restore replaces the log with previously persisted turns, recomputes the
// turn count as the number of non-user turns, and prepares the prompt builder
// with the persisted topic. The orchestrator must not be active.
func (o *Orchestrator) Restore(topic string, turns []Turn) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateActive {
		return fmt.Errorf("cannot restore an active conversation")
	}
	for _, t := range turns {
		if t.ParticipantID != nil && (*t.ParticipantID < 0 || *t.ParticipantID >= len(o.participants)) {
			return fmt.Errorf("restored turn references unknown participant id %d", *t.ParticipantID)
		}
	}

	o.log.reset(turns)
	o.turnCount = 0
	o.lastSpeaker = -1
	for _, t := range turns {
		if t.Role != llm.RoleUser {
			o.turnCount++
		}
		if t.ParticipantID != nil {
			o.lastSpeaker = *t.ParticipantID
		}
	}
	o.prompts = NewPromptBuilder(topic, o.responderNames(), o.logger)
	o.state = StateIdle
	return nil
}

// run drives the loop to a terminal state. One iteration is one candidate
// turn; the iteration cap bounds the loop even against a provider that only
// ever returns empty replies.
func (o *Orchestrator) run(ctx context.Context) (*Result, error) {
	participants := o.Participants()
	maxIterations := o.MaxTurns() * (len(participants) + 1)

	var (
		terminal State
		reason   string
		runErr   error
	)

	for iteration := 0; iteration < maxIterations; iteration++ {
		if o.stopRequested.Load() {
			terminal, reason = StateStopped, "stop_requested"
			break
		}
		if ctx.Err() != nil {
			terminal, reason = StateStopped, "context_canceled"
			break
		}
		if time.Since(o.startedAt()) >= o.timeout() {
			terminal, reason = StateTimedOut, "timeout"
			break
		}
		if o.TurnCount() >= o.MaxTurns() {
			terminal, reason = StateCompleted, "max_turns"
			break
		}

		idx := o.scheduler.Next(o.TurnCount(), len(participants), o.prevSpeaker())
		speaker := participants[idx]

		o.mu.RLock()
		prompts := o.prompts
		o.mu.RUnlock()
		messages := prompts.Build(speaker, o.log, o.TurnCount(), len(participants), o.MaxTurns())

		callStart := time.Now()
		text, err := speaker.Adapter.GenerateResponse(ctx, messages)
		o.recordProviderCall(speaker.Adapter.Name(), time.Since(callStart), err)
		if err != nil {
			o.logger.Error("participant turn failed",
				zap.Int("participant_id", speaker.ID),
				zap.String("participant", speaker.Name),
				zap.Error(err),
			)
			terminal, reason = StateFailed, "adapter_error"
			runErr = fmt.Errorf("participant %s: %w", speaker.Name, err)
			break
		}
		if strings.TrimSpace(text) == "" {
			// 非信息轮次：不入日志、不占 MaxTurns 名额，由迭代上限保底
			o.logger.Debug("empty reply skipped",
				zap.String("participant", speaker.Name),
			)
			continue
		}

		participantID := speaker.ID
		turn, err := o.appendTurn(Turn{
			Role:          llm.RoleAssistant,
			Content:       capContent(text),
			ParticipantID: &participantID,
			AuthorName:    speaker.Name,
		})
		if err != nil {
			terminal, reason = StateFailed, "append_error"
			runErr = err
			break
		}

		o.mu.Lock()
		o.turnCount++
		o.lastSpeaker = speaker.ID
		o.mu.Unlock()

		o.dispatchResponders(ctx, turn)

		if o.matchesStopWord(text) {
			terminal, reason = StateStopped, "stop_word"
			break
		}

		if delay := o.turnDelay(); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
	}

	if terminal == "" {
		// 迭代上限耗尽（例如某参与者持续返回空回复）
		terminal, reason = StateStopped, "iteration_limit"
	}

	o.setState(terminal)
	o.recordRun(terminal)

	result := &Result{
		ConversationID:    o.id,
		Topic:             o.Topic(),
		State:             terminal,
		TerminationReason: reason,
		TurnCount:         o.TurnCount(),
		StartTime:         o.startedAt(),
		EndTime:           time.Now(),
	}
	o.logger.Info("conversation ended",
		zap.String("state", string(terminal)),
		zap.String("reason", reason),
		zap.Int("turn_count", result.TurnCount),
	)
	return result, runErr
}

// appendTurn pushes the turn to the log and notifies listeners and sinks.
func (o *Orchestrator) appendTurn(turn Turn) (Turn, error) {
	appended, err := o.log.Append(turn)
	if err != nil {
		return Turn{}, err
	}
	o.notifyListeners(appended)
	o.recordTurn(appended)
	return appended, nil
}

// dispatchResponders offers the latest appended turn to each registered
// responder in registration order. Not part of the public contract.
func (o *Orchestrator) dispatchResponders(ctx context.Context, latest Turn) {
	for _, r := range o.responders {
		o.dispatchResponder(ctx, r, latest)
	}
}

func (o *Orchestrator) dispatchResponder(ctx context.Context, r Responder, latest Turn) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Warn("responder panicked",
				zap.String("responder", r.Name()),
				zap.Any("panic", p),
			)
		}
	}()

	turns := o.log.Turns()
	if !r.ShouldHandle(latest, turns) {
		return
	}
	reply, err := r.HandleMessage(ctx, latest, turns)
	if err != nil {
		o.logger.Warn("responder failed",
			zap.String("responder", r.Name()),
			zap.Error(err),
		)
		return
	}
	if reply == nil || strings.TrimSpace(reply.Content) == "" {
		return
	}

	role := reply.Role
	if role == "" {
		role = llm.RoleAssistant
	}
	author := reply.AuthorName
	if author == "" {
		author = r.Name()
	}
	if _, err := o.appendTurn(Turn{
		Role:       role,
		Content:    reply.Content,
		AuthorName: author,
	}); err != nil {
		o.logger.Warn("responder turn rejected",
			zap.String("responder", r.Name()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) responderNames() []string {
	names := make([]string, 0, len(o.responders))
	for _, r := range o.responders {
		names = append(names, r.Name())
	}
	return names
}

func (o *Orchestrator) matchesStopWord(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, w := range o.cfg.StopWords {
		if trimmed == w {
			return true
		}
	}
	return false
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) prevSpeaker() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastSpeaker
}

func (o *Orchestrator) startedAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.startTime
}

func (o *Orchestrator) timeout() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.Timeout
}

func (o *Orchestrator) turnDelay() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.TurnDelay
}

func (o *Orchestrator) notifyListeners(turn Turn) {
	for _, fn := range o.listeners {
		func() {
			defer func() {
				if p := recover(); p != nil {
					o.logger.Debug("turn listener panicked", zap.Any("panic", p))
				}
			}()
			fn(turn)
		}()
	}
}

func (o *Orchestrator) recordTurn(turn Turn) {
	for _, s := range o.stats {
		func() {
			defer func() {
				if p := recover(); p != nil {
					o.logger.Debug("stats sink panicked", zap.Any("panic", p))
				}
			}()
			s.RecordTurn(turn.AuthorName)
		}()
	}
}

func (o *Orchestrator) recordProviderCall(provider string, d time.Duration, err error) {
	for _, s := range o.stats {
		func() {
			defer func() {
				if p := recover(); p != nil {
					o.logger.Debug("stats sink panicked", zap.Any("panic", p))
				}
			}()
			s.RecordProviderCall(provider, d, err)
		}()
	}
}

func (o *Orchestrator) recordRun(state State) {
	for _, s := range o.stats {
		func() {
			defer func() {
				if p := recover(); p != nil {
					o.logger.Debug("stats sink panicked", zap.Any("panic", p))
				}
			}()
			s.RecordRun(state)
		}()
	}
}
