package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/chatflow/llm"
)

// Log holds the canonical turn sequence of one conversation. It is
// append-only for the lifetime of a run: turns are never edited or removed
// once appended.
type Log struct {
	turns   []Turn
	resolve func(id int) (string, bool)
	mu      sync.RWMutex
}

// NewLog creates an empty log. resolve maps a participant id to its display
// name and reports whether the id is known; it is used to fill in missing
// author names and to reject out-of-range participant ids.
func NewLog(resolve func(id int) (string, bool)) *Log {
	if resolve == nil {
		resolve = func(int) (string, bool) { return "", false }
	}
	return &Log{resolve: resolve}
}

// Append assigns the timestamp if absent, resolves the author name from the
// participant table if absent, and pushes the turn to the end. A turn whose
// ParticipantID does not resolve is a programming error and is rejected.
func (l *Log) Append(turn Turn) (Turn, error) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	if turn.ParticipantID != nil {
		name, ok := l.resolve(*turn.ParticipantID)
		if !ok {
			return Turn{}, fmt.Errorf("participant id %d out of range", *turn.ParticipantID)
		}
		if turn.AuthorName == "" {
			turn.AuthorName = name
		}
	} else if turn.AuthorName == "" {
		turn.AuthorName = UserAuthorName
	}

	l.mu.Lock()
	l.turns = append(l.turns, turn)
	l.mu.Unlock()
	return turn, nil
}

// Turns returns a copy of the full turn sequence.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of appended turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// History produces the external projection of the log. From is "User" for
// user-authored turns, otherwise the author name recorded at append time.
func (l *Log) History() []HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]HistoryEntry, 0, len(l.turns))
	for _, t := range l.turns {
		from := t.AuthorName
		if t.ParticipantID == nil && t.AuthorName == "" {
			from = UserAuthorName
		}
		out = append(out, HistoryEntry{
			From:      from,
			Content:   t.Content,
			Timestamp: t.Timestamp,
		})
	}
	return out
}

// PromptMessages produces the {role, content} view used to build provider
// requests, dropping all bookkeeping fields. The whole log is returned; no
// sliding window is applied.
func (l *Log) PromptMessages() []llm.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]llm.Message, 0, len(l.turns))
	for _, t := range l.turns {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

// reset drops all turns. Only the orchestrator calls this, at the start of a
// fresh run or before an archive replay.
func (l *Log) reset(turns []Turn) {
	l.mu.Lock()
	l.turns = append([]Turn(nil), turns...)
	l.mu.Unlock()
}
