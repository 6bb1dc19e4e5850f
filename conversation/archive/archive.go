// Package archive persists finished conversations and replays them into a
// fresh orchestrator so a run can be resumed later. Two backends round-trip
// the same logical shape: a JSON file (the CLI's conversation file) and a
// SQLite transcript store.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/BaSui01/chatflow/conversation"
	"github.com/BaSui01/chatflow/llm"
	"go.uber.org/zap"
)

// Mode labels how a persisted conversation was driven.
const (
	ModeConversation = "conversation"
	ModeSinglePrompt = "singlePrompt"
)

// ParticipantSpec records enough about a participant to rebuild its adapter
// on resume.
type ParticipantSpec struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Metadata carries the run parameters alongside the transcript.
type Metadata struct {
	Mode         string            `json:"mode"`
	Participants []ParticipantSpec `json:"participants"`
	MaxTurns     int               `json:"max_turns"`
	SavedAt      time.Time         `json:"saved_at"`
}

// Archive is the persisted conversation file shape.
type Archive struct {
	Topic    string                      `json:"topic"`
	Messages []conversation.HistoryEntry `json:"messages"`
	Metadata Metadata                    `json:"metadata"`
}

// FromOrchestrator snapshots the orchestrator's history into an archive.
// Participant specs are taken from the registered adapters.
func FromOrchestrator(o *conversation.Orchestrator, mode string) *Archive {
	specs := make([]ParticipantSpec, 0, len(o.Participants()))
	for _, p := range o.Participants() {
		specs = append(specs, ParticipantSpec{
			Provider: p.Adapter.Name(),
			Model:    p.Adapter.Model(),
		})
	}
	return &Archive{
		Topic:    o.Topic(),
		Messages: o.History(),
		Metadata: Metadata{
			Mode:         mode,
			Participants: specs,
			MaxTurns:     o.MaxTurns(),
			SavedAt:      time.Now(),
		},
	}
}

// Save writes the archive as indented JSON.
func (a *Archive) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write archive %s: %w", path, err)
	}
	return nil
}

// Load reads an archive file.
func Load(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", path, err)
	}
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse archive %s: %w", path, err)
	}
	return &a, nil
}

// Replay maps the archived messages back into turns and restores them into
// the orchestrator, whose participants must already be registered (rebuilt
// from Metadata.Participants or caller-supplied overrides). Entries from
// "User" become user turns with a nil participant id; other senders are
// matched to participant names, falling back to a nil id with a warning when
// no participant matches. The orchestrator recomputes the turn count from the
// replayed non-user messages.
func Replay(a *Archive, o *conversation.Orchestrator, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	participants := o.Participants()
	if len(participants) == 0 {
		return fmt.Errorf("cannot replay into an orchestrator with no participants")
	}

	byName := make(map[string]int, len(participants))
	for _, p := range participants {
		byName[p.Name] = p.ID
	}

	turns := make([]conversation.Turn, 0, len(a.Messages))
	for _, entry := range a.Messages {
		turn := conversation.Turn{
			Content:    entry.Content,
			AuthorName: entry.From,
			Timestamp:  entry.Timestamp,
		}
		if entry.From == conversation.UserAuthorName {
			turn.Role = llm.RoleUser
		} else {
			turn.Role = llm.RoleAssistant
			if id, ok := byName[entry.From]; ok {
				participantID := id
				turn.ParticipantID = &participantID
			} else {
				logger.Warn("no participant matches archived sender, keeping as unscheduled author",
					zap.String("from", entry.From),
				)
			}
		}
		turns = append(turns, turn)
	}

	if err := o.Restore(a.Topic, turns); err != nil {
		return fmt.Errorf("restore archived conversation: %w", err)
	}
	return nil
}
