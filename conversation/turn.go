package conversation

import (
	"time"

	"github.com/BaSui01/chatflow/llm"
)

// UserAuthorName is the display name recorded for turns authored by the
// external human. It is also the marker the archive format uses to map a
// replayed entry back to a nil participant.
const UserAuthorName = "User"

// maxTurnContentRunes caps provider output before it enters the log, so a
// runaway reply cannot blow up every later prompt.
const maxTurnContentRunes = 1000

// Turn is one atomic entry in the message log. ParticipantID is nil for the
// external user and for internal responders; AuthorName is a snapshot taken
// at append time so history survives participant-list changes.
type Turn struct {
	Role          llm.Role  `json:"role"`
	Content       string    `json:"content"`
	ParticipantID *int      `json:"participant_id"`
	AuthorName    string    `json:"author_name"`
	Timestamp     time.Time `json:"timestamp"`
}

// HistoryEntry is the read-only projection of a Turn handed to external
// consumers (CLI printing, archive files).
type HistoryEntry struct {
	From      string    `json:"from"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// capContent truncates s beyond maxTurnContentRunes, marking the cut with an
// ellipsis.
func capContent(s string) string {
	runes := []rune(s)
	if len(runes) <= maxTurnContentRunes {
		return s
	}
	return string(runes[:maxTurnContentRunes]) + "…"
}
