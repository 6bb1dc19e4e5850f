package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/chatflow/conversation"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ConversationRecord is one persisted conversation row.
type ConversationRecord struct {
	ID             uint   `gorm:"primaryKey"`
	ConversationID string `gorm:"uniqueIndex;size:64"`
	Topic          string
	Mode           string
	State          string
	MaxTurns       int
	TurnCount      int
	Participants   string // JSON-encoded []ParticipantSpec
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TurnRecord is one transcript entry, ordered by Seq within a conversation.
type TurnRecord struct {
	ID             uint   `gorm:"primaryKey"`
	ConversationID string `gorm:"index;size:64"`
	Seq            int
	Role           string
	AuthorName     string
	ParticipantID  *int
	Content        string
	Timestamp      time.Time
}

// Store keeps transcripts in a local SQLite database.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an ephemeral store in tests.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open transcript store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&ConversationRecord{}, &TurnRecord{}); err != nil {
		return nil, fmt.Errorf("migrate transcript store: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "transcript_store")),
	}, nil
}

// SaveRun persists the orchestrator's transcript and the run summary,
// replacing any earlier snapshot of the same conversation.
func (s *Store) SaveRun(o *conversation.Orchestrator, result *conversation.Result, mode string) error {
	specs := make([]ParticipantSpec, 0, len(o.Participants()))
	for _, p := range o.Participants() {
		specs = append(specs, ParticipantSpec{Provider: p.Adapter.Name(), Model: p.Adapter.Model()})
	}
	encoded, err := json.Marshal(specs)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}

	record := ConversationRecord{
		ConversationID: o.ID(),
		Topic:          o.Topic(),
		Mode:           mode,
		State:          string(result.State),
		MaxTurns:       o.MaxTurns(),
		TurnCount:      result.TurnCount,
		Participants:   string(encoded),
	}

	turns := o.Turns()
	rows := make([]TurnRecord, 0, len(turns))
	for i, t := range turns {
		rows = append(rows, TurnRecord{
			ConversationID: o.ID(),
			Seq:            i,
			Role:           string(t.Role),
			AuthorName:     t.AuthorName,
			ParticipantID:  t.ParticipantID,
			Content:        t.Content,
			Timestamp:      t.Timestamp,
		})
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", o.ID()).Delete(&ConversationRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", o.ID()).Delete(&TurnRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadArchive rebuilds the archive shape for one stored conversation.
func (s *Store) LoadArchive(conversationID string) (*Archive, error) {
	var record ConversationRecord
	if err := s.db.Where("conversation_id = ?", conversationID).First(&record).Error; err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	var specs []ParticipantSpec
	if record.Participants != "" {
		if err := json.Unmarshal([]byte(record.Participants), &specs); err != nil {
			return nil, fmt.Errorf("decode participants for %s: %w", conversationID, err)
		}
	}

	var rows []TurnRecord
	if err := s.db.Where("conversation_id = ?", conversationID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load turns for %s: %w", conversationID, err)
	}

	messages := make([]conversation.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		from := row.AuthorName
		if from == "" && row.ParticipantID == nil {
			from = conversation.UserAuthorName
		}
		messages = append(messages, conversation.HistoryEntry{
			From:      from,
			Content:   row.Content,
			Timestamp: row.Timestamp,
		})
	}

	return &Archive{
		Topic:    record.Topic,
		Messages: messages,
		Metadata: Metadata{
			Mode:         record.Mode,
			Participants: specs,
			MaxTurns:     record.MaxTurns,
			SavedAt:      record.UpdatedAt,
		},
	}, nil
}

// List returns summaries of all stored conversations, newest first.
func (s *Store) List() ([]ConversationRecord, error) {
	var records []ConversationRecord
	if err := s.db.Order("updated_at desc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return records, nil
}
