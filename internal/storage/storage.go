package storage

import (
	"errors"
	"log"

	"github.com/CivicSim/CS-Gateway/internal/civic"
	"github.com/CivicSim/CS-Gateway/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// maxEntriesPerSession caps stored conversation history; older rows are
// trimmed on insert.
const maxEntriesPerSession = 50

// Init ensures the civicsim schema and tables exist.
func Init() {
	if err := db.EnsureSchema(db.DB, "civicsim"); err != nil {
		log.Fatal("Failed to create civicsim schema: ", err)
	}
	if err := db.DB.AutoMigrate(&ConversationEntry{}, &SessionSettings{}); err != nil {
		log.Fatal("Failed to auto-migrate tables", err)
	}
}

// Store persists session state through gorm. Implements session.Store.
type Store struct {
	DB *gorm.DB
}

func NewStore(d *gorm.DB) *Store {
	return &Store{DB: d}
}

// AppendChat inserts a conversation entry and trims the session's history
// to the cap.
func (s *Store) AppendChat(sessionID string, entry civic.ChatEntry) error {
	row := ConversationEntry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      entry.Role,
		Content:   entry.Content,
		Quotes:    entry.Quotes,
		CreatedAt: entry.CreatedAt,
	}
	if err := s.DB.Create(&row).Error; err != nil {
		return err
	}

	// Trim beyond the cap, oldest first.
	var count int64
	if err := s.DB.Model(&ConversationEntry{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return err
	}
	if count > maxEntriesPerSession {
		sub := s.DB.Model(&ConversationEntry{}).
			Select("id").
			Where("session_id = ?", sessionID).
			Order("created_at ASC").
			Limit(int(count - maxEntriesPerSession))
		if err := s.DB.Where("id IN (?)", sub).Delete(&ConversationEntry{}).Error; err != nil {
			return err
		}
	}
	return nil
}

// Conversation returns a session's stored history, oldest first.
func (s *Store) Conversation(sessionID string) ([]civic.ChatEntry, error) {
	var rows []ConversationEntry
	if err := s.DB.Where("session_id = ?", sessionID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]civic.ChatEntry, len(rows))
	for i, r := range rows {
		entries[i] = civic.ChatEntry{
			Role:      r.Role,
			Content:   r.Content,
			Quotes:    r.Quotes,
			CreatedAt: r.CreatedAt,
		}
	}
	return entries, nil
}

// SetAutoSimulate upserts the session's settings row.
func (s *Store) SetAutoSimulate(sessionID string, on bool) error {
	var existing SessionSettings
	err := s.DB.First(&existing, "session_id = ?", sessionID).Error
	if err == nil {
		return s.DB.Model(&existing).Update("auto_simulate", on).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.DB.Create(&SessionSettings{SessionID: sessionID, AutoSimulate: on}).Error
	}
	return err
}

// AutoSimulate reads the flag; a missing row means false.
func (s *Store) AutoSimulate(sessionID string) (bool, error) {
	var settings SessionSettings
	err := s.DB.First(&settings, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return settings.AutoSimulate, nil
}
