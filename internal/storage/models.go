package storage

import (
	"time"

	"github.com/lib/pq"
)

// ConversationEntry is one persisted chat turn. Only conversation history
// and the settings row survive reloads; reactions, adopted policies and job
// state are deliberately session-local.
type ConversationEntry struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	SessionID string         `gorm:"index" json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Quotes    pq.StringArray `gorm:"type:text[]" json:"quotes"`
	CreatedAt time.Time      `json:"created_at"`
}

// SessionSettings holds the per-session flags the UI persists.
type SessionSettings struct {
	SessionID    string    `gorm:"primaryKey" json:"session_id"`
	AutoSimulate bool      `json:"auto_simulate"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (ConversationEntry) TableName() string {
	return "civicsim.conversation_entries"
}

func (SessionSettings) TableName() string {
	return "civicsim.session_settings"
}
