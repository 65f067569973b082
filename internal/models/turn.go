package models

import "time"

// Speakers as they appear in the history wire format.
const (
	SpeakerHuman = "human"
	SpeakerAI    = "ai"
)

// Turn is one message of a participant's conversation.
type Turn struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	ParticipantID string `gorm:"size:36;not null;index"`
	Speaker       string `gorm:"size:8;not null"`
	Step          string `gorm:"size:32"`
	Text          string `gorm:"type:text"`
	ImageURLs     string `gorm:"type:text"` // JSON array
	ImageURL      string `gorm:"size:512"`
	CreatedAt     time.Time
}
