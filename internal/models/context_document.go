package models

import "time"

// ContextDocument is an uploaded file the assistant answers against. At
// most one per participant has a nil ClearedAt.
type ContextDocument struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	ParticipantID string `gorm:"size:36;not null;index"`
	Name          string `gorm:"size:255;not null"`
	StoredPath    string `gorm:"size:512;not null"`
	Size          int64
	CreatedAt     time.Time
	ClearedAt     *time.Time `gorm:"index"`
}

// Active reports whether the document has not been cleared.
func (d ContextDocument) Active() bool {
	return d.ClearedAt == nil
}
