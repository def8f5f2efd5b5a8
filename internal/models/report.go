package models

import "time"

// Report is an append-only audit record written for every report call.
type Report struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	CommentID  string    `gorm:"size:64;not null;index" json:"commentId"`
	ReporterID string    `gorm:"size:191;not null;index" json:"reporterId"`
	Reason     string    `gorm:"size:500;not null" json:"reason"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName keeps the audit collection name stable across transports.
func (Report) TableName() string {
	return "comment_reports"
}
