package models

import "time"

// Reaction kinds stored in comment_reactions.
const (
	ReactionLike    = "like"
	ReactionDislike = "dislike"
)

// Reaction is one voter's like or dislike on a comment. The composite
// (comment_id, voter_id) key keeps the two sets disjoint.
type Reaction struct {
	CommentID string    `gorm:"primaryKey;size:64" json:"commentId"`
	VoterID   string    `gorm:"primaryKey;size:191" json:"voterId"`
	Kind      string    `gorm:"size:16;not null" json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName overrides the default table name.
func (Reaction) TableName() string {
	return "comment_reactions"
}

// ReactionKindForField maps a comment set field to the reaction kind stored for it.
func ReactionKindForField(field string) (string, bool) {
	switch field {
	case FieldLikedBy:
		return ReactionLike, true
	case FieldDislikedBy:
		return ReactionDislike, true
	default:
		return "", false
	}
}
