// Package models contains data structures for the comment engine's domain models.
package models

import (
	"slices"
	"time"
)

// Tombstone replaces the content of a soft-deleted comment.
const Tombstone = "[deleted]"

// Comment fields addressable by transport mutations.
const (
	FieldContent     = "content"
	FieldUpdatedAt   = "updatedAt"
	FieldIsDeleted   = "isDeleted"
	FieldIsReported  = "isReported"
	FieldReportCount = "reportCount"
	FieldLikes       = "likes"
	FieldDislikes    = "dislikes"
	FieldLikedBy     = "likedBy"
	FieldDislikedBy  = "dislikedBy"
)

// Comment represents a comment in a quiz discussion thread.
// LikedBy and DislikedBy are not columns; SQL transports store them as reaction rows.
type Comment struct {
	ID           string     `gorm:"primaryKey;size:64" json:"id"`
	ThreadKey    string     `gorm:"size:191;not null;index:idx_comments_thread_created" json:"threadKey"`
	Content      string     `gorm:"type:text;not null" json:"content"`
	AuthorID     *string    `gorm:"size:191;index" json:"authorId"`
	AuthorName   string     `gorm:"size:191;not null" json:"authorName"`
	ParentID     *string    `gorm:"size:64;index" json:"parentId"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_comments_thread_created" json:"createdAt"`
	EditedAt     *time.Time `gorm:"column:updated_at" json:"updatedAt,omitempty"`
	LikeCount    int        `gorm:"column:likes;not null;default:0" json:"likes"`
	DislikeCount int        `gorm:"column:dislikes;not null;default:0" json:"dislikes"`
	LikedBy      []string   `gorm:"-" json:"likedBy"`
	DislikedBy   []string   `gorm:"-" json:"dislikedBy"`
	IsDeleted    bool       `gorm:"not null;default:false" json:"isDeleted"`
	IsReported   bool       `gorm:"not null;default:false" json:"isReported"`
	ReportCount  int        `gorm:"not null;default:0" json:"reportCount"`
}

// IsRoot reports whether the comment starts a thread branch.
func (c *Comment) IsRoot() bool {
	return c.ParentID == nil
}

// IsGuestAuthored reports whether the comment was written without an authenticated identity.
func (c *Comment) IsGuestAuthored() bool {
	return c.AuthorID == nil
}

// AuthoredBy reports whether authorID owns the comment. Guest comments have no owner.
func (c *Comment) AuthoredBy(authorID string) bool {
	return c.AuthorID != nil && authorID != "" && *c.AuthorID == authorID
}

// HasLiked reports whether voterID is in the like set.
func (c *Comment) HasLiked(voterID string) bool {
	return slices.Contains(c.LikedBy, voterID)
}

// HasDisliked reports whether voterID is in the dislike set.
func (c *Comment) HasDisliked(voterID string) bool {
	return slices.Contains(c.DislikedBy, voterID)
}

// Clone returns a deep copy so snapshots handed to subscribers never alias transport state.
func (c Comment) Clone() Comment {
	out := c
	if c.AuthorID != nil {
		v := *c.AuthorID
		out.AuthorID = &v
	}
	if c.ParentID != nil {
		v := *c.ParentID
		out.ParentID = &v
	}
	if c.EditedAt != nil {
		v := *c.EditedAt
		out.EditedAt = &v
	}
	out.LikedBy = slices.Clone(c.LikedBy)
	out.DislikedBy = slices.Clone(c.DislikedBy)
	return out
}

// CommentNode is a comment positioned in a rebuilt thread.
type CommentNode struct {
	Comment
	Replies []*CommentNode `json:"replies"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
