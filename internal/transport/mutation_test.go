package transport

import (
	"testing"
	"time"

	"quizthread/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_SwitchesReactionAtomically(t *testing.T) {
	t.Parallel()

	c := models.Comment{ID: "c1", LikeCount: 1, LikedBy: []string{"u1"}}
	m := Mutation{
		Guards: []Guard{Equals(models.FieldIsDeleted, false), Contains(models.FieldLikedBy, "u1")},
		Ops: []Op{
			RemoveFromSet(models.FieldLikedBy, "u1"),
			Inc(models.FieldLikes, -1),
			AddToSet(models.FieldDislikedBy, "u1"),
			Inc(models.FieldDislikes, 1),
		},
	}

	require.NoError(t, Apply(&c, m))
	assert.Empty(t, c.LikedBy)
	assert.Equal(t, []string{"u1"}, c.DislikedBy)
	assert.Equal(t, 0, c.LikeCount)
	assert.Equal(t, 1, c.DislikeCount)
}

func TestApply_GuardFailureLeavesDocumentUntouched(t *testing.T) {
	t.Parallel()

	c := models.Comment{ID: "c1", IsDeleted: true, Content: models.Tombstone}
	m := Mutation{
		Guards: []Guard{Equals(models.FieldIsDeleted, false)},
		Ops:    []Op{Set(models.FieldContent, "resurrected")},
	}

	assert.ErrorIs(t, Apply(&c, m), ErrPreconditionFailed)
	assert.Equal(t, models.Tombstone, c.Content)
}

func TestApply_InvalidOpLeavesDocumentUntouched(t *testing.T) {
	t.Parallel()

	c := models.Comment{ID: "c1", LikeCount: 2}
	m := Mutation{Ops: []Op{Inc(models.FieldLikes, 1), Inc("threadKey", 1)}}

	assert.ErrorIs(t, Apply(&c, m), ErrUnsupportedField)
	assert.Equal(t, 2, c.LikeCount)
}

func TestApply_SetOpsAreIdempotentAndSorted(t *testing.T) {
	t.Parallel()

	c := models.Comment{}
	require.NoError(t, Apply(&c, Mutation{Ops: []Op{
		AddToSet(models.FieldLikedBy, "u2"),
		AddToSet(models.FieldLikedBy, "u1"),
		AddToSet(models.FieldLikedBy, "u2"),
	}}))
	assert.Equal(t, []string{"u1", "u2"}, c.LikedBy)

	require.NoError(t, Apply(&c, Mutation{Ops: []Op{RemoveFromSet(models.FieldLikedBy, "u9")}}))
	assert.Equal(t, []string{"u1", "u2"}, c.LikedBy)
}

func TestApply_SetUpdatedAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := models.Comment{Content: "old"}
	require.NoError(t, Apply(&c, Mutation{Ops: []Op{
		Set(models.FieldContent, "new"),
		Set(models.FieldUpdatedAt, now),
	}}))
	assert.Equal(t, "new", c.Content)
	require.NotNil(t, c.EditedAt)
	assert.True(t, now.Equal(*c.EditedAt))

	assert.ErrorIs(t, Apply(&c, Mutation{Ops: []Op{Set(models.FieldContent, 42)}}), ErrUnsupportedField)
}
