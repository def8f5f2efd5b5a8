package seed

import (
	"context"
	"testing"

	"quizthread/internal/service"
	"quizthread/internal/transport/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeeder_Conversation(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	svc := service.NewCommentService(store)

	res, err := NewSeeder(svc, Options{Roots: 4, MaxReplies: 5, Voters: 3, ReportChance: 50, Seed: 42}).
		Conversation(context.Background(), "quiz-1")
	require.NoError(t, err)

	comments, err := svc.FetchOnce(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Len(t, comments, res.Comments)
	assert.GreaterOrEqual(t, res.Comments, 4)

	roots := service.BuildTree(comments)
	assert.Len(t, roots, 4)
	assert.Equal(t, res.Comments, service.CountNodes(roots))

	var votes, reports int
	for _, c := range comments {
		assert.Equal(t, len(c.LikedBy), c.LikeCount)
		assert.Equal(t, len(c.DislikedBy), c.DislikeCount)
		assert.NotEmpty(t, c.Content)
		votes += c.LikeCount + c.DislikeCount
		reports += c.ReportCount
	}
	assert.Equal(t, res.Votes, votes)
	assert.Equal(t, res.Reports, reports)
}

func TestNewSeeder_Defaults(t *testing.T) {
	s := NewSeeder(nil, Options{MaxReplies: -1})
	assert.Equal(t, 5, s.opts.Roots)
	assert.Equal(t, 4, s.opts.Voters)
	assert.Zero(t, s.opts.MaxReplies)
}
