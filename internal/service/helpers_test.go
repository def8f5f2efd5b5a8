package service

import (
	"context"
	"testing"

	"quizthread/internal/models"
	"quizthread/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, models.IsValidation(err), "expected validation error, got %v", err)
}

func assertPermissionError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, models.IsPermission(err), "expected permission error, got %v", err)
}

func assertStateError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, models.IsState(err), "expected state error, got %v", err)
}

func assertTransportError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, models.IsTransport(err), "expected transport error, got %v", err)
}

// transportStub is a stub for transport.Transport.
type transportStub struct {
	insertCommentFn     func(context.Context, *models.Comment) (string, error)
	getCommentFn        func(context.Context, string) (models.Comment, error)
	updateCommentFn     func(context.Context, string, transport.Mutation) error
	queryCommentsFn     func(context.Context, transport.Query) ([]models.Comment, error)
	subscribeCommentsFn func(context.Context, transport.Query, transport.ChangeFunc) (transport.CancelFunc, error)
	insertReportFn      func(context.Context, *models.Report, transport.Mutation) (string, error)
}

func (s *transportStub) InsertComment(ctx context.Context, c *models.Comment) (string, error) {
	return s.insertCommentFn(ctx, c)
}
func (s *transportStub) GetComment(ctx context.Context, id string) (models.Comment, error) {
	return s.getCommentFn(ctx, id)
}
func (s *transportStub) UpdateComment(ctx context.Context, id string, m transport.Mutation) error {
	return s.updateCommentFn(ctx, id, m)
}
func (s *transportStub) QueryComments(ctx context.Context, q transport.Query) ([]models.Comment, error) {
	return s.queryCommentsFn(ctx, q)
}
func (s *transportStub) SubscribeComments(ctx context.Context, q transport.Query, fn transport.ChangeFunc) (transport.CancelFunc, error) {
	return s.subscribeCommentsFn(ctx, q, fn)
}
func (s *transportStub) InsertReport(ctx context.Context, r *models.Report, m transport.Mutation) (string, error) {
	return s.insertReportFn(ctx, r, m)
}
func (s *transportStub) Close() error { return nil }

func stubComment(id string) models.Comment {
	return models.Comment{ID: id, ThreadKey: "T1", AuthorID: models.StringPtr("u1"), AuthorName: "Ana"}
}

func noopTransport() *transportStub {
	return &transportStub{
		insertCommentFn:     func(_ context.Context, _ *models.Comment) (string, error) { return "c1", nil },
		getCommentFn:        func(_ context.Context, id string) (models.Comment, error) { return stubComment(id), nil },
		updateCommentFn:     func(_ context.Context, _ string, _ transport.Mutation) error { return nil },
		queryCommentsFn:     func(_ context.Context, _ transport.Query) ([]models.Comment, error) { return nil, nil },
		subscribeCommentsFn: func(_ context.Context, _ transport.Query, _ transport.ChangeFunc) (transport.CancelFunc, error) { return func() {}, nil },
		insertReportFn:      func(_ context.Context, _ *models.Report, _ transport.Mutation) (string, error) { return "r1", nil },
	}
}
