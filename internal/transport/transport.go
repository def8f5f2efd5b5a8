// Package transport defines the document-store contract the comment engine writes through.
package transport

import (
	"context"
	"errors"

	"quizthread/internal/models"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrPreconditionFailed is returned when a mutation guard does not hold; nothing was written.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConflict reports that a command kept losing races against concurrent writers.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrUnsupportedField is returned for mutations on fields a transport does not know.
	ErrUnsupportedField = errors.New("unsupported field")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")
)

// Collection names shared by every transport.
const (
	CommentsCollection = "comments"
	ReportsCollection  = "comment_reports"
)

// CancelFunc releases a subscription. It is idempotent and safe to call
// concurrently with an in-flight callback; no new callback starts after it returns.
type CancelFunc func()

// ChangeFunc receives the full, current result set of a subscribed query.
// A non-nil error means the snapshot could not be loaded; comments is nil then.
type ChangeFunc func(comments []models.Comment, err error)

// Query selects one thread's comments, ordered by creation time ascending.
type Query struct {
	ThreadKey string
}

// Transport is the document store the comment engine depends on.
type Transport interface {
	InsertComment(ctx context.Context, comment *models.Comment) (string, error)
	GetComment(ctx context.Context, id string) (models.Comment, error)
	UpdateComment(ctx context.Context, id string, m Mutation) error
	QueryComments(ctx context.Context, q Query) ([]models.Comment, error)
	SubscribeComments(ctx context.Context, q Query, onChange ChangeFunc) (CancelFunc, error)
	// InsertReport appends report and applies m to the reported comment as
	// one write: either both happen or neither does.
	InsertReport(ctx context.Context, report *models.Report, m Mutation) (string, error)
	Close() error
}
