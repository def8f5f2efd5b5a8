// Package memory is an in-process Transport used by tests, the watch command,
// and single-node deployments without a database.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"quizthread/internal/feed"
	"quizthread/internal/models"
	"quizthread/internal/observability"
	"quizthread/internal/transport"

	"github.com/google/uuid"
)

// Store keeps comments and reports in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	comments map[string]*models.Comment
	reports  []models.Report
	now      func() time.Time
	closed   bool

	hub     *feed.Hub
	log     *observability.TransportLogger
	metrics *observability.TransportMetrics
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the transport clock that stamps createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

var _ transport.Transport = (*Store)(nil)

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		comments: make(map[string]*models.Comment),
		now:      func() time.Time { return time.Now().UTC() },
		log:      observability.NewTransportLogger(transport.CommentsCollection, "memory"),
		metrics:  observability.NewTransportMetrics(transport.CommentsCollection),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = feed.NewHub("memory", s.QueryThread)
	return s
}

func (s *Store) InsertComment(ctx context.Context, comment *models.Comment) (string, error) {
	defer s.metrics.TrackQuery("insert")()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", transport.ErrClosed
	}
	doc := comment.Clone()
	doc.ID = uuid.NewString()
	doc.CreatedAt = s.now()
	doc.EditedAt = nil
	s.comments[doc.ID] = &doc
	s.mu.Unlock()

	comment.ID = doc.ID
	comment.CreatedAt = doc.CreatedAt
	s.log.LogCreate(ctx, map[string]interface{}{"id": doc.ID, "thread_key": doc.ThreadKey})
	s.hub.Notify(doc.ThreadKey)
	return doc.ID, nil
}

func (s *Store) GetComment(ctx context.Context, id string) (models.Comment, error) {
	defer s.metrics.TrackQuery("get")()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.Comment{}, transport.ErrClosed
	}
	doc, ok := s.comments[id]
	if !ok {
		return models.Comment{}, fmt.Errorf("comment %s: %w", id, transport.ErrNotFound)
	}
	return doc.Clone(), nil
}

func (s *Store) UpdateComment(ctx context.Context, id string, m transport.Mutation) error {
	defer s.metrics.TrackQuery("update")()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	doc, ok := s.comments[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("comment %s: %w", id, transport.ErrNotFound)
	}
	if err := transport.Apply(doc, m); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("comment %s: %w", id, err)
	}
	threadKey := doc.ThreadKey
	s.mu.Unlock()

	s.log.LogUpdate(ctx, map[string]interface{}{"id": id, "ops": len(m.Ops), "guards": len(m.Guards)})
	s.hub.Notify(threadKey)
	return nil
}

func (s *Store) QueryComments(ctx context.Context, q transport.Query) ([]models.Comment, error) {
	return s.QueryThread(ctx, q.ThreadKey)
}

// QueryThread returns one thread ordered by createdAt, then id.
func (s *Store) QueryThread(ctx context.Context, threadKey string) ([]models.Comment, error) {
	defer s.metrics.TrackQuery("query")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, transport.ErrClosed
	}
	out := make([]models.Comment, 0)
	for _, doc := range s.comments {
		if doc.ThreadKey == threadKey {
			out = append(out, doc.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Comment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	s.log.LogRead(ctx, map[string]interface{}{"thread_key": threadKey, "count": len(out)})
	return out, nil
}

func (s *Store) SubscribeComments(ctx context.Context, q transport.Query, onChange transport.ChangeFunc) (transport.CancelFunc, error) {
	return s.hub.Subscribe(ctx, q.ThreadKey, onChange)
}

func (s *Store) InsertReport(ctx context.Context, report *models.Report, m transport.Mutation) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", transport.ErrClosed
	}
	var threadKey string
	if !m.IsEmpty() {
		doc, ok := s.comments[report.CommentID]
		if !ok {
			s.mu.Unlock()
			return "", fmt.Errorf("comment %s: %w", report.CommentID, transport.ErrNotFound)
		}
		if err := transport.Apply(doc, m); err != nil {
			s.mu.Unlock()
			return "", fmt.Errorf("comment %s: %w", report.CommentID, err)
		}
		threadKey = doc.ThreadKey
	}
	report.ID = uuid.NewString()
	report.CreatedAt = s.now()
	s.reports = append(s.reports, *report)
	s.mu.Unlock()

	s.log.LogCreate(ctx, map[string]interface{}{"report_id": report.ID, "comment_id": report.CommentID})
	if threadKey != "" {
		s.hub.Notify(threadKey)
	}
	return report.ID, nil
}

// Reports returns the audit records written for commentID.
func (s *Store) Reports(commentID string) []models.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Report
	for _, r := range s.reports {
		if r.CommentID == commentID {
			out = append(out, r)
		}
	}
	return out
}

// Hub exposes the change feed, mainly for subscription accounting.
func (s *Store) Hub() *feed.Hub {
	return s.hub
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.Close()
	return nil
}
