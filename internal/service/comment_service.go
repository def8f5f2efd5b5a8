// Package service implements the comment engine: the comment store commands,
// the vote state machine, the thread tree builder and the sync coordinator.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"quizthread/internal/identity"
	"quizthread/internal/models"
	"quizthread/internal/observability"
	"quizthread/internal/transport"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"
)

const (
	MaxContentLength    = 500
	MaxReasonLength     = 500
	DefaultReportReason = "unspecified"

	maxVoteAttempts = 3
	serviceName     = "CommentService"
)

// CommentService is the comment store. It validates commands and turns them
// into single atomic transport writes.
type CommentService struct {
	transport transport.Transport
	sanitizer *bluemonday.Policy
	now       func() time.Time
	logger    *observability.StructuredLogger
}

// Option configures a CommentService.
type Option func(*CommentService)

// WithSanitizer strips markup from content through p before validation.
func WithSanitizer(p *bluemonday.Policy) Option {
	return func(s *CommentService) { s.sanitizer = p }
}

// WithClock overrides the clock used for edit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *CommentService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCommentService creates a CommentService writing through t.
func NewCommentService(t transport.Transport, opts ...Option) *CommentService {
	s := &CommentService{
		transport: t,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    observability.NewStructuredLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateCommentInput struct {
	ThreadKey string
	Content   string
	Author    identity.Identity
	// ParentID is empty for root comments.
	ParentID string
}

func (s *CommentService) begin(ctx context.Context, method string, fields map[string]interface{}) (context.Context, *observability.Span) {
	ctx = observability.EnsureCorrelationID(ctx)
	span, ctx := observability.NewSpan(ctx, "service."+method)
	for k, v := range fields {
		span.AddAttributes(attribute.String(k, fmt.Sprint(v)))
	}
	s.logger.LogServiceCall(ctx, serviceName, method, fields)
	return ctx, span
}

func (s *CommentService) finish(ctx context.Context, span *observability.Span, method string, err error) {
	defer span.End()
	if err == nil {
		observability.RecordCommand(method, "")
		return
	}
	code := models.CodeOf(err)
	if code == "" {
		code = "INTERNAL"
	}
	observability.RecordCommand(method, code)
	span.SetError(err)
	s.logger.LogServiceError(ctx, serviceName, method, err)
}

// Create stores a new comment or reply and returns its id.
func (s *CommentService) Create(ctx context.Context, in CreateCommentInput) (id string, err error) {
	ctx, span := s.begin(ctx, "create", map[string]interface{}{"thread_key": in.ThreadKey, "guest": !in.Author.IsAuthenticated()})
	defer func() { s.finish(ctx, span, "create", err) }()

	threadKey := strings.TrimSpace(in.ThreadKey)
	if threadKey == "" {
		return "", models.NewValidationError("thread key is required")
	}
	content, err := s.normalizeContent(in.Content)
	if err != nil {
		return "", err
	}
	authorName := strings.TrimSpace(in.Author.Name)
	if authorName == "" {
		return "", models.NewValidationError("author name is required")
	}

	var parentID *string
	if in.ParentID != "" {
		parent, err := s.transport.GetComment(ctx, in.ParentID)
		if errors.Is(err, transport.ErrNotFound) {
			return "", models.NewValidationError("parent comment does not exist")
		}
		if err != nil {
			return "", models.NewTransportError("create", err)
		}
		if parent.ThreadKey != threadKey {
			return "", models.NewValidationError("parent comment belongs to another thread")
		}
		parentID = models.StringPtr(parent.ID)
	}

	comment := &models.Comment{
		ThreadKey:  threadKey,
		Content:    content,
		AuthorID:   in.Author.AuthorID(),
		AuthorName: authorName,
		ParentID:   parentID,
		LikedBy:    []string{},
		DislikedBy: []string{},
	}
	id, err = s.transport.InsertComment(ctx, comment)
	if err != nil {
		return "", models.NewTransportError("create", err)
	}
	return id, nil
}

// Edit replaces the content of the requestor's own comment.
func (s *CommentService) Edit(ctx context.Context, id, newContent string, requestor identity.Identity) (err error) {
	ctx, span := s.begin(ctx, "edit", map[string]interface{}{"comment_id": id})
	defer func() { s.finish(ctx, span, "edit", err) }()

	c, err := s.ownComment(ctx, "edit", id, requestor)
	if err != nil {
		return err
	}
	if c.IsDeleted {
		return models.NewStateError("cannot edit a deleted comment")
	}
	content, err := s.normalizeContent(newContent)
	if err != nil {
		return err
	}

	m := transport.Mutation{
		Guards: []transport.Guard{transport.Equals(models.FieldIsDeleted, false)},
		Ops: []transport.Op{
			transport.Set(models.FieldContent, content),
			transport.Set(models.FieldUpdatedAt, s.now()),
		},
	}
	return s.update(ctx, "edit", id, m, "cannot edit a deleted comment")
}

// SoftDelete tombstones the requestor's own comment. Replies, reactions and
// the parent link are kept.
func (s *CommentService) SoftDelete(ctx context.Context, id string, requestor identity.Identity) (err error) {
	ctx, span := s.begin(ctx, "soft_delete", map[string]interface{}{"comment_id": id})
	defer func() { s.finish(ctx, span, "soft_delete", err) }()

	c, err := s.ownComment(ctx, "soft_delete", id, requestor)
	if err != nil {
		return err
	}
	if c.IsDeleted {
		return models.NewStateError("comment is already deleted")
	}

	m := transport.Mutation{
		Guards: []transport.Guard{transport.Equals(models.FieldIsDeleted, false)},
		Ops: []transport.Op{
			transport.Set(models.FieldIsDeleted, true),
			transport.Set(models.FieldContent, models.Tombstone),
		},
	}
	return s.update(ctx, "soft_delete", id, m, "comment is already deleted")
}

// Vote moves the voter to kind. Repeating the current reaction writes nothing.
func (s *CommentService) Vote(ctx context.Context, id string, voter identity.Identity, kind VoteKind) (err error) {
	ctx, span := s.begin(ctx, "vote", map[string]interface{}{"comment_id": id, "kind": string(kind)})
	defer func() { s.finish(ctx, span, "vote", err) }()

	if !voter.IsAuthenticated() {
		return models.NewPermissionError("sign in to vote")
	}
	if kind != VoteLike && kind != VoteDislike {
		return models.NewValidationError(fmt.Sprintf("unknown vote kind %q", kind))
	}
	return s.retryVote(ctx, "vote", id, func(c *models.Comment) transport.Mutation {
		m, _ := PlanVote(c, voter.ID, kind)
		return m
	})
}

// RemoveVote clears the voter's reaction, if any.
func (s *CommentService) RemoveVote(ctx context.Context, id string, voter identity.Identity) (err error) {
	ctx, span := s.begin(ctx, "remove_vote", map[string]interface{}{"comment_id": id})
	defer func() { s.finish(ctx, span, "remove_vote", err) }()

	if !voter.IsAuthenticated() {
		return models.NewPermissionError("sign in to vote")
	}
	return s.retryVote(ctx, "remove_vote", id, func(c *models.Comment) transport.Mutation {
		return PlanRemoveVote(c, voter.ID)
	})
}

// retryVote re-reads and re-plans when a concurrent writer invalidated the
// observed vote state between read and write.
func (s *CommentService) retryVote(ctx context.Context, op, id string, plan func(*models.Comment) transport.Mutation) error {
	for attempt := 1; attempt <= maxVoteAttempts; attempt++ {
		c, err := s.load(ctx, op, id)
		if err != nil {
			return err
		}
		if c.IsDeleted {
			return models.NewStateError("cannot vote on a deleted comment")
		}
		m := plan(&c)
		if m.IsEmpty() {
			return nil
		}
		err = s.transport.UpdateComment(ctx, id, m)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, transport.ErrPreconditionFailed):
			continue
		case errors.Is(err, transport.ErrNotFound):
			return models.NewNotFoundError("comment", id)
		default:
			return models.NewTransportError(op, err)
		}
	}
	return models.NewTransportError(op, transport.ErrConflict)
}

// Report records a report and flags the comment. Every call counts.
func (s *CommentService) Report(ctx context.Context, id string, reporter identity.Identity, reason string) (err error) {
	ctx, span := s.begin(ctx, "report", map[string]interface{}{"comment_id": id})
	defer func() { s.finish(ctx, span, "report", err) }()

	if !reporter.IsAuthenticated() {
		return models.NewPermissionError("sign in to report comments")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultReportReason
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return models.NewValidationError(fmt.Sprintf("reason must be at most %d characters", MaxReasonLength))
	}
	if _, err := s.load(ctx, "report", id); err != nil {
		return err
	}

	m := transport.Mutation{Ops: []transport.Op{
		transport.Inc(models.FieldReportCount, 1),
		transport.Set(models.FieldIsReported, true),
	}}
	report := &models.Report{CommentID: id, ReporterID: reporter.ID, Reason: reason}
	_, err = s.transport.InsertReport(ctx, report, m)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrNotFound):
		return models.NewNotFoundError("comment", id)
	default:
		return models.NewTransportError("report", err)
	}
}

// FetchOnce reads the thread's current comments, oldest first.
func (s *CommentService) FetchOnce(ctx context.Context, threadKey string) ([]models.Comment, error) {
	comments, err := s.transport.QueryComments(ctx, transport.Query{ThreadKey: threadKey})
	if err != nil {
		observability.RecordCommand("fetch", models.CodeTransport)
		return nil, models.NewTransportError("fetch", err)
	}
	observability.RecordCommand("fetch", "")
	return comments, nil
}

// Thread returns the thread as a reply tree.
func (s *CommentService) Thread(ctx context.Context, threadKey string) ([]*models.CommentNode, error) {
	comments, err := s.FetchOnce(ctx, threadKey)
	if err != nil {
		return nil, err
	}
	observability.TreeBuilds.WithLabelValues("fetch").Inc()
	return BuildTree(comments), nil
}

// Comment returns one comment.
func (s *CommentService) Comment(ctx context.Context, id string) (models.Comment, error) {
	return s.load(ctx, "get", id)
}

// Subscribe delivers the thread's full snapshot now and after every change.
// Load failures reach onChange as transport errors.
func (s *CommentService) Subscribe(ctx context.Context, threadKey string, onChange transport.ChangeFunc) (transport.CancelFunc, error) {
	cancel, err := s.transport.SubscribeComments(ctx, transport.Query{ThreadKey: threadKey}, func(comments []models.Comment, err error) {
		if err != nil {
			err = models.NewTransportError("subscribe", err)
		}
		onChange(comments, err)
	})
	if err != nil {
		return nil, models.NewTransportError("subscribe", err)
	}
	return cancel, nil
}

func (s *CommentService) normalizeContent(content string) (string, error) {
	if s.sanitizer != nil {
		content = s.sanitizer.Sanitize(content)
	}
	content = strings.TrimSpace(content)
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return "", models.NewValidationError("content is required")
	}
	if n > MaxContentLength {
		return "", models.NewValidationError(fmt.Sprintf("content must be at most %d characters", MaxContentLength))
	}
	return content, nil
}

// ownComment loads id and checks requestor authored it. Guests never own comments.
func (s *CommentService) ownComment(ctx context.Context, op, id string, requestor identity.Identity) (models.Comment, error) {
	if !requestor.IsAuthenticated() {
		return models.Comment{}, models.NewPermissionError("guests cannot modify comments")
	}
	c, err := s.load(ctx, op, id)
	if err != nil {
		return models.Comment{}, err
	}
	if !c.AuthoredBy(requestor.ID) {
		return models.Comment{}, models.NewPermissionError("you can only change your own comments")
	}
	return c, nil
}

func (s *CommentService) load(ctx context.Context, op, id string) (models.Comment, error) {
	c, err := s.transport.GetComment(ctx, id)
	if errors.Is(err, transport.ErrNotFound) {
		return models.Comment{}, models.NewNotFoundError("comment", id)
	}
	if err != nil {
		return models.Comment{}, models.NewTransportError(op, err)
	}
	return c, nil
}

// update applies m; a failed guard becomes a StateError with stateMsg.
func (s *CommentService) update(ctx context.Context, op, id string, m transport.Mutation, stateMsg string) error {
	err := s.transport.UpdateComment(ctx, id, m)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrNotFound):
		return models.NewNotFoundError("comment", id)
	case errors.Is(err, transport.ErrPreconditionFailed) && stateMsg != "":
		return models.NewStateError(stateMsg)
	default:
		return models.NewTransportError(op, err)
	}
}
