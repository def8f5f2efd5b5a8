// Package repository provides the SQL implementation of the comment transport.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"quizthread/internal/feed"
	"quizthread/internal/models"
	"quizthread/internal/notifications"
	"quizthread/internal/observability"
	"quizthread/internal/transport"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// columns maps mutation fields to comment columns.
var columns = map[string]string{
	models.FieldContent:     "content",
	models.FieldUpdatedAt:   "updated_at",
	models.FieldIsDeleted:   "is_deleted",
	models.FieldIsReported:  "is_reported",
	models.FieldReportCount: "report_count",
	models.FieldLikes:       "likes",
	models.FieldDislikes:    "dislikes",
}

// CommentRepository stores comments in SQL tables. Reaction sets live in
// comment_reactions; change notifications go through Redis when configured.
type CommentRepository struct {
	db       *gorm.DB
	notifier *notifications.Notifier
	hub      *feed.Hub
	closed   atomic.Bool

	log     *observability.TransportLogger
	metrics *observability.TransportMetrics
}

var _ transport.Transport = (*CommentRepository)(nil)

// NewCommentRepository creates a new CommentRepository. notifier may be nil.
func NewCommentRepository(db *gorm.DB, notifier *notifications.Notifier) *CommentRepository {
	r := &CommentRepository{
		db:       db,
		notifier: notifier,
		log:      observability.NewTransportLogger(transport.CommentsCollection, "sql"),
		metrics:  observability.NewTransportMetrics(transport.CommentsCollection),
	}
	r.hub = feed.NewHub("sql", r.QueryThread)
	return r
}

// Start relays thread changes published by any instance into the local feed.
// Without Redis it is a no-op and changes are announced in-process.
func (r *CommentRepository) Start(ctx context.Context) error {
	return r.notifier.StartThreadSubscriber(ctx, func(change notifications.ThreadChange) {
		r.hub.Notify(change.ThreadKey)
	})
}

func (r *CommentRepository) InsertComment(ctx context.Context, comment *models.Comment) (string, error) {
	if r.closed.Load() {
		return "", transport.ErrClosed
	}
	defer r.metrics.TrackQuery("insert")()
	ctx, span := observability.GetTraceLayer().TraceTransportMethod(ctx, "sql", "InsertComment", transport.CommentsCollection)
	defer span.End()

	doc := comment.Clone()
	doc.ID = uuid.NewString()
	doc.CreatedAt = time.Now().UTC()
	doc.EditedAt = nil

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		reactions := reactionRows(doc.ID, doc.LikedBy, models.ReactionLike, doc.CreatedAt)
		reactions = append(reactions, reactionRows(doc.ID, doc.DislikedBy, models.ReactionDislike, doc.CreatedAt)...)
		if len(reactions) == 0 {
			return nil
		}
		return tx.Create(&reactions).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "insert")
		observability.RecordErrorInContext(ctx, err)
		return "", fmt.Errorf("insert comment: %w", err)
	}

	comment.ID = doc.ID
	comment.CreatedAt = doc.CreatedAt
	r.log.LogCreate(ctx, map[string]interface{}{"id": doc.ID, "thread_key": doc.ThreadKey})
	r.announce(ctx, notifications.ThreadChange{ThreadKey: doc.ThreadKey, CommentID: doc.ID, Operation: "create"})
	return doc.ID, nil
}

func (r *CommentRepository) GetComment(ctx context.Context, id string) (models.Comment, error) {
	if r.closed.Load() {
		return models.Comment{}, transport.ErrClosed
	}
	defer r.metrics.TrackQuery("get")()

	var c models.Comment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Comment{}, fmt.Errorf("comment %s: %w", id, transport.ErrNotFound)
		}
		return models.Comment{}, fmt.Errorf("get comment: %w", err)
	}
	comments := []models.Comment{c}
	if err := r.attachReactions(ctx, r.db, comments); err != nil {
		return models.Comment{}, err
	}
	return comments[0], nil
}

func (r *CommentRepository) QueryComments(ctx context.Context, q transport.Query) ([]models.Comment, error) {
	return r.QueryThread(ctx, q.ThreadKey)
}

// QueryThread returns one thread ordered by created_at, then id.
func (r *CommentRepository) QueryThread(ctx context.Context, threadKey string) ([]models.Comment, error) {
	if r.closed.Load() {
		return nil, transport.ErrClosed
	}
	defer r.metrics.TrackQuery("query")()
	ctx, span := observability.GetTraceLayer().TraceTransportMethod(ctx, "sql", "QueryComments", transport.CommentsCollection)
	defer span.End()

	comments := make([]models.Comment, 0)
	err := r.db.WithContext(ctx).
		Where("thread_key = ?", threadKey).
		Order("created_at asc").Order("id asc").
		Find(&comments).Error
	if err != nil {
		observability.RecordErrorInContext(ctx, err)
		return nil, fmt.Errorf("query comments: %w", err)
	}
	if err := r.attachReactions(ctx, r.db, comments); err != nil {
		return nil, err
	}
	r.log.LogRead(ctx, map[string]interface{}{"thread_key": threadKey, "count": len(comments)})
	return comments, nil
}

func (r *CommentRepository) attachReactions(ctx context.Context, db *gorm.DB, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	ids := make([]string, len(comments))
	index := make(map[string]*models.Comment, len(comments))
	for i := range comments {
		ids[i] = comments[i].ID
		comments[i].LikedBy = []string{}
		comments[i].DislikedBy = []string{}
		index[comments[i].ID] = &comments[i]
	}

	var reactions []models.Reaction
	err := db.WithContext(ctx).
		Where("comment_id IN ?", ids).
		Order("voter_id asc").
		Find(&reactions).Error
	if err != nil {
		return fmt.Errorf("load reactions: %w", err)
	}
	for _, re := range reactions {
		c, ok := index[re.CommentID]
		if !ok {
			continue
		}
		switch re.Kind {
		case models.ReactionLike:
			c.LikedBy = append(c.LikedBy, re.VoterID)
		case models.ReactionDislike:
			c.DislikedBy = append(c.DislikedBy, re.VoterID)
		}
	}
	return nil
}

// UpdateComment applies m in one transaction. Set guards are checked against
// comment_reactions, equality guards are folded into the row update, and set
// ops that touch no row where a guard expected one fail the whole mutation.
func (r *CommentRepository) UpdateComment(ctx context.Context, id string, m transport.Mutation) error {
	if r.closed.Load() {
		return transport.ErrClosed
	}
	defer r.metrics.TrackQuery("update")()
	ctx, span := observability.GetTraceLayer().TraceTransportMethod(ctx, "sql", "UpdateComment", transport.CommentsCollection)
	defer span.End()

	var threadKey string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Comment
		if err := tx.Select("id", "thread_key").Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("comment %s: %w", id, transport.ErrNotFound)
			}
			return err
		}
		threadKey = row.ThreadKey
		return applyMutation(tx, id, m)
	})
	if err != nil {
		if !errors.Is(err, transport.ErrPreconditionFailed) && !errors.Is(err, transport.ErrNotFound) {
			r.log.LogError(ctx, err, "update")
			observability.RecordErrorInContext(ctx, err)
		}
		return err
	}

	r.log.LogUpdate(ctx, map[string]interface{}{"id": id, "ops": len(m.Ops), "guards": len(m.Guards)})
	r.announce(ctx, notifications.ThreadChange{ThreadKey: threadKey, CommentID: id, Operation: "update"})
	return nil
}

func applyMutation(tx *gorm.DB, id string, m transport.Mutation) error {
	var equals []transport.Guard
	expectMember := make(map[string]bool)
	for _, g := range m.Guards {
		switch g.Kind {
		case transport.GuardEquals:
			if _, ok := columns[g.Field]; !ok {
				return fmt.Errorf("%s: %w", g.Field, transport.ErrUnsupportedField)
			}
			equals = append(equals, g)
		case transport.GuardContains, transport.GuardNotContains:
			kind, ok := models.ReactionKindForField(g.Field)
			if !ok {
				return fmt.Errorf("%s: %w", g.Field, transport.ErrUnsupportedField)
			}
			var n int64
			err := tx.Model(&models.Reaction{}).
				Where("comment_id = ? AND voter_id = ? AND kind = ?", id, g.Member, kind).
				Count(&n).Error
			if err != nil {
				return err
			}
			if (n > 0) != (g.Kind == transport.GuardContains) {
				return transport.ErrPreconditionFailed
			}
			if g.Kind == transport.GuardContains {
				expectMember[g.Field+"\x00"+g.Member] = true
			}
		default:
			return fmt.Errorf("guard kind %d: %w", g.Kind, transport.ErrUnsupportedField)
		}
	}

	updates := make(map[string]interface{})
	deltas := make(map[string]int)
	for _, op := range m.Ops {
		switch op.Kind {
		case transport.OpSet:
			col, ok := columns[op.Field]
			if !ok {
				return fmt.Errorf("%s: %w", op.Field, transport.ErrUnsupportedField)
			}
			updates[col] = op.Value
		case transport.OpIncrement:
			col, ok := columns[op.Field]
			if !ok || (col != "likes" && col != "dislikes" && col != "report_count") {
				return fmt.Errorf("%s: %w", op.Field, transport.ErrUnsupportedField)
			}
			deltas[col] += op.Delta
		case transport.OpSetAdd:
			if err := addReaction(tx, id, op); err != nil {
				return err
			}
		case transport.OpSetRemove:
			if err := removeReaction(tx, id, op, expectMember[op.Field+"\x00"+op.Member]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("op %s: %w", op.Kind, transport.ErrUnsupportedField)
		}
	}
	for col, delta := range deltas {
		updates[col] = gorm.Expr(col+" + ?", delta)
	}

	if len(updates) == 0 && len(equals) == 0 {
		return nil
	}

	q := tx.Model(&models.Comment{}).Where("id = ?", id)
	for _, g := range equals {
		q = q.Where(columns[g.Field]+" = ?", g.Value)
	}
	if len(updates) == 0 {
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return transport.ErrPreconditionFailed
		}
		return nil
	}
	res := q.UpdateColumns(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return transport.ErrPreconditionFailed
	}
	return nil
}

func addReaction(tx *gorm.DB, id string, op transport.Op) error {
	kind, ok := models.ReactionKindForField(op.Field)
	if !ok {
		return fmt.Errorf("%s: %w", op.Field, transport.ErrUnsupportedField)
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Reaction{CommentID: id, VoterID: op.Member, Kind: kind, CreatedAt: time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	// A row already exists for this voter: a concurrent writer got there after
	// the guards were read, so the counters in this mutation would be stale.
	if res.RowsAffected == 0 {
		return transport.ErrPreconditionFailed
	}
	return nil
}

func removeReaction(tx *gorm.DB, id string, op transport.Op, mustExist bool) error {
	kind, ok := models.ReactionKindForField(op.Field)
	if !ok {
		return fmt.Errorf("%s: %w", op.Field, transport.ErrUnsupportedField)
	}
	res := tx.Where("comment_id = ? AND voter_id = ? AND kind = ?", id, op.Member, kind).
		Delete(&models.Reaction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 && mustExist {
		return transport.ErrPreconditionFailed
	}
	return nil
}

func (r *CommentRepository) SubscribeComments(ctx context.Context, q transport.Query, onChange transport.ChangeFunc) (transport.CancelFunc, error) {
	if r.closed.Load() {
		return nil, transport.ErrClosed
	}
	return r.hub.Subscribe(ctx, q.ThreadKey, onChange)
}

// InsertReport writes the report row and the comment's report counters in
// one transaction.
func (r *CommentRepository) InsertReport(ctx context.Context, report *models.Report, m transport.Mutation) (string, error) {
	if r.closed.Load() {
		return "", transport.ErrClosed
	}
	defer r.metrics.TrackQuery("insert_report")()

	row := *report
	row.ID = uuid.NewString()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	var threadKey string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if m.IsEmpty() {
			return nil
		}
		var target models.Comment
		if err := tx.Select("id", "thread_key").Where("id = ?", row.CommentID).First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("comment %s: %w", row.CommentID, transport.ErrNotFound)
			}
			return err
		}
		threadKey = target.ThreadKey
		return applyMutation(tx, row.CommentID, m)
	})
	if err != nil {
		if !errors.Is(err, transport.ErrPreconditionFailed) && !errors.Is(err, transport.ErrNotFound) {
			r.log.LogError(ctx, err, "insert_report")
		}
		return "", fmt.Errorf("insert report: %w", err)
	}

	report.ID, report.CreatedAt = row.ID, row.CreatedAt
	r.log.LogCreate(ctx, map[string]interface{}{"report_id": row.ID, "comment_id": row.CommentID})
	if threadKey != "" {
		r.announce(ctx, notifications.ThreadChange{ThreadKey: threadKey, CommentID: row.CommentID, Operation: "report"})
	}
	return row.ID, nil
}

// Hub exposes the change feed.
func (r *CommentRepository) Hub() *feed.Hub {
	return r.hub
}

// Close stops the change feed. The database handle belongs to the caller.
func (r *CommentRepository) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.hub.Close()
	return nil
}

// announce publishes through Redis when available and falls back to the local feed.
func (r *CommentRepository) announce(ctx context.Context, change notifications.ThreadChange) {
	if r.notifier.Enabled() {
		err := r.notifier.PublishThreadChange(ctx, change)
		if err == nil {
			return
		}
		r.log.LogError(ctx, err, "publish")
	}
	observability.ThreadChangeEvents.WithLabelValues("local").Inc()
	r.hub.Notify(change.ThreadKey)
}

func reactionRows(commentID string, voters []string, kind string, at time.Time) []models.Reaction {
	rows := make([]models.Reaction, 0, len(voters))
	for _, v := range voters {
		rows = append(rows, models.Reaction{CommentID: commentID, VoterID: v, Kind: kind, CreatedAt: at})
	}
	return rows
}
