// Package mongostore implements the comment transport on MongoDB, with
// guarded single-document updates and change streams for the live feed.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"quizthread/internal/feed"
	"quizthread/internal/models"
	"quizthread/internal/observability"
	"quizthread/internal/transport"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type commentDoc struct {
	ID          string     `bson:"_id"`
	ThreadKey   string     `bson:"threadKey"`
	Content     string     `bson:"content"`
	AuthorID    *string    `bson:"authorId"`
	AuthorName  string     `bson:"authorName"`
	ParentID    *string    `bson:"parentId"`
	CreatedAt   time.Time  `bson:"createdAt"`
	UpdatedAt   *time.Time `bson:"updatedAt,omitempty"`
	Likes       int        `bson:"likes"`
	Dislikes    int        `bson:"dislikes"`
	LikedBy     []string   `bson:"likedBy"`
	DislikedBy  []string   `bson:"dislikedBy"`
	IsDeleted   bool       `bson:"isDeleted"`
	IsReported  bool       `bson:"isReported"`
	ReportCount int        `bson:"reportCount"`
}

func toDoc(c models.Comment) commentDoc {
	likedBy, dislikedBy := c.LikedBy, c.DislikedBy
	if likedBy == nil {
		likedBy = []string{}
	}
	if dislikedBy == nil {
		dislikedBy = []string{}
	}
	return commentDoc{
		ID: c.ID, ThreadKey: c.ThreadKey, Content: c.Content,
		AuthorID: c.AuthorID, AuthorName: c.AuthorName, ParentID: c.ParentID,
		CreatedAt: c.CreatedAt, UpdatedAt: c.EditedAt,
		Likes: c.LikeCount, Dislikes: c.DislikeCount,
		LikedBy: likedBy, DislikedBy: dislikedBy,
		IsDeleted: c.IsDeleted, IsReported: c.IsReported, ReportCount: c.ReportCount,
	}
}

func (d commentDoc) model() models.Comment {
	c := models.Comment{
		ID: d.ID, ThreadKey: d.ThreadKey, Content: d.Content,
		AuthorID: d.AuthorID, AuthorName: d.AuthorName, ParentID: d.ParentID,
		CreatedAt: d.CreatedAt.UTC(), EditedAt: d.UpdatedAt,
		LikeCount: d.Likes, DislikeCount: d.Dislikes,
		LikedBy: slices.Clone(d.LikedBy), DislikedBy: slices.Clone(d.DislikedBy),
		IsDeleted: d.IsDeleted, IsReported: d.IsReported, ReportCount: d.ReportCount,
	}
	if c.LikedBy == nil {
		c.LikedBy = []string{}
	}
	if c.DislikedBy == nil {
		c.DislikedBy = []string{}
	}
	// $addToSet appends; sets are reported sorted.
	slices.Sort(c.LikedBy)
	slices.Sort(c.DislikedBy)
	return c
}

type reportDoc struct {
	ID         string    `bson:"_id"`
	CommentID  string    `bson:"commentId"`
	ReporterID string    `bson:"reporterId"`
	Reason     string    `bson:"reason"`
	CreatedAt  time.Time `bson:"createdAt"`
}

// Store is a MongoDB-backed transport.
type Store struct {
	comments *mongo.Collection
	reports  *mongo.Collection
	hub      *feed.Hub
	watching atomic.Bool
	closed   atomic.Bool

	log     *observability.TransportLogger
	metrics *observability.TransportMetrics
}

var _ transport.Transport = (*Store)(nil)

// Connect dials uri and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// New creates a Store on db.
func New(db *mongo.Database) *Store {
	s := &Store{
		comments: db.Collection(transport.CommentsCollection),
		reports:  db.Collection(transport.ReportsCollection),
		log:      observability.NewTransportLogger(transport.CommentsCollection, "mongo"),
		metrics:  observability.NewTransportMetrics(transport.CommentsCollection),
	}
	s.hub = feed.NewHub("mongo", s.QueryThread)
	return s
}

// EnsureIndexes creates the thread query index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.comments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "threadKey", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create thread index: %w", err)
	}
	return nil
}

// Start opens a collection-wide change stream that drives the feed hub. When
// change streams are unavailable (standalone server) writes notify locally.
func (s *Store) Start(ctx context.Context) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := s.comments.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		s.log.LogError(ctx, err, "watch")
		return fmt.Errorf("watch comments: %w", err)
	}
	s.watching.Store(true)

	go func() {
		defer func() {
			s.watching.Store(false)
			_ = stream.Close(context.Background())
		}()
		for stream.Next(ctx) {
			var event struct {
				FullDocument struct {
					ThreadKey string `bson:"threadKey"`
				} `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				s.log.LogError(ctx, err, "watch_decode")
				continue
			}
			if key := event.FullDocument.ThreadKey; key != "" {
				observability.ThreadChangeEvents.WithLabelValues("change_stream").Inc()
				s.hub.Notify(key)
			}
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			s.log.LogError(ctx, err, "watch")
		}
	}()
	return nil
}

func (s *Store) InsertComment(ctx context.Context, comment *models.Comment) (string, error) {
	if s.closed.Load() {
		return "", transport.ErrClosed
	}
	defer s.metrics.TrackQuery("insert")()
	ctx, span := observability.GetTraceLayer().TraceTransportMethod(ctx, "mongodb", "InsertComment", transport.CommentsCollection)
	defer span.End()

	doc := toDoc(*comment)
	doc.ID = primitive.NewObjectID().Hex()
	doc.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	doc.UpdatedAt = nil

	if _, err := s.comments.InsertOne(ctx, doc); err != nil {
		s.log.LogError(ctx, err, "insert")
		observability.RecordErrorInContext(ctx, err)
		return "", fmt.Errorf("insert comment: %w", err)
	}

	comment.ID = doc.ID
	comment.CreatedAt = doc.CreatedAt
	s.log.LogCreate(ctx, map[string]interface{}{"id": doc.ID, "thread_key": doc.ThreadKey})
	s.announce(doc.ThreadKey)
	return doc.ID, nil
}

func (s *Store) GetComment(ctx context.Context, id string) (models.Comment, error) {
	if s.closed.Load() {
		return models.Comment{}, transport.ErrClosed
	}
	defer s.metrics.TrackQuery("get")()

	var doc commentDoc
	if err := s.comments.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Comment{}, fmt.Errorf("comment %s: %w", id, transport.ErrNotFound)
		}
		return models.Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return doc.model(), nil
}

func (s *Store) QueryComments(ctx context.Context, q transport.Query) ([]models.Comment, error) {
	return s.QueryThread(ctx, q.ThreadKey)
}

// QueryThread returns one thread ordered by createdAt, then _id.
func (s *Store) QueryThread(ctx context.Context, threadKey string) ([]models.Comment, error) {
	if s.closed.Load() {
		return nil, transport.ErrClosed
	}
	defer s.metrics.TrackQuery("query")()
	ctx, span := observability.GetTraceLayer().TraceTransportMethod(ctx, "mongodb", "QueryComments", transport.CommentsCollection)
	defer span.End()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.comments.Find(ctx, bson.M{"threadKey": threadKey}, opts)
	if err != nil {
		observability.RecordErrorInContext(ctx, err)
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []commentDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	out := make([]models.Comment, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	s.log.LogRead(ctx, map[string]interface{}{"thread_key": threadKey, "count": len(out)})
	return out, nil
}

func (s *Store) UpdateComment(ctx context.Context, id string, m transport.Mutation) error {
	if s.closed.Load() {
		return transport.ErrClosed
	}
	defer s.metrics.TrackQuery("update")()
	ctx, span := observability.GetTraceLayer().TraceTransportMethod(ctx, "mongodb", "UpdateComment", transport.CommentsCollection)
	defer span.End()

	if err := s.apply(ctx, id, m); err != nil {
		return err
	}
	s.log.LogUpdate(ctx, map[string]interface{}{"id": id, "ops": len(m.Ops), "guards": len(m.Guards)})
	s.announceComment(ctx, id)
	return nil
}

// apply runs m as one UpdateOne with its guards in the filter.
func (s *Store) apply(ctx context.Context, id string, m transport.Mutation) error {
	filter, err := buildFilter(id, m.Guards)
	if err != nil {
		return err
	}
	update, err := buildUpdate(m.Ops)
	if err != nil {
		return err
	}

	var matched int64
	if len(update) == 0 {
		matched, err = s.comments.CountDocuments(ctx, filter)
	} else {
		var res *mongo.UpdateResult
		res, err = s.comments.UpdateOne(ctx, filter, update)
		if res != nil {
			matched = res.MatchedCount
		}
	}
	if err != nil {
		s.log.LogError(ctx, err, "update")
		observability.RecordErrorInContext(ctx, err)
		return fmt.Errorf("update comment: %w", err)
	}

	if matched == 0 {
		var doc commentDoc
		err := s.comments.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"threadKey": 1})).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("comment %s: %w", id, transport.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update comment: %w", err)
		}
		return transport.ErrPreconditionFailed
	}
	return nil
}

// announceComment notifies the local feed when no change stream is running.
func (s *Store) announceComment(ctx context.Context, id string) {
	if s.watching.Load() {
		return
	}
	var doc commentDoc
	err := s.comments.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"threadKey": 1})).Decode(&doc)
	if err == nil {
		s.announce(doc.ThreadKey)
	}
}

// buildFilter folds guards into the update filter so they hold atomically with the write.
func buildFilter(id string, guards []transport.Guard) (bson.M, error) {
	filter := bson.M{"_id": id}
	var and bson.A
	for _, g := range guards {
		if !knownField(g.Field) {
			return nil, fmt.Errorf("%s: %w", g.Field, transport.ErrUnsupportedField)
		}
		switch g.Kind {
		case transport.GuardEquals:
			and = append(and, bson.M{g.Field: g.Value})
		case transport.GuardContains:
			and = append(and, bson.M{g.Field: g.Member})
		case transport.GuardNotContains:
			and = append(and, bson.M{g.Field: bson.M{"$ne": g.Member}})
		default:
			return nil, fmt.Errorf("guard kind %d: %w", g.Kind, transport.ErrUnsupportedField)
		}
	}
	if len(and) > 0 {
		filter["$and"] = and
	}
	return filter, nil
}

func buildUpdate(ops []transport.Op) (bson.M, error) {
	set, inc, add, pull := bson.M{}, bson.M{}, bson.M{}, bson.M{}
	for _, op := range ops {
		if !knownField(op.Field) {
			return nil, fmt.Errorf("%s: %w", op.Field, transport.ErrUnsupportedField)
		}
		switch op.Kind {
		case transport.OpSet:
			set[op.Field] = op.Value
		case transport.OpIncrement:
			prev, _ := inc[op.Field].(int)
			inc[op.Field] = prev + op.Delta
		case transport.OpSetAdd:
			add[op.Field] = op.Member
		case transport.OpSetRemove:
			pull[op.Field] = op.Member
		default:
			return nil, fmt.Errorf("op %s: %w", op.Kind, transport.ErrUnsupportedField)
		}
	}
	update := bson.M{}
	for name, part := range map[string]bson.M{"$set": set, "$inc": inc, "$addToSet": add, "$pull": pull} {
		if len(part) > 0 {
			update[name] = part
		}
	}
	return update, nil
}

func knownField(field string) bool {
	switch field {
	case models.FieldContent, models.FieldUpdatedAt, models.FieldIsDeleted, models.FieldIsReported,
		models.FieldReportCount, models.FieldLikes, models.FieldDislikes,
		models.FieldLikedBy, models.FieldDislikedBy:
		return true
	}
	return false
}

func (s *Store) SubscribeComments(ctx context.Context, q transport.Query, onChange transport.ChangeFunc) (transport.CancelFunc, error) {
	if s.closed.Load() {
		return nil, transport.ErrClosed
	}
	return s.hub.Subscribe(ctx, q.ThreadKey, onChange)
}

// InsertReport writes the report and the comment's report counters in one
// multi-document transaction. Transactions need a replica set, which the
// change stream requires anyway.
func (s *Store) InsertReport(ctx context.Context, report *models.Report, m transport.Mutation) (string, error) {
	if s.closed.Load() {
		return "", transport.ErrClosed
	}
	defer s.metrics.TrackQuery("insert_report")()

	doc := reportDoc{
		ID: primitive.NewObjectID().Hex(), CommentID: report.CommentID, ReporterID: report.ReporterID,
		Reason: report.Reason, CreatedAt: report.CreatedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	session, err := s.comments.Database().Client().StartSession()
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := s.reports.InsertOne(sc, doc); err != nil {
			return nil, err
		}
		if m.IsEmpty() {
			return nil, nil
		}
		return nil, s.apply(sc, doc.CommentID, m)
	})
	if err != nil {
		if !errors.Is(err, transport.ErrPreconditionFailed) && !errors.Is(err, transport.ErrNotFound) {
			s.log.LogError(ctx, err, "insert_report")
		}
		return "", fmt.Errorf("insert report: %w", err)
	}

	report.ID, report.CreatedAt = doc.ID, doc.CreatedAt
	s.log.LogCreate(ctx, map[string]interface{}{"report_id": doc.ID, "comment_id": doc.CommentID})
	if !m.IsEmpty() {
		s.announceComment(ctx, doc.CommentID)
	}
	return doc.ID, nil
}

// Hub exposes the change feed.
func (s *Store) Hub() *feed.Hub {
	return s.hub
}

// Close stops the change feed. The client belongs to the caller.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.hub.Close()
	return nil
}

func (s *Store) announce(threadKey string) {
	if s.watching.Load() {
		return
	}
	observability.ThreadChangeEvents.WithLabelValues("local").Inc()
	s.hub.Notify(threadKey)
}
