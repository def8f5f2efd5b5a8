package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"quizthread/internal/models"
	"quizthread/internal/observability"
	"quizthread/internal/transport"
)

const (
	DefaultFallbackTimeout = 5 * time.Second
	DefaultFetchTimeout    = 10 * time.Second
)

// ErrSyncStarted is returned by a second Start.
var ErrSyncStarted = errors.New("thread sync already started")

// ThreadSource is what a ThreadSync reads from. CommentService implements it.
type ThreadSource interface {
	FetchOnce(ctx context.Context, threadKey string) ([]models.Comment, error)
	Subscribe(ctx context.Context, threadKey string, onChange transport.ChangeFunc) (transport.CancelFunc, error)
}

// ViewSource says which path produced a View.
type ViewSource string

const (
	SourceLive     ViewSource = "live"
	SourceFallback ViewSource = "fallback"
	SourceRefresh  ViewSource = "refresh"
)

// View is one published rendering of a thread. When Err is set, Tree is the
// last good tree (possibly empty) and the error should be surfaced as a flag.
// Trees are shared between views and must be treated as read-only.
type View struct {
	Tree   []*models.CommentNode
	Source ViewSource
	Err    error
}

// SyncState is the coordinator's lifecycle state.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncSubscribing
	SyncLive
	SyncClosed
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncSubscribing:
		return "subscribing"
	case SyncLive:
		return "live"
	case SyncClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SyncOption configures a ThreadSync.
type SyncOption func(*ThreadSync)

// WithFallbackTimeout sets how long to wait for the first live snapshot.
func WithFallbackTimeout(d time.Duration) SyncOption {
	return func(s *ThreadSync) {
		if d > 0 {
			s.fallbackTimeout = d
		}
	}
}

// WithFetchTimeout bounds each fallback and refresh fetch.
func WithFetchTimeout(d time.Duration) SyncOption {
	return func(s *ThreadSync) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// ThreadSync keeps one thread view current. It subscribes to the thread,
// fetches once if no live snapshot arrives within the fallback timeout, and
// publishes a rebuilt tree for every result that is still newest.
//
// onView calls are serialized. Stop may be called from inside onView.
type ThreadSync struct {
	source          ThreadSource
	threadKey       string
	onView          func(View)
	fallbackTimeout time.Duration
	fetchTimeout    time.Duration
	log             *observability.FeedLogger

	// emitMu serializes publishing; it is taken before mu and never by Stop.
	emitMu sync.Mutex

	mu              sync.Mutex
	state           SyncState
	fallbackPending bool
	timer           *time.Timer
	cancel          transport.CancelFunc
	tree            []*models.CommentNode
	liveSeq         uint64
	closed          bool
}

// NewThreadSync creates an idle coordinator for threadKey.
func NewThreadSync(source ThreadSource, threadKey string, onView func(View), opts ...SyncOption) *ThreadSync {
	s := &ThreadSync{
		source:          source,
		threadKey:       threadKey,
		onView:          onView,
		fallbackTimeout: DefaultFallbackTimeout,
		fetchTimeout:    DefaultFetchTimeout,
		log:             observability.NewFeedLogger("thread_sync"),
		tree:            []*models.CommentNode{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the fallback timer and subscribes. A subscribe failure is
// published with the (empty) last tree and returned; the fallback fetch still
// runs until Stop.
func (s *ThreadSync) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	if s.state != SyncIdle {
		s.mu.Unlock()
		return ErrSyncStarted
	}
	s.state = SyncSubscribing
	s.fallbackPending = true
	s.timer = time.AfterFunc(s.fallbackTimeout, func() { s.fallback(ctx) })
	s.mu.Unlock()

	s.log.LogLifecycle(ctx, "start", map[string]interface{}{"thread_key": s.threadKey})

	// The lock is not held here: Subscribe may deliver the first snapshot synchronously.
	cancel, err := s.source.Subscribe(ctx, s.threadKey, s.onSnapshot)
	if err != nil {
		s.log.LogError(ctx, s.threadKey, err, "subscribe")
		s.emit(func() (View, bool) {
			return View{Tree: s.tree, Source: SourceLive, Err: err}, true
		})
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()
	return nil
}

func (s *ThreadSync) onSnapshot(comments []models.Comment, err error) {
	if err != nil {
		s.log.LogError(context.Background(), s.threadKey, err, "snapshot")
		s.emit(func() (View, bool) {
			return View{Tree: s.tree, Source: SourceLive, Err: err}, true
		})
		return
	}

	tree := BuildTree(comments)
	s.emit(func() (View, bool) {
		if s.fallbackPending {
			s.timer.Stop()
			s.fallbackPending = false
		}
		s.state = SyncLive
		s.liveSeq++
		s.tree = tree
		return View{Tree: tree, Source: SourceLive}, true
	})
}

func (s *ThreadSync) fallback(ctx context.Context) {
	s.mu.Lock()
	pending := s.fallbackPending && !s.closed && s.state != SyncLive
	s.mu.Unlock()
	if !pending {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	comments, err := s.source.FetchOnce(fetchCtx, s.threadKey)
	cancel()

	var tree []*models.CommentNode
	if err == nil {
		tree = BuildTree(comments)
	}
	s.emit(func() (View, bool) {
		if s.state == SyncLive {
			// A live snapshot won the race; it is at least as new.
			observability.FallbackFetches.WithLabelValues("superseded").Inc()
			return View{}, false
		}
		s.fallbackPending = false
		if err != nil {
			observability.FallbackFetches.WithLabelValues("error").Inc()
			return View{Tree: s.tree, Source: SourceFallback, Err: err}, true
		}
		observability.FallbackFetches.WithLabelValues("published").Inc()
		s.tree = tree
		return View{Tree: tree, Source: SourceFallback}, true
	})
}

// Refresh re-reads the thread through a one-shot fetch; the subscription is
// left alone. The result is dropped if a live snapshot was published while
// the fetch was in flight.
func (s *ThreadSync) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	seq := s.liveSeq
	s.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	comments, err := s.source.FetchOnce(fetchCtx, s.threadKey)
	cancel()

	var tree []*models.CommentNode
	if err == nil {
		tree = BuildTree(comments)
	}
	s.emit(func() (View, bool) {
		if err != nil {
			return View{Tree: s.tree, Source: SourceRefresh, Err: err}, true
		}
		if s.liveSeq != seq {
			return View{}, false
		}
		s.tree = tree
		return View{Tree: tree, Source: SourceRefresh}, true
	})
	return err
}

// Stop releases the subscription once and cancels a pending fallback. No view
// is published after Stop returns, other than one already being delivered.
func (s *ThreadSync) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = SyncClosed
	if s.timer != nil {
		s.timer.Stop()
	}
	s.fallbackPending = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.log.LogLifecycle(context.Background(), "stop", map[string]interface{}{"thread_key": s.threadKey})
}

// State returns the lifecycle state.
func (s *ThreadSync) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FallbackPending reports whether the fallback timer is still armed.
func (s *ThreadSync) FallbackPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbackPending
}

// Tree returns the last published tree.
func (s *ThreadSync) Tree() []*models.CommentNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// emit runs update under mu and publishes its view unless the coordinator is
// closed or update declines.
func (s *ThreadSync) emit(update func() (View, bool)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	view, ok := update()
	s.mu.Unlock()
	if !ok {
		return
	}

	observability.TreeBuilds.WithLabelValues(string(view.Source)).Inc()
	defer func() {
		if r := recover(); r != nil {
			s.log.LogError(context.Background(), s.threadKey,
				fmt.Errorf("panic in view callback: %v\n%s", r, debug.Stack()), "publish")
		}
	}()
	s.onView(view)
}
