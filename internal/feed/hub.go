// Package feed fans thread change notifications out to snapshot subscribers.
package feed

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"quizthread/internal/models"
	"quizthread/internal/observability"
	"quizthread/internal/transport"
)

const defaultLoadTimeout = 10 * time.Second

// Loader reads the current snapshot of one thread.
type Loader func(ctx context.Context, threadKey string) ([]models.Comment, error)

// Hub maps threadKey -> subscriptions and re-delivers full snapshots on change.
//
// Each subscription owns one goroutine and a one-slot signal, so bursts of
// changes coalesce into a single reload for slow consumers.
type Hub struct {
	name        string
	load        Loader
	loadTimeout time.Duration
	log         *observability.FeedLogger

	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	active int
	closed bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithLoadTimeout bounds each snapshot reload.
func WithLoadTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.loadTimeout = d
		}
	}
}

// NewHub creates a Hub that reloads snapshots through load.
func NewHub(name string, load Loader, opts ...Option) *Hub {
	h := &Hub{
		name:        name,
		load:        load,
		loadTimeout: defaultLoadTimeout,
		log:         observability.NewFeedLogger(name),
		subs:        make(map[string]map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type subscription struct {
	threadKey string
	onChange  transport.ChangeFunc
	signal    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool

	// deliverMu is held from the cancelled check through onChange, so a
	// release that takes it knows no callback can start afterwards.
	deliverMu  sync.Mutex
	inCallback atomic.Bool
}

func (s *subscription) poke() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Subscribe registers onChange for threadKey. The first callback carries the
// current snapshot; every Notify for the thread triggers another.
func (h *Hub) Subscribe(ctx context.Context, threadKey string, onChange transport.ChangeFunc) (transport.CancelFunc, error) {
	if onChange == nil {
		return nil, fmt.Errorf("feed %s: nil change callback", h.name)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		threadKey: threadKey,
		onChange:  onChange,
		signal:    make(chan struct{}, 1),
		ctx:       subCtx,
		cancel:    cancel,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, transport.ErrClosed
	}
	set, ok := h.subs[threadKey]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[threadKey] = set
	}
	set[sub] = struct{}{}
	h.active++
	active := h.active
	h.mu.Unlock()

	observability.ActiveSubscriptions.Inc()
	h.log.LogSubscribe(ctx, threadKey, active)

	sub.poke()
	go h.run(sub)

	var once sync.Once
	return func() {
		once.Do(func() { h.release(sub) })
	}, nil
}

// Notify schedules a reload for every subscriber of threadKey and returns how many were signalled.
func (h *Hub) Notify(threadKey string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[threadKey]
	for sub := range set {
		sub.poke()
	}
	return len(set)
}

// Active returns the number of live subscriptions.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Close cancels every subscription; later Subscribe calls fail with transport.ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		h.release(sub)
	}
	h.log.LogLifecycle(context.Background(), "closed", map[string]interface{}{"released": len(all)})
}

func (h *Hub) release(sub *subscription) {
	if sub.cancelled.Swap(true) {
		return
	}
	sub.cancel()
	// Inside the callback the lock is already held by this delivery; it may
	// finish, and the next iteration sees cancelled.
	if !sub.inCallback.Load() {
		sub.deliverMu.Lock()
		sub.deliverMu.Unlock()
	}

	h.mu.Lock()
	if set, ok := h.subs[sub.threadKey]; ok {
		if _, exists := set[sub]; exists {
			delete(set, sub)
			h.active--
		}
		if len(set) == 0 {
			delete(h.subs, sub.threadKey)
		}
	}
	active := h.active
	h.mu.Unlock()

	observability.ActiveSubscriptions.Dec()
	h.log.LogUnsubscribe(sub.ctx, sub.threadKey, active)
}

func (h *Hub) run(sub *subscription) {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.signal:
		}
		if sub.cancelled.Load() {
			return
		}

		loadCtx, cancel := context.WithTimeout(sub.ctx, h.loadTimeout)
		comments, err := h.load(loadCtx, sub.threadKey)
		cancel()

		if err != nil {
			h.log.LogError(sub.ctx, sub.threadKey, err, "reload")
			comments = nil
		}
		if !h.deliver(sub, comments, err) {
			return
		}
	}
}

// deliver invokes onChange unless the subscription was released first and
// reports whether it did.
func (h *Hub) deliver(sub *subscription, comments []models.Comment, err error) (delivered bool) {
	sub.deliverMu.Lock()
	defer sub.deliverMu.Unlock()
	if sub.cancelled.Load() {
		return false
	}
	delivered = true
	sub.inCallback.Store(true)
	defer sub.inCallback.Store(false)
	defer func() {
		if r := recover(); r != nil {
			h.log.LogError(sub.ctx, sub.threadKey, fmt.Errorf("panic in change callback: %v\n%s", r, debug.Stack()), "deliver")
		}
	}()
	sub.onChange(comments, err)
	return delivered
}
