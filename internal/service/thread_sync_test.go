package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quizthread/internal/models"
	"quizthread/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a ThreadSource whose snapshots are pushed by the test.
type fakeSource struct {
	mu           sync.Mutex
	onChange     transport.ChangeFunc
	subscribes   int
	cancels      int
	fetches      int
	subscribeErr error
	fetchFn      func(ctx context.Context) ([]models.Comment, error)
}

func (f *fakeSource) FetchOnce(ctx context.Context, _ string) ([]models.Comment, error) {
	f.mu.Lock()
	f.fetches++
	fn := f.fetchFn
	f.mu.Unlock()
	if fn == nil {
		return []models.Comment{}, nil
	}
	return fn(ctx)
}

func (f *fakeSource) Subscribe(_ context.Context, _ string, onChange transport.ChangeFunc) (transport.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.onChange = onChange
	return func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
	}, nil
}

func (f *fakeSource) push(comments []models.Comment, err error) {
	f.mu.Lock()
	fn := f.onChange
	f.mu.Unlock()
	if fn != nil {
		fn(comments, err)
	}
}

func (f *fakeSource) counts() (subscribes, cancels, fetches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.cancels, f.fetches
}

// viewRecorder collects published views.
type viewRecorder struct {
	mu    sync.Mutex
	views []View
}

func (r *viewRecorder) record(v View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *viewRecorder) snapshot() []View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]View(nil), r.views...)
}

func (r *viewRecorder) sources() []ViewSource {
	var out []ViewSource
	for _, v := range r.snapshot() {
		out = append(out, v.Source)
	}
	return out
}

func (r *viewRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func newSync(t *testing.T, src *fakeSource, opts ...SyncOption) (*ThreadSync, *viewRecorder) {
	t.Helper()
	rec := &viewRecorder{}
	s := NewThreadSync(src, "T1", rec.record, opts...)
	t.Cleanup(s.Stop)
	return s, rec
}

func TestThreadSync_LiveSnapshotCancelsFallback(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	s, rec := newSync(t, src, WithFallbackTimeout(50*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, SyncSubscribing, s.State())
	assert.True(t, s.FallbackPending())

	src.push([]models.Comment{mk("r1", "", 0), mk("a", "r1", 1)}, nil)
	require.Equal(t, []ViewSource{SourceLive}, rec.sources())
	assert.Equal(t, SyncLive, s.State())
	assert.False(t, s.FallbackPending())
	assert.Equal(t, 2, CountNodes(rec.snapshot()[0].Tree))

	time.Sleep(120 * time.Millisecond)
	_, _, fetches := src.counts()
	assert.Zero(t, fetches)
	assert.Equal(t, 1, rec.len())
}

func TestThreadSync_FallbackFiresOnTimeout(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fetchFn: func(context.Context) ([]models.Comment, error) {
		return []models.Comment{mk("r1", "", 0)}, nil
	}}
	s, rec := newSync(t, src, WithFallbackTimeout(20*time.Millisecond))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	view := rec.snapshot()[0]
	assert.Equal(t, SourceFallback, view.Source)
	assert.NoError(t, view.Err)
	assert.Equal(t, []string{"r1"}, ids(view.Tree))
	assert.False(t, s.FallbackPending())
	assert.Equal(t, SyncSubscribing, s.State())

	// The subscription stays in place and its first snapshot still lands.
	src.push([]models.Comment{mk("r1", "", 0), mk("r2", "", 1)}, nil)
	assert.Equal(t, []ViewSource{SourceFallback, SourceLive}, rec.sources())
	assert.Equal(t, SyncLive, s.State())
	subscribes, _, fetches := src.counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 1, fetches)
}

func TestThreadSync_LateFallbackIsDropped(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	src := &fakeSource{fetchFn: func(context.Context) ([]models.Comment, error) {
		<-release
		return []models.Comment{mk("stale", "", 0)}, nil
	}}
	s, rec := newSync(t, src, WithFallbackTimeout(10*time.Millisecond))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, _, fetches := src.counts()
		return fetches == 1
	}, time.Second, 5*time.Millisecond)

	src.push([]models.Comment{mk("fresh", "", 1)}, nil)
	close(release)

	assert.Never(t, func() bool { return rec.len() > 1 }, 100*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, []ViewSource{SourceLive}, rec.sources())
	assert.Equal(t, []string{"fresh"}, ids(s.Tree()))
}

func TestThreadSync_FallbackErrorKeepsLastTree(t *testing.T) {
	t.Parallel()
	fetchErr := errors.New("offline")
	src := &fakeSource{fetchFn: func(context.Context) ([]models.Comment, error) { return nil, fetchErr }}
	s, rec := newSync(t, src, WithFallbackTimeout(10*time.Millisecond))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	view := rec.snapshot()[0]
	assert.Equal(t, SourceFallback, view.Source)
	assert.ErrorIs(t, view.Err, fetchErr)
	assert.NotNil(t, view.Tree)
	assert.Empty(t, view.Tree)
}

func TestThreadSync_Refresh(t *testing.T) {
	t.Parallel()
	src := &fakeSource{fetchFn: func(context.Context) ([]models.Comment, error) {
		return []models.Comment{mk("r1", "", 0), mk("r2", "", 1)}, nil
	}}
	s, rec := newSync(t, src)
	require.NoError(t, s.Start(context.Background()))
	src.push([]models.Comment{mk("r1", "", 0)}, nil)

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, []ViewSource{SourceLive, SourceRefresh}, rec.sources())
	assert.Equal(t, []string{"r2", "r1"}, ids(s.Tree()))

	subscribes, cancels, _ := src.counts()
	assert.Equal(t, 1, subscribes)
	assert.Zero(t, cancels)
}

func TestThreadSync_RefreshDroppedAfterNewerLiveSnapshot(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	release := make(chan struct{})
	src := &fakeSource{}
	s, rec := newSync(t, src)
	require.NoError(t, s.Start(context.Background()))
	src.push([]models.Comment{mk("r1", "", 0)}, nil)

	src.mu.Lock()
	src.fetchFn = func(context.Context) ([]models.Comment, error) {
		close(started)
		<-release
		return []models.Comment{mk("r1", "", 0)}, nil
	}
	src.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()
	<-started
	src.push([]models.Comment{mk("r1", "", 0), mk("r2", "", 1)}, nil)
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, []ViewSource{SourceLive, SourceLive}, rec.sources())
	assert.Equal(t, []string{"r2", "r1"}, ids(s.Tree()))
}

func TestThreadSync_RefreshError(t *testing.T) {
	t.Parallel()
	fetchErr := errors.New("timeout")
	src := &fakeSource{}
	s, rec := newSync(t, src)
	require.NoError(t, s.Start(context.Background()))
	src.push([]models.Comment{mk("r1", "", 0)}, nil)

	src.mu.Lock()
	src.fetchFn = func(context.Context) ([]models.Comment, error) { return nil, fetchErr }
	src.mu.Unlock()

	err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, fetchErr)
	views := rec.snapshot()
	require.Len(t, views, 2)
	assert.Equal(t, SourceRefresh, views[1].Source)
	assert.ErrorIs(t, views[1].Err, fetchErr)
	assert.Equal(t, []string{"r1"}, ids(views[1].Tree))
}

func TestThreadSync_SnapshotErrorKeepsLastTree(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	s, rec := newSync(t, src)
	require.NoError(t, s.Start(context.Background()))

	src.push([]models.Comment{mk("r1", "", 0)}, nil)
	loadErr := errors.New("load failed")
	src.push(nil, loadErr)

	views := rec.snapshot()
	require.Len(t, views, 2)
	assert.ErrorIs(t, views[1].Err, loadErr)
	assert.Equal(t, []string{"r1"}, ids(views[1].Tree))
	assert.Equal(t, SyncLive, s.State())
}

func TestThreadSync_SubscribeError(t *testing.T) {
	t.Parallel()
	subErr := errors.New("permission denied")
	src := &fakeSource{subscribeErr: subErr}
	s, rec := newSync(t, src, WithFallbackTimeout(time.Hour))

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, subErr)
	views := rec.snapshot()
	require.Len(t, views, 1)
	assert.ErrorIs(t, views[0].Err, subErr)
	assert.Empty(t, views[0].Tree)
}

func TestThreadSync_StartTwice(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	s, _ := newSync(t, src)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSyncStarted)
	subscribes, _, _ := src.counts()
	assert.Equal(t, 1, subscribes)
}

func TestThreadSync_Stop(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	s, rec := newSync(t, src, WithFallbackTimeout(20*time.Millisecond))
	require.NoError(t, s.Start(context.Background()))

	s.Stop()
	s.Stop()
	assert.Equal(t, SyncClosed, s.State())
	assert.False(t, s.FallbackPending())
	_, cancels, _ := src.counts()
	assert.Equal(t, 1, cancels)

	src.push([]models.Comment{mk("r1", "", 0)}, nil)
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, rec.len())
	_, _, fetches := src.counts()
	assert.Zero(t, fetches)

	assert.ErrorIs(t, s.Start(context.Background()), transport.ErrClosed)
	assert.ErrorIs(t, s.Refresh(context.Background()), transport.ErrClosed)
}

func TestThreadSync_StopFromViewCallback(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	var s *ThreadSync
	var calls int
	s = NewThreadSync(src, "T1", func(View) {
		calls++
		s.Stop()
	})
	require.NoError(t, s.Start(context.Background()))

	src.push([]models.Comment{mk("r1", "", 0)}, nil)
	src.push([]models.Comment{mk("r2", "", 1)}, nil)
	assert.Equal(t, 1, calls)
	_, cancels, _ := src.counts()
	assert.Equal(t, 1, cancels)
}

func TestThreadSync_PanickingViewCallback(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	var calls int
	s := NewThreadSync(src, "T1", func(View) {
		calls++
		panic("boom")
	})
	t.Cleanup(s.Stop)
	require.NoError(t, s.Start(context.Background()))

	src.push([]models.Comment{mk("r1", "", 0)}, nil)
	src.push([]models.Comment{mk("r2", "", 1)}, nil)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"r2"}, ids(s.Tree()))
}

func TestSyncState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "idle", SyncIdle.String())
	assert.Equal(t, "live", SyncLive.String())
	assert.Equal(t, "state(9)", SyncState(9).String())
}
