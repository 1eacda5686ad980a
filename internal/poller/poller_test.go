package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/esim-orders/internal/model"
	"github.com/mmeshcher/esim-orders/internal/presentation"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type step struct {
	view *presentation.OrderView
	err  error
}

type scriptedFetcher struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (f *scriptedFetcher) GetOrder(ctx context.Context, orderUUID string) (*presentation.OrderView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	s := f.steps[i]
	return s.view, s.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func view(status model.OrderStatus, withEsim bool, minute int) step {
	v := &presentation.OrderView{
		UUID:      "order-1",
		Status:    status,
		UpdatedAt: base.Add(time.Duration(minute) * time.Minute),
	}
	if withEsim {
		v.Esim = &presentation.EsimView{ICCID: "8931234567890123456"}
	}
	return step{view: v}
}

func fastOptions() Options {
	return Options{
		InitialDelay: time.Millisecond,
		Interval:     2 * time.Millisecond,
	}
}

func waitDone(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not finish")
	}
}

func TestWatcher_StopsOnCompletedWithEsim(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		view(model.OrderStatusProcessing, false, 0),
		view(model.OrderStatusProviderPurchased, false, 1),
		view(model.OrderStatusCompleted, false, 2),
		view(model.OrderStatusCompleted, true, 3),
	}}

	var statuses []model.OrderStatus
	opts := fastOptions()
	opts.OnUpdate = func(v presentation.OrderView) { statuses = append(statuses, v.Status) }

	w := Watch(context.Background(), f, "order-1", opts)
	waitDone(t, w)

	require.NoError(t, w.Err())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, f.Calls(), "no fetch after the order settled")
	assert.Equal(t, []model.OrderStatus{
		model.OrderStatusProcessing,
		model.OrderStatusProviderPurchased,
		model.OrderStatusCompleted,
		model.OrderStatusCompleted,
	}, statuses)

	last, ok := w.Last()
	require.True(t, ok)
	assert.NotNil(t, last.Esim)
}

func TestWatcher_StopsOnFailed(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		view(model.OrderStatusPendingRetry, false, 0),
		view(model.OrderStatusFailed, false, 1),
	}}

	w := Watch(context.Background(), f, "order-1", fastOptions())
	waitDone(t, w)

	require.NoError(t, w.Err())
	last, _ := w.Last()
	assert.Equal(t, model.OrderStatusFailed, last.Status)
}

func TestWatcher_CompletedWithoutEsimKeepsPolling(t *testing.T) {
	f := &scriptedFetcher{steps: []step{view(model.OrderStatusCompleted, false, 0)}}

	w := Watch(context.Background(), f, "order-1", fastOptions())

	require.Eventually(t, func() bool { return f.Calls() >= 5 }, 2*time.Second, time.Millisecond)
	select {
	case <-w.Done():
		t.Fatalf("watcher stopped while esim is missing")
	default:
	}

	w.Stop()
	assert.NoError(t, w.Err())
}

func TestWatcher_SignalsEveryFifthPoll(t *testing.T) {
	steps := make([]step, 0, 13)
	for i := 0; i < 12; i++ {
		steps = append(steps, view(model.OrderStatusProcessing, false, 0))
	}
	steps = append(steps, view(model.OrderStatusCompleted, true, 1))
	f := &scriptedFetcher{steps: steps}

	var signals []int
	updates := 0
	opts := fastOptions()
	opts.OnPoll = func(n int) { signals = append(signals, n) }
	opts.OnUpdate = func(presentation.OrderView) { updates++ }

	w := Watch(context.Background(), f, "order-1", opts)
	waitDone(t, w)

	assert.Equal(t, []int{5, 10}, signals)
	assert.Equal(t, 2, updates, "unchanged snapshots must not be reported")
}

func TestWatcher_TooManyFailures(t *testing.T) {
	f := &scriptedFetcher{steps: []step{{err: errors.New("connection refused")}}}

	errs := 0
	opts := fastOptions()
	opts.MaxConsecutiveFailures = 3
	opts.OnError = func(error) { errs++ }

	w := Watch(context.Background(), f, "order-1", opts)
	waitDone(t, w)

	assert.ErrorIs(t, w.Err(), ErrTooManyFailures)
	assert.Equal(t, 3, errs)
	_, ok := w.Last()
	assert.False(t, ok)
}

func TestWatcher_RecoversAfterError(t *testing.T) {
	f := &scriptedFetcher{steps: []step{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		view(model.OrderStatusCompleted, true, 0),
	}}

	opts := fastOptions()
	opts.MaxConsecutiveFailures = 3

	w := Watch(context.Background(), f, "order-1", opts)
	waitDone(t, w)

	assert.NoError(t, w.Err())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	f := &scriptedFetcher{steps: []step{view(model.OrderStatusProcessing, false, 0)}}
	w := Watch(context.Background(), f, "order-1", fastOptions())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Stop()
		}()
	}
	wg.Wait()
	w.Stop()

	waitDone(t, w)
	assert.NoError(t, w.Err())

	calls := f.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, f.Calls(), "no fetches after stop")
}

func TestWatcher_ParentContextCancelled(t *testing.T) {
	f := &scriptedFetcher{steps: []step{view(model.OrderStatusProcessing, false, 0)}}
	ctx, cancel := context.WithCancel(context.Background())

	w := Watch(ctx, f, "order-1", fastOptions())
	cancel()
	waitDone(t, w)

	assert.ErrorIs(t, w.Err(), context.Canceled)
}

type funcFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int) (*presentation.OrderView, error)
}

func (f *funcFetcher) GetOrder(ctx context.Context, orderUUID string) (*presentation.OrderView, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(ctx, n)
}

func TestWatcher_NoFetchAfterSettled(t *testing.T) {
	f := &scriptedFetcher{steps: []step{view(model.OrderStatusCompleted, true, 0)}}

	w := Watch(context.Background(), f, "order-1", fastOptions())
	waitDone(t, w)
	require.Equal(t, 1, f.Calls())

	w.Refresh()
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, 1, f.Calls(), "settled order must not be fetched again")
}

func TestWatcher_RefreshWinsOverSlowScheduledFetch(t *testing.T) {
	firstStarted := make(chan struct{})
	release := make(chan struct{})

	f := &funcFetcher{fn: func(ctx context.Context, call int) (*presentation.OrderView, error) {
		switch call {
		case 1:
			close(firstStarted)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return view(model.OrderStatusProcessing, false, 0).view, nil
		case 2:
			return view(model.OrderStatusProviderPurchased, false, 2).view, nil
		default:
			return view(model.OrderStatusCompleted, true, 3).view, nil
		}
	}}

	var (
		mu       sync.Mutex
		statuses []model.OrderStatus
	)
	opts := fastOptions()
	opts.OnUpdate = func(v presentation.OrderView) {
		mu.Lock()
		statuses = append(statuses, v.Status)
		mu.Unlock()
	}

	w := Watch(context.Background(), f, "order-1", opts)
	<-firstStarted
	w.Refresh()

	require.Eventually(t, func() bool {
		last, ok := w.Last()
		return ok && last.Status == model.OrderStatusProviderPurchased
	}, 2*time.Second, time.Millisecond)

	close(release)
	waitDone(t, w)

	require.NoError(t, w.Err())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.OrderStatus{
		model.OrderStatusProviderPurchased,
		model.OrderStatusCompleted,
	}, statuses, "late scheduled response must be discarded")
}

func TestWatcher_DiscardsStaleResponses(t *testing.T) {
	w := &Watcher{opts: Options{}}
	w.opts.setDefaults()

	var applied uint64
	newer := view(model.OrderStatusProviderPurchased, false, 2).view
	older := view(model.OrderStatusProcessing, false, 1).view

	assert.True(t, w.apply(result{seq: 2, view: newer}, &applied))
	assert.False(t, w.apply(result{seq: 1, view: older}, &applied), "older sequence")
	assert.False(t, w.apply(result{seq: 3, view: older}, &applied), "older updated_at")

	last, _ := w.Last()
	assert.Equal(t, model.OrderStatusProviderPurchased, last.Status)
	assert.Equal(t, uint64(2), applied)
}

func TestWatcher_Defaults(t *testing.T) {
	var o Options
	o.setDefaults()

	assert.Equal(t, time.Second, o.InitialDelay)
	assert.Equal(t, 3*time.Second, o.Interval)
	assert.Equal(t, 5, o.SignalEvery)
}
