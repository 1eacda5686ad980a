// Package poller следит за заказом на стороне клиента, пока он не придёт в
// окончательное состояние.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/model"
	"github.com/mmeshcher/esim-orders/internal/presentation"
)

// Значения по умолчанию для Options.
const (
	DefaultInitialDelay = time.Second
	DefaultInterval     = 3 * time.Second
	DefaultSignalEvery  = 5
)

// ErrTooManyFailures возвращается, если опрос подряд завершился ошибкой
// MaxConsecutiveFailures раз.
var ErrTooManyFailures = errors.New("too many consecutive fetch failures")

// Fetcher получает актуальное представление заказа.
type Fetcher interface {
	GetOrder(ctx context.Context, orderUUID string) (*presentation.OrderView, error)
}

// Options настраивает Watcher.
type Options struct {
	InitialDelay time.Duration
	Interval     time.Duration
	SignalEvery  int
	// MaxConsecutiveFailures ограничивает число ошибок подряд, 0 означает без ограничений.
	MaxConsecutiveFailures int

	OnUpdate func(view presentation.OrderView)
	OnPoll   func(n int)
	OnError  func(err error)

	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.SignalEvery <= 0 {
		o.SignalEvery = DefaultSignalEvery
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type result struct {
	seq       uint64
	scheduled bool
	view      *presentation.OrderView
	err       error
}

// Watcher опрашивает один заказ. Создаётся функцией Watch и принадлежит вызывающему,
// который должен вызвать Stop, если больше не нуждается в обновлениях.
type Watcher struct {
	fetcher   Fetcher
	orderUUID string
	opts      Options

	ctx     context.Context
	cancel  context.CancelFunc
	refresh chan struct{}
	results chan result
	done    chan struct{}

	stopOnce sync.Once

	mu      sync.Mutex
	last    *presentation.OrderView
	err     error
	stopped bool
}

// Watch запускает опрос заказа orderUUID. Первый запрос выполняется через
// InitialDelay, следующие через Interval после завершения предыдущего.
func Watch(ctx context.Context, fetcher Fetcher, orderUUID string, opts Options) *Watcher {
	opts.setDefaults()

	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		fetcher:   fetcher,
		orderUUID: orderUUID,
		opts:      opts,
		ctx:       wctx,
		cancel:    cancel,
		refresh:   make(chan struct{}, 1),
		results:   make(chan result),
		done:      make(chan struct{}),
	}

	go w.run()
	return w
}

// Refresh запрашивает внеочередное обновление, не сдвигая расписание опроса.
func (w *Watcher) Refresh() {
	select {
	case w.refresh <- struct{}{}:
	default:
	}
}

// Stop останавливает опрос и ждёт завершения. Повторные вызовы безопасны.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		w.cancel()
	})
	<-w.done
}

// Done закрывается, когда опрос завершён.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Err возвращает причину завершения опроса. nil означает, что заказ пришёл в
// окончательное состояние или опрос остановлен через Stop.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Last возвращает последнее применённое представление заказа.
func (w *Watcher) Last() (presentation.OrderView, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return presentation.OrderView{}, false
	}
	return *w.last, true
}

func (w *Watcher) run() {
	defer close(w.done)
	defer w.cancel()

	timer := time.NewTimer(w.opts.InitialDelay)
	defer timer.Stop()

	var (
		seq        uint64
		appliedSeq uint64
		polls      int
		failures   int
	)

	start := func(scheduled bool) {
		seq++
		go w.fetch(seq, scheduled)
	}

	for {
		select {
		case <-w.ctx.Done():
			w.finish(w.ctx.Err())
			return

		case <-timer.C:
			start(true)

		case <-w.refresh:
			start(false)

		case r := <-w.results:
			if r.scheduled {
				timer.Reset(w.opts.Interval)
			}

			polls++
			if polls%w.opts.SignalEvery == 0 && w.opts.OnPoll != nil {
				w.opts.OnPoll(polls)
			}

			if r.err != nil {
				failures++
				w.opts.Logger.Debug("order fetch failed",
					zap.String("order", w.orderUUID), zap.Int("failures", failures), zap.Error(r.err))
				if w.opts.OnError != nil {
					w.opts.OnError(r.err)
				}
				if w.opts.MaxConsecutiveFailures > 0 && failures >= w.opts.MaxConsecutiveFailures {
					w.finish(ErrTooManyFailures)
					return
				}
				continue
			}
			failures = 0

			if !w.apply(r, &appliedSeq) {
				continue
			}

			if !model.ShouldKeepPolling(r.view.Status, r.view.Esim != nil) {
				w.finish(nil)
				return
			}
		}
	}
}

func (w *Watcher) fetch(seq uint64, scheduled bool) {
	view, err := w.fetcher.GetOrder(w.ctx, w.orderUUID)
	if err == nil && view == nil {
		err = errors.New("empty order view")
	}

	select {
	case w.results <- result{seq: seq, scheduled: scheduled, view: view, err: err}:
	case <-w.ctx.Done():
	}
}

// apply сохраняет ответ, если он не старее уже применённого. Возвращает false для
// отброшенного ответа.
func (w *Watcher) apply(r result, appliedSeq *uint64) bool {
	w.mu.Lock()
	prev := w.last
	if r.seq < *appliedSeq || (prev != nil && r.view.UpdatedAt.Before(prev.UpdatedAt)) {
		w.mu.Unlock()
		w.opts.Logger.Debug("stale order response discarded",
			zap.String("order", w.orderUUID), zap.Uint64("seq", r.seq))
		return false
	}
	*appliedSeq = r.seq
	w.last = r.view
	w.mu.Unlock()

	if changed(prev, r.view) && w.opts.OnUpdate != nil {
		w.opts.OnUpdate(*r.view)
	}
	return true
}

func changed(prev, next *presentation.OrderView) bool {
	if prev == nil {
		return true
	}
	if prev.Status != next.Status || (prev.Esim == nil) != (next.Esim == nil) {
		return true
	}
	return !prev.UpdatedAt.Equal(next.UpdatedAt)
}

func (w *Watcher) finish(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.err = err
}
