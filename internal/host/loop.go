// Package host provides a single-threaded cooperative event loop driving the
// batch scheduler.
//
// Repeating timers are gocron duration jobs. gocron runs tasks on its own
// goroutines, so a task only posts the callback to the loop; the callbacks
// themselves and the entry function passed to Run are executed one at a time
// on the goroutine calling Run. A tick that finds the loop busy is dropped.
//
// The loop runs for as long as the keepalive flag is set. With the flag
// cleared, Run returns after the current callback.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CZERTAINLY/Exporter/internal/batch"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

type Loop struct {
	scheduler gocron.Scheduler
	calls     chan func()
	wake      chan struct{}
	quit      chan struct{}
	keepalive atomic.Bool
	ran       atomic.Bool
}

func NewLoop() (*Loop, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	return &Loop{
		scheduler: s,
		calls:     make(chan func(), 1),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}, nil
}

var _ batch.Host = (*Loop)(nil)

// SetKeepalive implements batch.Host.
func (l *Loop) SetKeepalive(keep bool) {
	l.keepalive.Store(keep)
	if !keep {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

// Keepalive reports the current flag value.
func (l *Loop) Keepalive() bool {
	return l.keepalive.Load()
}

// ScheduleRepeating implements batch.Host. fn is first called one interval
// after scheduling and then every interval until the timer is cancelled.
func (l *Loop) ScheduleRepeating(interval time.Duration, fn func()) (batch.Timer, error) {
	t := &timer{loop: l}
	job, err := l.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { l.post(t, fn) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduling repeating timer every %s: %w", interval, err)
	}
	t.id = job.ID()
	return t, nil
}

func (l *Loop) post(t *timer, fn func()) {
	if t.cancelled.Load() {
		return
	}
	call := func() {
		// a tick queued right before Cancel
		if t.cancelled.Load() {
			return
		}
		fn()
	}
	select {
	case <-l.quit:
	case l.calls <- call:
	default:
		slog.Debug("loop busy: dropping tick")
	}
}

// Run starts the timers, executes entry on the calling goroutine and then
// serves timer callbacks while the keepalive flag is set. It returns nil
// when the flag is cleared or ctx.Err() when ctx is done first. A Loop can be
// run once.
func (l *Loop) Run(ctx context.Context, entry func()) error {
	if !l.ran.CompareAndSwap(false, true) {
		return fmt.Errorf("loop already run")
	}

	l.scheduler.Start()
	defer func() {
		close(l.quit)
		err := l.scheduler.Shutdown()
		if err != nil {
			slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		}
	}()

	if entry != nil {
		entry()
	}

	for l.keepalive.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.calls:
			fn()
		case <-l.wake:
		}
	}
	return nil
}

type timer struct {
	loop      *Loop
	id        uuid.UUID
	cancelled atomic.Bool
	once      sync.Once
}

// Cancel stops the timer. No callback starts after Cancel returns.
func (t *timer) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		if t.id == uuid.Nil {
			return
		}
		if err := t.loop.scheduler.RemoveJob(t.id); err != nil {
			slog.Debug("removing timer job has failed", "id", t.id.String(), "error", err)
		}
	})
}
