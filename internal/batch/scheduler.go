package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CZERTAINLY/Exporter/internal/model"
)

var (
	ErrBusy       = errors.New("batch in progress")
	ErrEmptyBatch = errors.New("batch has no jobs")
	ErrSchedule   = errors.New("could not schedule polling")
)

// ScheduleErrorMessage is shown when the host refuses the poll timer.
const ScheduleErrorMessage = "Error: Could not schedule progress polling"

// DefaultInterval is the poll period used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// Handle is a spawned process as seen by the scheduler.
type Handle interface {
	IsRunning() bool
}

type Spawner interface {
	Spawn(ctx context.Context, job model.Job) (Handle, error)
}

// SpawnFunc adapts a function to the Spawner interface.
type SpawnFunc func(ctx context.Context, job model.Job) (Handle, error)

func (f SpawnFunc) Spawn(ctx context.Context, job model.Job) (Handle, error) {
	return f(ctx, job)
}

type Timer interface {
	Cancel()
}

// Host provides the repeating timer and the keepalive flag. Callbacks
// scheduled by ScheduleRepeating may run on any goroutine.
type Host interface {
	ScheduleRepeating(interval time.Duration, fn func()) (Timer, error)
	SetKeepalive(keep bool)
}

// Reporter shows a short-lived status message. Implementations must not block.
type Reporter interface {
	Display(message string, timeout time.Duration)
}

// Batch is a set of jobs submitted together. ScratchDir, when set, is removed
// recursively once every job is done.
type Batch struct {
	Jobs       []model.Job
	ScratchDir string
}

// Progress is a snapshot of the current, or the last finished, batch.
type Progress struct {
	Active  bool
	Running int
	Done    int
	Total   int
	Percent int
	Tick    int
}

type state struct {
	ctx        context.Context
	active     []Handle
	done       int
	total      int
	scratchDir string
	tick       int
}

type Scheduler struct {
	host      Host
	spawner   Spawner
	reporter  Reporter
	interval  time.Duration
	removeAll func(string) error

	ticking atomic.Bool // non-reentrant guard for host callbacks
	mx      sync.Mutex
	timer   Timer
	state   *state
	last    Progress
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRemoveAll replaces os.RemoveAll used for the scratch directory cleanup.
func WithRemoveAll(fn func(string) error) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.removeAll = fn
		}
	}
}

func NewScheduler(host Host, spawner Spawner, reporter Reporter, opts ...Option) *Scheduler {
	s := &Scheduler{
		host:      host,
		spawner:   spawner,
		reporter:  reporter,
		interval:  DefaultInterval,
		removeAll: os.RemoveAll,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Busy reports whether a batch is running.
func (s *Scheduler) Busy() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.timer != nil
}

// Progress returns a snapshot of the active batch or of the last one.
func (s *Scheduler) Progress() Progress {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.last
}

// Start spawns one process per job and begins polling. It returns ErrBusy
// when a batch is already running and ErrEmptyBatch for no jobs; in both
// cases nothing changes and nothing is displayed. Processes that fail to
// launch are logged and counted as done on the first tick. When the host
// can't arm the poll timer, Start returns ErrSchedule and the scheduler is
// idle again; the spawned processes are left running and the scratch
// directory stays with the caller.
func (s *Scheduler) Start(ctx context.Context, b Batch) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.timer != nil {
		slog.DebugContext(ctx, "batch already running: ignoring start", "jobs", len(b.Jobs))
		return ErrBusy
	}
	if len(b.Jobs) == 0 {
		slog.DebugContext(ctx, "no jobs: ignoring start")
		return ErrEmptyBatch
	}

	st := &state{
		ctx:        ctx,
		active:     make([]Handle, 0, len(b.Jobs)),
		total:      len(b.Jobs),
		scratchDir: b.ScratchDir,
	}
	for _, job := range b.Jobs {
		h, err := s.spawner.Spawn(ctx, job)
		if err != nil {
			slog.ErrorContext(ctx, "spawning processor failed: counting job as done", "source", job.SourcePath, "error", err)
			h = exited{}
		}
		st.active = append(st.active, h)
	}
	s.state = st
	slog.InfoContext(ctx, "batch started", "jobs", st.total, "scratch_dir", st.scratchDir)

	return s.tickLocked()
}

// onTick is the timer callback. A tick arriving while another one is in
// progress, including one re-entered from the same goroutine, is dropped.
func (s *Scheduler) onTick() {
	if s.ticking.Load() {
		return
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	// the timer is armed already, so a tick can't fail
	_ = s.tickLocked()
}

func (s *Scheduler) tickLocked() error {
	if !s.ticking.CompareAndSwap(false, true) {
		return nil
	}
	defer s.ticking.Store(false)

	st := s.state
	if st == nil {
		// a tick delivered after the drain
		return nil
	}

	if s.timer == nil {
		timer, err := s.host.ScheduleRepeating(s.interval, s.onTick)
		if err != nil {
			slog.ErrorContext(st.ctx, "scheduling poll timer failed: abandoning batch", "jobs", st.total, "error", err)
			s.state = nil
			s.last = Progress{Total: st.total}
			s.display(ScheduleErrorMessage, ProgressTimeout)
			return fmt.Errorf("%w: %w", ErrSchedule, err)
		}
		s.timer = timer
		s.host.SetKeepalive(true)
	}

	running := st.active[:0]
	for _, h := range st.active {
		if h.IsRunning() {
			running = append(running, h)
			continue
		}
		st.done++
	}
	clear(st.active[len(running):])
	st.active = running

	s.last = Progress{
		Active:  true,
		Running: len(st.active),
		Done:    st.done,
		Total:   st.total,
		Percent: Percent(st.done, st.total),
		Tick:    st.tick,
	}

	if st.done >= st.total {
		s.drainLocked(st)
		return nil
	}

	s.display(ProgressMessage(st.done, st.total, st.tick), ProgressTimeout)
	st.tick++
	return nil
}

func (s *Scheduler) drainLocked(st *state) {
	if st.scratchDir != "" {
		if err := s.removeAll(st.scratchDir); err != nil {
			slog.DebugContext(st.ctx, "removing scratch dir failed: ignoring", "scratch_dir", st.scratchDir, "error", err)
		}
		st.scratchDir = ""
	}

	s.display(DoneMessage, DoneTimeout)
	s.host.SetKeepalive(false)
	s.timer.Cancel()
	s.timer = nil
	s.state = nil
	s.last.Active = false
	slog.InfoContext(st.ctx, "batch finished", "jobs", st.total, "ticks", st.tick+1)
}

func (s *Scheduler) display(msg string, timeout time.Duration) {
	if s.reporter == nil {
		return
	}
	s.reporter.Display(msg, timeout)
}

// exited stands in for a process that never started.
type exited struct{}

func (exited) IsRunning() bool { return false }
