package host_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CZERTAINLY/Exporter/internal/batch"
	"github.com/CZERTAINLY/Exporter/internal/host"
	"github.com/CZERTAINLY/Exporter/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoop_NoKeepalive(t *testing.T) {
	t.Parallel()
	loop, err := host.NewLoop()
	require.NoError(t, err)

	calls := 0
	err = loop.Run(t.Context(), func() { calls++ })
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	err = loop.Run(t.Context(), nil)
	require.Error(t, err)
}

func TestLoop_Repeating(t *testing.T) {
	t.Parallel()
	loop, err := host.NewLoop()
	require.NoError(t, err)

	// ticks only touch plain variables: callbacks must be serialized
	ticks := 0
	cancelledTicks := 0
	var tm batch.Timer
	err = loop.Run(t.Context(), func() {
		loop.SetKeepalive(true)
		other, err := loop.ScheduleRepeating(5*time.Millisecond, func() { cancelledTicks++ })
		require.NoError(t, err)
		other.Cancel()
		tm, err = loop.ScheduleRepeating(10*time.Millisecond, func() {
			ticks++
			if ticks == 3 {
				loop.SetKeepalive(false)
				tm.Cancel()
				tm.Cancel()
			}
		})
		require.NoError(t, err)
	})
	require.NoError(t, err)
	require.Equal(t, 3, ticks)
	require.Zero(t, cancelledTicks)
	require.False(t, loop.Keepalive())
}

func TestLoop_ContextCancel(t *testing.T) {
	t.Parallel()
	loop, err := host.NewLoop()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	t.Cleanup(cancel)
	err = loop.Run(ctx, func() {
		loop.SetKeepalive(true)
		_, err := loop.ScheduleRepeating(10*time.Millisecond, func() {})
		require.NoError(t, err)
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoop_ScheduleError(t *testing.T) {
	t.Parallel()
	loop, err := host.NewLoop()
	require.NoError(t, err)

	h := &handle{}
	h.running.Store(true)
	spawner := batch.SpawnFunc(func(context.Context, model.Job) (batch.Handle, error) {
		return h, nil
	})
	r := &reporter{}
	s := batch.NewScheduler(zeroIntervalHost{loop}, spawner, r)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	t.Cleanup(cancel)
	var startErr error
	err = loop.Run(ctx, func() {
		startErr = s.Start(ctx, batch.Batch{Jobs: []model.Job{{}}})
	})
	// Run returns at once instead of waiting for ctx
	require.NoError(t, err)
	require.ErrorIs(t, startErr, batch.ErrSchedule)
	require.False(t, loop.Keepalive())
	require.False(t, s.Busy())
	require.Equal(t, []string{batch.ScheduleErrorMessage}, r.messages())
}

// zeroIntervalHost asks gocron for a zero interval, which it rejects.
type zeroIntervalHost struct {
	*host.Loop
}

func (h zeroIntervalHost) ScheduleRepeating(_ time.Duration, fn func()) (batch.Timer, error) {
	return h.Loop.ScheduleRepeating(0, fn)
}

func TestLoop_Scheduler(t *testing.T) {
	t.Parallel()
	loop, err := host.NewLoop()
	require.NoError(t, err)

	handles := []*handle{{}, {}, {}}
	for _, h := range handles {
		h.running.Store(true)
	}
	var next atomic.Int32
	spawner := batch.SpawnFunc(func(context.Context, model.Job) (batch.Handle, error) {
		return handles[next.Add(1)-1], nil
	})
	r := &reporter{}
	s := batch.NewScheduler(loop, spawner, r, batch.WithInterval(5*time.Millisecond))

	var wg sync.WaitGroup
	t.Cleanup(wg.Wait)
	err = loop.Run(t.Context(), func() {
		err := s.Start(t.Context(), batch.Batch{Jobs: []model.Job{{}, {}, {}}})
		require.NoError(t, err)
		wg.Go(func() {
			for _, h := range handles {
				time.Sleep(15 * time.Millisecond)
				h.running.Store(false)
			}
		})
	})
	require.NoError(t, err)
	require.False(t, s.Busy())
	require.False(t, loop.Keepalive())

	msgs := r.messages()
	require.Greater(t, len(msgs), 1)
	require.Equal(t, "🕛 Building 0/3, 0%", msgs[0])
	require.Equal(t, batch.DoneMessage, msgs[len(msgs)-1])
	p := s.Progress()
	require.Equal(t, 3, p.Done)
	require.Equal(t, 3, p.Total)
}

type handle struct {
	running atomic.Bool
}

func (h *handle) IsRunning() bool { return h.running.Load() }

type reporter struct {
	mx   sync.Mutex
	msgs []string
}

func (r *reporter) Display(msg string, _ time.Duration) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *reporter) messages() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]string(nil), r.msgs...)
}
