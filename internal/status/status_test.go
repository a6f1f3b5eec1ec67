package status_test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Exporter/internal/status"
	"github.com/stretchr/testify/require"
)

func TestReporter_Lines(t *testing.T) {
	t.Parallel()
	var buf syncBuffer
	r := status.New(&buf)
	r.Display("🕛 Building 0/2, 0%", 5*time.Second)
	r.Display("", time.Second)
	r.Display("✅ Done!", 2*time.Second)
	r.Close()
	require.Equal(t, "🕛 Building 0/2, 0%\n✅ Done!\n", buf.String())
}

func TestReporter_Transient(t *testing.T) {
	t.Parallel()
	var buf syncBuffer
	r := status.New(&buf).WithTransient(true)
	r.Display("first", time.Hour)
	r.Display("second", 20*time.Millisecond)
	require.Equal(t, "\r\033[Kfirst\r\033[Ksecond", buf.String())

	require.Eventually(t, func() bool {
		return buf.String() == "\r\033[Kfirst\r\033[Ksecond\r\033[K"
	}, 5*time.Second, 5*time.Millisecond)

	// a replaced message is not erased by the stale deadline
	buf.Reset()
	r.Display("third", 10*time.Millisecond)
	r.Display("fourth", time.Hour)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, "\r\033[Kthird\r\033[Kfourth", buf.String())

	r.Close()
	require.Equal(t, "\r\033[Kthird\r\033[Kfourth\n", buf.String())
	r.Close()
}

func TestReporter_Nil(t *testing.T) {
	t.Parallel()
	var r *status.Reporter
	require.NotPanics(t, func() {
		r.Display("ignored", time.Second)
		r.Close()
	})
	require.NotPanics(t, func() {
		status.New(nil).Display("ignored", time.Second)
	})
}

type syncBuffer struct {
	mx  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.buf.Reset()
}
