// Package status renders short-lived status messages on a terminal.
package status

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	eraseLine      = "\r\033[K"
	DefaultTimeout = 5 * time.Second
)

// Reporter writes one status line at a time. On a terminal the line is
// rewritten in place and erased once its timeout expires unless another
// message replaced it; elsewhere each message is written on its own line.
// A nil *Reporter and a Reporter with a nil writer discard everything.
type Reporter struct {
	mx        sync.Mutex
	w         io.Writer
	transient bool
	timer     *time.Timer
	shown     bool
	deadline  time.Time
}

// New returns a reporter writing to w. Transient mode is enabled when w is a
// terminal.
func New(w io.Writer) *Reporter {
	transient := false
	if f, ok := w.(*os.File); ok && f != nil {
		transient = term.IsTerminal(int(f.Fd()))
	}
	return &Reporter{w: w, transient: transient}
}

// WithTransient forces the transient mode on or off.
func (r *Reporter) WithTransient(transient bool) *Reporter {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.transient = transient
	return r
}

// Display implements batch.Reporter. Write errors are ignored.
func (r *Reporter) Display(message string, timeout time.Duration) {
	if r == nil || message == "" {
		return
	}
	slog.Debug("status", "message", message)

	r.mx.Lock()
	defer r.mx.Unlock()
	if r.w == nil {
		return
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if !r.transient {
		_, _ = io.WriteString(r.w, message+"\n")
		return
	}

	_, _ = io.WriteString(r.w, eraseLine+message)
	r.shown = true
	r.deadline = time.Now().Add(timeout)
	if r.timer == nil {
		r.timer = time.AfterFunc(timeout, r.expire)
		return
	}
	r.timer.Reset(timeout)
}

func (r *Reporter) expire() {
	r.mx.Lock()
	defer r.mx.Unlock()
	if !r.shown || r.timer == nil {
		return
	}
	// fired for a message that has since been replaced
	if left := time.Until(r.deadline); left > 0 {
		r.timer.Reset(left)
		return
	}
	_, _ = io.WriteString(r.w, eraseLine)
	r.shown = false
}

// Close stops the timer and keeps a pending transient line on the terminal.
func (r *Reporter) Close() {
	if r == nil {
		return
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.shown && r.w != nil {
		_, _ = io.WriteString(r.w, "\n")
		r.shown = false
	}
}
