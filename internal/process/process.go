package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/Exporter/internal/batch"
	"github.com/CZERTAINLY/Exporter/internal/model"
)

var ErrNoPath = errors.New("processor path is empty")

type StderrFunc func(ctx context.Context, line string)

// Command is the processor invocation prototype. A job's source and output
// paths are appended to Args.
type Command struct {
	Path string
	Args []string
	Env  []string
}

// CommandFrom converts the processor configuration. Env values starting
// with $ are expanded from the current environment.
func CommandFrom(cfg model.Processor) Command {
	var env []string
	if len(cfg.Env) > 0 {
		env = os.Environ()
		for k, v := range cfg.Env {
			if strings.HasPrefix(v, "$") {
				v = os.ExpandEnv(v)
			}
			env = append(env, k+"="+v)
		}
	}
	return Command{
		Path: cfg.Path,
		Args: append([]string(nil), cfg.Args...),
		Env:  env,
	}
}

// Result describes a finished process.
type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Err     error
}

// Handle is one spawned processor. It never kills the child.
type Handle struct {
	done   chan struct{}
	mx     sync.RWMutex
	result Result
}

// IsRunning reports, without blocking, whether the process has not exited yet.
func (h *Handle) IsRunning() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the process result, only meaningful after Done is closed.
func (h *Handle) Result() Result {
	h.mx.RLock()
	defer h.mx.RUnlock()
	return h.result
}

// Spawner starts the configured processor once per job.
type Spawner struct {
	proto      Command
	stderrFunc StderrFunc
}

func NewSpawner(proto Command) *Spawner {
	return &Spawner{
		proto:      proto,
		stderrFunc: logStderr,
	}
}

// WithStderr replaces the default stderr handler, which logs every line at
// debug level. nil discards stderr.
func (s *Spawner) WithStderr(fn StderrFunc) *Spawner {
	s.stderrFunc = fn
	return s
}

// Spawn implements batch.Spawner.
func (s *Spawner) Spawn(ctx context.Context, job model.Job) (batch.Handle, error) {
	h, err := s.Start(ctx, job)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Start runs `proto.Path proto.Args... job.SourcePath job.OutputPath`. It
// does not wait for the command; a goroutine reaps it and closes Done.
func (s *Spawner) Start(ctx context.Context, job model.Job) (*Handle, error) {
	if s.proto.Path == "" {
		return nil, ErrNoPath
	}
	args := make([]string, 0, len(s.proto.Args)+2)
	args = append(args, s.proto.Args...)
	args = append(args, job.SourcePath, job.OutputPath)

	// not bound to ctx: once spawned, a processor runs to completion
	cmd := exec.Command(s.proto.Path, args...)
	if len(s.proto.Env) > 0 {
		cmd.Env = append([]string(nil), s.proto.Env...)
	}

	var stderr io.ReadCloser
	if s.stderrFunc != nil {
		var err error
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	h := &Handle{
		done: make(chan struct{}),
		result: Result{
			Path:    s.proto.Path,
			Args:    args,
			Started: time.Now().UTC(),
		},
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "processor started", "path", s.proto.Path, "source", job.SourcePath, "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	if stderr != nil {
		wg.Go(func() {
			processStderr(ctx, stderr, s.stderrFunc)
		})
	}
	go h.wait(ctx, cmd, &wg)
	return h, nil
}

func (h *Handle) wait(ctx context.Context, cmd *exec.Cmd, wg *sync.WaitGroup) {
	// stderr must be drained before Wait closes the pipe
	wg.Wait()
	err := cmd.Wait()
	stopped := time.Now().UTC()

	h.mx.Lock()
	h.result.Stopped = stopped
	h.result.State = cmd.ProcessState
	h.result.Err = err
	h.mx.Unlock()

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	slog.DebugContext(ctx, "processor exited", "path", h.result.Path, "exit_code", exitCode, "error", err, "elapsed", stopped.Sub(h.result.Started).String())
	close(h.done)
}

func processStderr(ctx context.Context, stderr io.Reader, stderrFunc StderrFunc) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		stderrFunc(ctx, scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
}

func logStderr(ctx context.Context, line string) {
	slog.DebugContext(ctx, "processor stderr", "line", line)
}
