package process_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Exporter/internal/model"
	"github.com/CZERTAINLY/Exporter/internal/process"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSpawner(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	src := filepath.Join(t.TempDir(), "icon.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0644))
	out := t.TempDir()

	cmd := process.Command{
		Path: sh,
		Args: []string{"-c", `cp "$1" "$2/" && echo copied 1>&2`, "process-png.sh"},
	}

	var mx sync.Mutex
	var stderr []string
	spawner := process.NewSpawner(cmd).WithStderr(func(_ context.Context, line string) {
		mx.Lock()
		stderr = append(stderr, line)
		mx.Unlock()
	})

	h, err := spawner.Start(t.Context(), model.Job{SourcePath: src, OutputPath: out})
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("processor did not finish")
	}
	require.False(t, h.IsRunning())

	res := h.Result()
	require.NoError(t, res.Err)
	require.Equal(t, sh, res.Path)
	require.Equal(t, []string{"-c", cmd.Args[1], "process-png.sh", src, out}, res.Args)
	require.NotNil(t, res.State)
	require.Zero(t, res.State.ExitCode())
	require.False(t, res.Stopped.Before(res.Started))

	b, err := os.ReadFile(filepath.Join(out, "icon.png"))
	require.NoError(t, err)
	require.Equal(t, "png", string(b))

	mx.Lock()
	defer mx.Unlock()
	require.Equal(t, []string{"copied"}, stderr)
}

func TestSpawner_Running(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	// the child blocks until the gate file appears
	dir := t.TempDir()
	gate := filepath.Join(dir, "gate")
	cmd := process.Command{
		Path: sh,
		Args: []string{"-c", `while [ ! -e "$1" ]; do sleep 0.01; done; exit 3`, "proc"},
	}
	h, err := process.NewSpawner(cmd).WithStderr(nil).Start(t.Context(), model.Job{SourcePath: gate, OutputPath: dir})
	require.NoError(t, err)
	require.True(t, h.IsRunning())

	require.NoError(t, os.WriteFile(gate, nil, 0644))
	require.Eventually(t, func() bool { return !h.IsRunning() }, 10*time.Second, 10*time.Millisecond)

	// a failing processor is just finished
	res := h.Result()
	require.Error(t, res.Err)
	var exitErr *exec.ExitError
	require.ErrorAs(t, res.Err, &exitErr)
	require.Equal(t, 3, res.State.ExitCode())
}

func TestSpawner_Errors(t *testing.T) {
	t.Parallel()
	t.Run("exec error", func(t *testing.T) {
		spawner := process.NewSpawner(process.Command{Path: "does not exist"})
		_, err := spawner.Spawn(t.Context(), model.Job{SourcePath: "a", OutputPath: "b"})
		require.Error(t, err)
		var execErr *exec.Error
		require.ErrorAs(t, err, &execErr)
		require.Equal(t, "does not exist", execErr.Name)
	})
	t.Run("empty path", func(t *testing.T) {
		_, err := process.NewSpawner(process.Command{}).Spawn(t.Context(), model.Job{})
		require.ErrorIs(t, err, process.ErrNoPath)
	})
}

func TestCommandFrom(t *testing.T) {
	t.Setenv("EXPORTER_TEST_HOME", "/home/exporter")
	cmd := process.CommandFrom(model.Processor{
		Path: "process-png.sh",
		Args: []string{"--optimize"},
		Env: map[string]string{
			"HOME":   "$EXPORTER_TEST_HOME",
			"LC_ALL": "C",
		},
	})
	require.Equal(t, "process-png.sh", cmd.Path)
	require.Equal(t, []string{"--optimize"}, cmd.Args)
	require.Contains(t, cmd.Env, "HOME=/home/exporter")
	require.Contains(t, cmd.Env, "LC_ALL=C")

	cmd = process.CommandFrom(model.Processor{Path: "p"})
	require.Nil(t, cmd.Env)
	require.Empty(t, cmd.Args)
}
