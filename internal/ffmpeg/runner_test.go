package ffmpeg_test

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/ffwdhq/ffwd/internal/ffmpeg"

	"github.com/stretchr/testify/require"
)

func shPath(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

// lineSink collects callback lines safely across goroutines.
type lineSink struct {
	mx    sync.Mutex
	lines []string
}

func (s *lineSink) add(_ context.Context, line string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.lines = append(s.lines, line)
}

func (s *lineSink) all() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.lines...)
}

func TestRunnerStreams(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	cmd := ffmpeg.Command{
		Path:    sh,
		Args:    []string{"-c", "echo out_time=00:00:01.000000; echo 1>&2 'frame drop'; echo 1>&2 'speed 1x'"},
		Timeout: 5 * time.Second,
	}

	var progress, diag lineSink
	runner := ffmpeg.NewRunner()
	err := runner.Start(t.Context(), cmd, progress.add, diag.add)
	require.NoError(t, err)

	exit := <-runner.ExitChan()
	require.NoError(t, exit.Err)
	require.Zero(t, exit.Code)
	require.False(t, exit.TimedOut)
	require.NotZero(t, exit.Started)
	require.NotZero(t, exit.Stopped)
	require.Equal(t, []string{"out_time=00:00:01.000000"}, progress.all())
	require.Equal(t, []string{"frame drop", "speed 1x"}, diag.all())
}

func TestRunnerExitCode(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	runner := ffmpeg.NewRunner()
	err := runner.Start(t.Context(), ffmpeg.Command{
		Path:    sh,
		Args:    []string{"-c", "exit 3"},
		Timeout: 5 * time.Second,
	}, nil, nil)
	require.NoError(t, err)

	exit := <-runner.ExitChan()
	require.NoError(t, exit.Err)
	require.Equal(t, 3, exit.Code)
	require.False(t, exit.TimedOut)
}

func TestRunnerTimeout(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	runner := ffmpeg.NewRunner()
	err := runner.Start(t.Context(), ffmpeg.Command{
		Path:    sh,
		Args:    []string{"-c", "sleep 30"},
		Timeout: 100 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	select {
	case exit := <-runner.ExitChan():
		require.True(t, exit.TimedOut)
		require.NotZero(t, exit.Code)
		require.GreaterOrEqual(t, exit.Stopped.Sub(exit.Started), 100*time.Millisecond)
	case <-time.After(10 * time.Second):
		t.Fatal("process not reaped after timeout")
	}

	// gone for good, cancel must be a no-op now
	runner.Cancel()
}

func TestRunnerCancel(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	runner := ffmpeg.NewRunner()
	err := runner.Start(t.Context(), ffmpeg.Command{
		Path:    sh,
		Args:    []string{"-c", "sleep 30"},
		Timeout: time.Minute,
	}, nil, nil)
	require.NoError(t, err)

	runner.Cancel()
	runner.Cancel() // idempotent

	select {
	case exit := <-runner.ExitChan():
		require.False(t, exit.TimedOut, "cancellation is not a timeout")
		require.NotZero(t, exit.Code)
	case <-time.After(10 * time.Second):
		t.Fatal("process not reaped after cancel")
	}
}

func TestRunnerInProgress(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	runner := ffmpeg.NewRunner()
	cmd := ffmpeg.Command{
		Path:    sh,
		Args:    []string{"-c", "sleep 1"},
		Timeout: 30 * time.Second,
	}
	require.NoError(t, runner.Start(t.Context(), cmd, nil, nil))
	err := runner.Start(t.Context(), cmd, nil, nil)
	require.ErrorIs(t, err, ffmpeg.ErrInProgress)

	runner.Cancel()
	<-runner.ExitChan()
}

func TestRunnerLaunchError(t *testing.T) {
	t.Parallel()

	runner := ffmpeg.NewRunner()
	err := runner.Start(t.Context(), ffmpeg.Command{
		Path:    "does not exist",
		Timeout: time.Second,
	}, nil, nil)
	require.Error(t, err)
	var execErr *exec.Error
	require.ErrorAs(t, err, &execErr)
}
