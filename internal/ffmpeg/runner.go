package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

var (
	ErrNotStarted = errors.New("process not started")
	ErrInProgress = errors.New("process already running")
)

// LineFunc receives one line of an engine output stream.
type LineFunc func(ctx context.Context, line string)

// Command describes one engine invocation.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// Exit is the terminal outcome of a supervised process, delivered
// exactly once on ExitChan whether the process ended normally, failed
// or was killed.
type Exit struct {
	Code     int
	TimedOut bool
	Started  time.Time
	Stopped  time.Time
	Err      error
}

// Runner supervises a single engine process: it wires stdout (the
// machine progress stream) and stderr (the diagnostic stream) to
// per-line callbacks, enforces the timeout and exposes Cancel.
type Runner struct {
	mx       sync.Mutex
	cmd      *exec.Cmd
	timer    *time.Timer
	timedOut bool
	started  time.Time
	done     chan Exit
}

func NewRunner() *Runner {
	return &Runner{
		done: make(chan Exit, 1),
	}
}

// Start spawns the engine and returns without waiting for it. Launch
// errors are reported synchronously; everything after a successful
// start arrives through the callbacks and ExitChan. onProgress gets
// stdout lines, onDiagnostic gets stderr lines, both in stream order.
func (r *Runner) Start(ctx context.Context, proto Command, onProgress, onDiagnostic LineFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return ErrInProgress
	}

	cmd := exec.Command(proto.Path, proto.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	r.started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		return err
	}
	r.cmd = cmd
	r.timedOut = false

	var streams sync.WaitGroup
	streams.Add(2)
	go r.scanLines(ctx, stdout, onProgress, &streams)
	go r.scanLines(ctx, stderr, onDiagnostic, &streams)

	if proto.Timeout > 0 {
		r.timer = time.AfterFunc(proto.Timeout, func() { r.timeout(cmd) })
	} else {
		slog.WarnContext(ctx, "engine command has no timeout", "path", proto.Path)
	}

	go r.wait(cmd, &streams)
	return nil
}

// Cancel kills the supervised process. Idempotent and a no-op once
// the process has exited.
func (r *Runner) Cancel() {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return
	}
	_ = r.cmd.Process.Kill()
}

// ExitChan returns the channel delivering the Exit outcome. The
// channel is buffered, so the outcome is never lost on a late read.
func (r *Runner) ExitChan() <-chan Exit {
	return r.done
}

// timeout is the timer callback. The cmd comparison guards against a
// stale timer firing for a process that already exited: it must never
// mark a finished run as timed out.
func (r *Runner) timeout(cmd *exec.Cmd) {
	r.mx.Lock()
	if r.cmd != cmd {
		r.mx.Unlock()
		return
	}
	r.timedOut = true
	proc := r.cmd.Process
	r.mx.Unlock()
	if proc != nil {
		_ = proc.Kill()
	}
}

func (r *Runner) scanLines(ctx context.Context, stream io.Reader, fn LineFunc, streams *sync.WaitGroup) {
	defer streams.Done()
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if fn != nil {
			fn(ctx, scanner.Text())
		}
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		slog.DebugContext(ctx, "engine stream closed", "error", err)
	}
}

// wait drains both streams, reaps the process and publishes the Exit.
// Stream readers must finish before Wait closes the pipes.
func (r *Runner) wait(cmd *exec.Cmd, streams *sync.WaitGroup) {
	streams.Wait()
	err := cmd.Wait()
	stopped := time.Now().UTC()

	r.mx.Lock()
	defer r.mx.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	exit := Exit{
		Code:     cmd.ProcessState.ExitCode(),
		TimedOut: r.timedOut,
		Started:  r.started,
		Stopped:  stopped,
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}
	r.cmd = nil
	r.done <- exit
}
