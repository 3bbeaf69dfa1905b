package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ffwdhq/ffwd/internal/ffmpeg"
	"github.com/ffwdhq/ffwd/internal/job"
	"github.com/ffwdhq/ffwd/internal/log"
	"github.com/ffwdhq/ffwd/internal/model"
	"github.com/ffwdhq/ffwd/internal/storage"
)

var ErrEmptyCommand = errors.New("command spec is empty")

const (
	defaultFormat      = "mp4"
	queueDepth         = 1024
	healthProbeTimeout = 2 * time.Second
)

// Upload is one named file part of a submission.
type Upload struct {
	Field    string
	Filename string
	Data     io.Reader
}

// DeletedFiles reports what a delete removed synchronously. For a job
// whose process is still supervised the counts are zero: the delete
// only signals cancellation and the execution's own exit path
// finalizes file cleanup.
type DeletedFiles struct {
	InputFiles int `json:"inputFiles"`
	OutputFile int `json:"outputFile"`
}

// Manager owns the job lifecycle: it stages submissions, dispatches
// queued jobs to a bounded worker pool, supervises the engine process
// per job, and cleans staged files on every terminal path.
type Manager struct {
	cfg   model.Config
	store job.Store
	ws    *storage.Workspace

	queue chan string
	done  chan struct{}

	mx      sync.Mutex
	running map[string]*ffmpeg.Runner
}

func NewManager(cfg model.Config, store job.Store, ws *storage.Workspace) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		ws:      ws,
		queue:   make(chan string, queueDepth),
		done:    make(chan struct{}),
		running: make(map[string]*ffmpeg.Runner),
	}
}

// Run operates the worker pool until ctx is cancelled. Pool size
// bounds how many engine processes run at once; everything beyond
// that stays queued. Returns after all in-flight jobs finished.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)

	g, ctx := errgroup.WithContext(ctx)
	for range m.cfg.Workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id := <-m.queue:
					m.execute(ctx, id)
				}
			}
		})
	}
	return g.Wait()
}

// Submit stages the uploads, creates the queued record and schedules
// execution. It never blocks on the workers: the response is owed to
// the caller before processing begins. A failed submission leaves
// neither a record nor staged files behind.
func (m *Manager) Submit(ctx context.Context, command []string, format string, uploads []Upload) (job.Job, error) {
	if len(command) == 0 {
		return job.Job{}, ErrEmptyCommand
	}
	if format == "" {
		format = defaultFormat
	}

	j := job.New(command)
	j.Uploads = make(map[string]string, len(uploads))
	for _, u := range uploads {
		path, err := m.ws.StageInput(j.ID, u.Field, u.Filename, u.Data)
		if err != nil {
			m.ws.RemoveInputs(ctx, j.ID)
			return job.Job{}, err
		}
		j.Uploads[u.Field] = path
		j.InputPaths = append(j.InputPaths, path)
	}

	out, err := m.ws.OutputPath(j.ID, format)
	if err != nil {
		m.ws.RemoveInputs(ctx, j.ID)
		return job.Job{}, err
	}
	j.OutputPath = out

	if err := m.store.Put(j); err != nil {
		m.ws.RemoveInputs(ctx, j.ID)
		m.ws.RemoveOutput(ctx, j.ID)
		return job.Job{}, err
	}
	snap, err := m.store.Get(j.ID)
	if err != nil {
		return job.Job{}, err
	}

	m.enqueue(ctx, j.ID)
	slog.InfoContext(ctx, "job submitted", "job_id", j.ID, "inputs", len(uploads))
	return snap, nil
}

func (m *Manager) enqueue(ctx context.Context, id string) {
	select {
	case m.queue <- id:
	default:
		// queue burst beyond the buffer: park the handoff in its own
		// goroutine so the submission response is not delayed
		go func() {
			select {
			case m.queue <- id:
			case <-m.done:
			}
		}()
		slog.WarnContext(ctx, "dispatch queue saturated", "job_id", id, "depth", queueDepth)
	}
}

// Delete removes the job record and its backing files. If the job is
// actively supervised its process is cancelled and cleanup is left to
// the execution's exit path, so file removal never races a process
// still writing its output.
func (m *Manager) Delete(ctx context.Context, id string) (DeletedFiles, error) {
	if _, err := m.store.Delete(id); err != nil {
		return DeletedFiles{}, err
	}

	m.mx.Lock()
	runner := m.running[id]
	m.mx.Unlock()
	if runner != nil {
		runner.Cancel()
		slog.InfoContext(ctx, "job deleted while processing, engine cancelled", "job_id", id)
		return DeletedFiles{}, nil
	}

	files := DeletedFiles{
		InputFiles: m.ws.RemoveInputs(ctx, id),
		OutputFile: m.ws.RemoveOutput(ctx, id),
	}
	slog.InfoContext(ctx, "job deleted", "job_id", id,
		"input_files", files.InputFiles, "output_files", files.OutputFile)
	return files, nil
}

// execute runs one job to its terminal state. Any error is captured
// in the record; nothing escapes to the worker loop.
func (m *Manager) execute(ctx context.Context, id string) {
	ctx = log.ContextAttrs(ctx, slog.String("job_id", id))

	j, err := m.store.Get(id)
	if err != nil {
		// deleted while queued; delete already cleaned up
		return
	}
	if err := m.store.MarkProcessing(id); err != nil {
		slog.WarnContext(ctx, "job not dispatchable", "error", err)
		return
	}

	argv := ResolveArgs(j.Command, j.Uploads)
	argv = append(argv, j.OutputPath)

	var tracker ffmpeg.Tracker
	onProgress := func(_ context.Context, line string) {
		if pct, ok := tracker.Observe(line); ok {
			_ = m.store.SetProgress(id, pct)
		}
	}
	onDiagnostic := func(_ context.Context, line string) {
		_ = m.store.AppendLog(id, line)
	}

	runner := ffmpeg.NewRunner()
	m.mx.Lock()
	m.running[id] = runner
	m.mx.Unlock()
	defer func() {
		m.mx.Lock()
		delete(m.running, id)
		m.mx.Unlock()
	}()

	cmd := ffmpeg.Command{
		Path:    m.cfg.FFmpeg,
		Args:    argv,
		Timeout: m.cfg.ProcessTimeout,
	}
	slog.InfoContext(ctx, "engine starting", "args", argv)
	if err := runner.Start(ctx, cmd, onProgress, onDiagnostic); err != nil {
		m.fail(ctx, id, fmt.Sprintf("starting engine: %v", err))
		return
	}

	exit := <-runner.ExitChan()
	switch {
	case exit.TimedOut:
		m.fail(ctx, id, fmt.Sprintf("processing timed out after %s", m.cfg.ProcessTimeout))
	case exit.Err != nil:
		m.fail(ctx, id, fmt.Sprintf("waiting on engine: %v", exit.Err))
	case exit.Code != 0:
		m.fail(ctx, id, fmt.Sprintf("engine exited with code %d", exit.Code))
	default:
		m.complete(ctx, id, exit)
	}
}

func (m *Manager) complete(ctx context.Context, id string, exit ffmpeg.Exit) {
	if err := m.store.MarkCompleted(id); err != nil {
		// record was deleted mid-flight; nothing owns the files now
		m.ws.RemoveInputs(ctx, id)
		m.ws.RemoveOutput(ctx, id)
		return
	}
	m.ws.RemoveInputs(ctx, id)
	slog.InfoContext(ctx, "job completed", "took", exit.Stopped.Sub(exit.Started).String())
}

// fail records the error and removes inputs and the whole output
// directory: a failed job leaves no partial output. Runs the cleanup
// even when the record is already gone, so a deleted in-flight job
// cannot orphan files.
func (m *Manager) fail(ctx context.Context, id, msg string) {
	if err := m.store.MarkFailed(id, msg); err != nil && !errors.Is(err, job.ErrNotFound) {
		slog.WarnContext(ctx, "recording failure", "error", err)
	}
	m.ws.RemoveInputs(ctx, id)
	m.ws.RemoveOutput(ctx, id)
	slog.InfoContext(ctx, "job failed", "reason", msg)
}

// Health reports whether the engine binary is invocable and the
// staging directories exist. The engine probe is bounded so a hanging
// binary cannot stall the health endpoint.
type Health struct {
	Engine  string `json:"engine"`
	Storage string `json:"storage"`
	OK      bool   `json:"-"`
}

func (m *Manager) Health(ctx context.Context) Health {
	h := Health{Engine: "ok", Storage: "ok", OK: true}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	if err := exec.CommandContext(probeCtx, m.cfg.FFmpeg, "-version").Run(); err != nil {
		h.Engine = fmt.Sprintf("probing %s: %v", m.cfg.FFmpeg, err)
		h.OK = false
	}
	if err := m.ws.Healthy(); err != nil {
		h.Storage = err.Error()
		h.OK = false
	}
	return h
}
