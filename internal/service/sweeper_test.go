package service_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ffwdhq/ffwd/internal/job"
	"github.com/ffwdhq/ffwd/internal/service"
	"github.com/ffwdhq/ffwd/internal/storage"

	"github.com/stretchr/testify/require"
)

func staged(t *testing.T, store *job.MemStore, ws *storage.Workspace, age time.Duration, status job.Status) *job.Job {
	t.Helper()
	j := job.New([]string{"-f", "null"})
	j.CreatedAt = time.Now().UTC().Add(-age)

	path, err := ws.StageInput(j.ID, "video", "in.mov", strings.NewReader("x"))
	require.NoError(t, err)
	j.InputPaths = []string{path}
	out, err := ws.OutputPath(j.ID, "mp4")
	require.NoError(t, err)
	j.OutputPath = out
	require.NoError(t, os.WriteFile(out, []byte("result"), 0644))

	require.NoError(t, store.Put(j))
	switch status {
	case job.StatusProcessing:
		require.NoError(t, store.MarkProcessing(j.ID))
	case job.StatusCompleted:
		require.NoError(t, store.MarkProcessing(j.ID))
		require.NoError(t, store.MarkCompleted(j.ID))
	case job.StatusFailed:
		require.NoError(t, store.MarkProcessing(j.ID))
		require.NoError(t, store.MarkFailed(j.ID, "engine exited with code 1"))
	}
	return j
}

func TestSweep(t *testing.T) {
	t.Parallel()
	store := job.NewMemStore()
	ws, err := storage.NewWorkspace(t.TempDir())
	require.NoError(t, err)

	const retention = time.Hour
	oldCompleted := staged(t, store, ws, 2*time.Hour, job.StatusCompleted)
	oldFailed := staged(t, store, ws, 3*time.Hour, job.StatusFailed)
	oldQueued := staged(t, store, ws, 2*time.Hour, job.StatusQueued)
	oldProcessing := staged(t, store, ws, 2*time.Hour, job.StatusProcessing)
	fresh := staged(t, store, ws, time.Minute, job.StatusCompleted)

	sw, err := service.NewSweeper(t.Context(), store, ws, retention, time.Hour)
	require.NoError(t, err)

	require.Equal(t, 3, sw.Sweep(t.Context()))

	for _, gone := range []*job.Job{oldCompleted, oldFailed, oldQueued} {
		_, err := store.Get(gone.ID)
		require.ErrorIs(t, err, job.ErrNotFound)
		require.NoDirExists(t, ws.InputsDir(gone.ID))
		require.NoDirExists(t, ws.OutputDir(gone.ID))
	}

	// still processing: exempt regardless of age
	kept, err := store.Get(oldProcessing.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, kept.Status)
	require.FileExists(t, oldProcessing.OutputPath)

	// inside the retention window
	_, err = store.Get(fresh.ID)
	require.NoError(t, err)

	// second cycle finds nothing left to purge
	require.Zero(t, sw.Sweep(t.Context()))
}

func TestSweeperMissingFiles(t *testing.T) {
	t.Parallel()
	store := job.NewMemStore()
	ws, err := storage.NewWorkspace(t.TempDir())
	require.NoError(t, err)

	j := staged(t, store, ws, 2*time.Hour, job.StatusCompleted)
	// inputs already removed by the completion path
	require.Equal(t, 1, ws.RemoveInputs(t.Context(), j.ID))

	sw, err := service.NewSweeper(t.Context(), store, ws, time.Hour, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, sw.Sweep(t.Context()))
	require.NoDirExists(t, ws.OutputDir(j.ID))
}

func TestSweeperSchedule(t *testing.T) {
	t.Parallel()
	store := job.NewMemStore()
	ws, err := storage.NewWorkspace(t.TempDir())
	require.NoError(t, err)

	j := staged(t, store, ws, time.Hour, job.StatusCompleted)

	sw, err := service.NewSweeper(t.Context(), store, ws, time.Minute, 20*time.Millisecond)
	require.NoError(t, err)
	sw.Start()
	t.Cleanup(func() {
		require.NoError(t, sw.Shutdown())
	})

	require.Eventually(t, func() bool {
		_, err := store.Get(j.ID)
		return err != nil
	}, 10*time.Second, 10*time.Millisecond, "scheduler never ran a sweep")
}
