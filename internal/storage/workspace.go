package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is the filesystem staging area for jobs: uploaded inputs
// land under inputs/<id>/ and the engine writes its result under
// outputs/<id>/. Everything here is transient; removal is best-effort
// and missing files are never an error.
type Workspace struct {
	root string
}

func NewWorkspace(root string) (*Workspace, error) {
	for _, dir := range []string{root, filepath.Join(root, "inputs"), filepath.Join(root, "outputs")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return &Workspace{root: root}, nil
}

func (w *Workspace) InputsDir(id string) string {
	return filepath.Join(w.root, "inputs", id)
}

func (w *Workspace) OutputDir(id string) string {
	return filepath.Join(w.root, "outputs", id)
}

// StageInput stores one uploaded file for the job and returns its
// path. The stored name is prefixed with the upload field name so two
// fields carrying the same filename cannot collide.
func (w *Workspace) StageInput(id, field, filename string, r io.Reader) (string, error) {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("upload %s has no usable filename", field)
	}
	dir := w.InputsDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating inputs dir: %w", err)
	}

	path := filepath.Join(dir, field+"-"+base)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("staging upload %s: %w", field, err)
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("writing upload %s: %w", field, err)
	}
	return path, nil
}

// OutputPath creates the job's output directory and returns the path
// the engine should write to. Format becomes the file extension.
func (w *Workspace) OutputPath(id, format string) (string, error) {
	dir := w.OutputDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	return filepath.Join(dir, "output."+format), nil
}

// RemoveInputs deletes the job's staged inputs and returns how many
// files were actually removed. Already-gone files are not counted and
// not reported; other failures are logged as warnings only.
func (w *Workspace) RemoveInputs(ctx context.Context, id string) int {
	dir := w.InputsDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.WarnContext(ctx, "listing staged inputs", "dir", dir, "error", err)
		}
		return 0
	}

	var removed int
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		switch err := os.Remove(path); {
		case err == nil:
			removed++
		case !errors.Is(err, os.ErrNotExist):
			slog.WarnContext(ctx, "removing staged input", "path", path, "error", err)
		}
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.WarnContext(ctx, "removing inputs dir", "dir", dir, "error", err)
	}
	return removed
}

// RemoveOutput recursively deletes the job's output directory and
// returns how many regular files it held, typically one.
func (w *Workspace) RemoveOutput(ctx context.Context, id string) int {
	dir := w.OutputDir(id)
	var files int
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			files++
		}
		return nil
	})
	if err := os.RemoveAll(dir); err != nil {
		slog.WarnContext(ctx, "removing output dir", "dir", dir, "error", err)
		return 0
	}
	return files
}

// Healthy verifies the staging directories exist and are directories.
func (w *Workspace) Healthy() error {
	var errs []error
	for _, dir := range []string{w.root, filepath.Join(w.root, "inputs"), filepath.Join(w.root, "outputs")} {
		info, err := os.Stat(dir)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("staging dir %s: %w", dir, err))
		case !info.IsDir():
			errs = append(errs, fmt.Errorf("staging dir %s: not a directory", dir))
		}
	}
	return errors.Join(errs...)
}
