package job

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrBadTransition = errors.New("invalid status transition")
)

// Store is the shared job registry. It is the only structure accessed
// from multiple goroutines: HTTP handlers read snapshots while the
// lifecycle manager mutates records through the Mark/Set methods.
// Isolated behind an interface so a durable implementation could be
// swapped in without touching the lifecycle logic.
type Store interface {
	Put(j *Job) error
	Get(id string) (Job, error)
	List() []Job
	Delete(id string) (Job, error)

	MarkProcessing(id string) error
	SetProgress(id string, pct int) error
	AppendLog(id, line string) error
	MarkCompleted(id string) error
	MarkFailed(id, msg string) error
}

// MemStore keeps jobs in memory, in insertion order. All methods are
// safe for concurrent use. Get, List and Delete return value copies,
// so readers never alias a record the manager is still mutating.
type MemStore struct {
	mx    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

func NewMemStore() *MemStore {
	return &MemStore{
		jobs: make(map[string]*Job),
	}
}

func (s *MemStore) Put(j *Job) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return errors.New("job already stored: " + j.ID)
	}
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	return nil
}

func (s *MemStore) Get(id string) (Job, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return snapshot(j), nil
}

func (s *MemStore) List() []Job {
	s.mx.RLock()
	defer s.mx.RUnlock()
	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, snapshot(s.jobs[id]))
	}
	return out
}

// Delete removes the record and returns its last state. File cleanup
// is the caller's duty: the lifecycle manager is the single component
// allowed to unlink a job's backing files, and only after a
// successful Delete.
func (s *MemStore) Delete(id string) (Job, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	delete(s.jobs, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	return snapshot(j), nil
}

// MarkProcessing moves a queued job to processing, stamping StartedAt
// and lifting progress to 10, the bottom of the processing band.
func (s *MemStore) MarkProcessing(id string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusQueued {
		return ErrBadTransition
	}
	now := time.Now().UTC()
	j.Status = StatusProcessing
	j.StartedAt = &now
	j.Progress = 10
	return nil
}

// SetProgress updates progress of a processing job. Progress is
// monotonic: a value below the current one is dropped, not an error.
func (s *MemStore) SetProgress(id string, pct int) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusProcessing {
		return ErrBadTransition
	}
	if pct > j.Progress {
		j.Progress = pct
	}
	return nil
}

func (s *MemStore) AppendLog(id, line string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.LogLines = append(j.LogLines, line)
	return nil
}

func (s *MemStore) MarkCompleted(id string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusProcessing {
		return ErrBadTransition
	}
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.Progress = 100
	j.CompletedAt = &now
	return nil
}

func (s *MemStore) MarkFailed(id, msg string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusProcessing {
		return ErrBadTransition
	}
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Error = msg
	j.CompletedAt = &now
	return nil
}

func snapshot(j *Job) Job {
	c := *j
	c.Command = slices.Clone(j.Command)
	c.Uploads = maps.Clone(j.Uploads)
	c.InputPaths = slices.Clone(j.InputPaths)
	c.LogLines = slices.Clone(j.LogLines)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
