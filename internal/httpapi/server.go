package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ffwdhq/ffwd/internal/job"
	"github.com/ffwdhq/ffwd/internal/model"
	"github.com/ffwdhq/ffwd/internal/service"
)

// multipartMemory caps how much of a parsed form stays in memory
// before spilling to temporary files.
const multipartMemory = 32 << 20

// Server is the HTTP boundary: it parses submissions and proxies
// per-job operations to the store and the lifecycle manager.
type Server struct {
	cfg     model.Config
	store   job.Store
	manager *service.Manager
}

func New(cfg model.Config, store job.Store, manager *service.Manager) *Server {
	return &Server{cfg: cfg, store: store, manager: manager}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/health", s.handleHealth)
	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleStatus)
		r.Get("/{id}/download", s.handleDownload)
		r.Delete("/{id}", s.handleDelete)
	})
	return r
}

// handleSubmit accepts a multipart form: a "command" field holding the
// JSON-encoded argument tokens, an optional "format" field for the
// output container, and any number of named file parts. The response
// is owed before processing starts.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErr(w, http.StatusRequestEntityTooLarge,
				fmt.Errorf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
			return
		}
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parsing multipart form: %w", err))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	raw := r.FormValue("command")
	if raw == "" {
		writeErr(w, http.StatusBadRequest, errors.New("missing command field"))
		return
	}
	var command []string
	if err := json.Unmarshal([]byte(raw), &command); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("command must be a JSON array of strings: %w", err))
		return
	}

	var uploads []service.Upload
	var open []io.Closer
	defer func() {
		for _, c := range open {
			_ = c.Close()
		}
	}()
	for field, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("reading upload %s: %w", field, err))
			return
		}
		open = append(open, f)
		uploads = append(uploads, service.Upload{
			Field:    field,
			Filename: headers[0].Filename,
			Data:     f,
		})
	}

	j, err := s.manager.Submit(r.Context(), command, r.FormValue("format"), uploads)
	if err != nil {
		if errors.Is(err, service.ErrEmptyCommand) {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          j.ID,
		"status":      j.Status,
		"statusUrl":   fmt.Sprintf("/api/jobs/%s", j.ID),
		"downloadUrl": fmt.Sprintf("/api/jobs/%s/download", j.ID),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.store.Get(id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(j))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs := s.store.List()
	resp := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, summaryResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  resp,
		"total": len(resp),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.store.Get(id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	if j.Status != job.StatusCompleted {
		writeErr(w, http.StatusConflict, fmt.Errorf("job is %s, output available once completed", j.Status))
		return
	}

	f, err := os.Open(j.OutputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// completed without an output on disk is a data-integrity
			// fault, not a client error worth a 5xx retry loop
			writeErr(w, http.StatusNotFound, errors.New("output file missing"))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	defer func() {
		_ = f.Close()
	}()

	name := filepath.Base(j.OutputPath)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = io.Copy(w, f)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	files, err := s.manager.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           id,
		"filesDeleted": files,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.manager.Health(r.Context())
	code := http.StatusOK
	status := "healthy"
	if !h.OK {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"engine":  h.Engine,
		"storage": h.Storage,
	})
}

func statusResponse(j job.Job) map[string]any {
	resp := summaryResponse(j)
	resp["command"] = j.Command
	resp["log"] = j.LogLines
	if j.StartedAt != nil {
		resp["startedAt"] = j.StartedAt
	}
	if j.CompletedAt != nil {
		resp["completedAt"] = j.CompletedAt
	}
	if j.Status == job.StatusCompleted {
		resp["downloadUrl"] = fmt.Sprintf("/api/jobs/%s/download", j.ID)
	}
	return resp
}

func summaryResponse(j job.Job) map[string]any {
	resp := map[string]any{
		"id":        j.ID,
		"status":    j.Status,
		"progress":  j.Progress,
		"createdAt": j.CreatedAt,
	}
	if j.Error != "" {
		resp["error"] = j.Error
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
