package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vidgrep/vidgrep/engine/domain"
	"github.com/vidgrep/vidgrep/engine/rag"
	"github.com/vidgrep/vidgrep/pkg/metrics"
	"github.com/vidgrep/vidgrep/pkg/mid"
	"github.com/vidgrep/vidgrep/pkg/repo"
)

// allowedExts are the accepted upload container formats.
var allowedExts = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
}

// indexer is the slice of the orchestrator the server drives.
type indexer interface {
	Index(ctx context.Context, id string) error
	Reindex(ctx context.Context, id string) error
}

// asker answers questions about an indexed video.
type asker interface {
	Ask(ctx context.Context, videoID, question string, limit int) (*rag.Answer, error)
}

// Server wires HTTP handlers to the indexing and retrieval services.
type Server struct {
	cfg      Config
	store    repo.VideoStore
	idx      indexer
	ask      asker
	registry *metrics.Registry
	logger   *slog.Logger
}

// NewServer creates the API server.
func NewServer(cfg Config, store repo.VideoStore, idx indexer, ask asker, registry *metrics.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = metrics.New()
	}
	return &Server{cfg: cfg, store: store, idx: idx, ask: ask, registry: registry, logger: logger}
}

// Handler builds the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", s.registry.Handler())
	mux.HandleFunc("POST /api/videos", s.handleUpload)
	mux.HandleFunc("GET /api/videos/{id}", s.handleStatus)
	mux.HandleFunc("POST /api/videos/{id}/reindex", s.handleReindex)
	mux.HandleFunc("POST /api/videos/{id}/ask", s.handleAsk)

	return mid.Chain(mux,
		mid.Recover(s.logger),
		mid.Logger(s.logger),
		mid.CORS(s.cfg.CORSOrigin),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UploadResponse is returned for an accepted upload.
type UploadResponse struct {
	Video domain.Video `json:"video"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes), nil)
			return
		}
		s.writeError(w, http.StatusBadRequest, "expected multipart form with a video field", nil)
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing video field", nil)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExts[ext] {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported video format %q", ext), nil)
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = strings.TrimSuffix(header.Filename, ext)
	}

	id := uuid.NewString()
	dst := filepath.Join(s.cfg.UploadDir, id+ext)
	if err := saveUpload(file, dst); err != nil {
		s.logger.Error("upload: save failed", "err", err)
		s.serverError(w, err)
		return
	}

	now := time.Now().UTC()
	v := domain.Video{
		ID:         id,
		Title:      title,
		SourcePath: dst,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := domain.ValidateVideoUpload(v); err != nil {
		s.classifyError(w, err)
		return
	}
	if err := s.store.Create(r.Context(), v); err != nil {
		s.serverError(w, err)
		return
	}

	go s.runIndex(v.ID, false)
	writeJSON(w, http.StatusAccepted, UploadResponse{Video: v})
}

func saveUpload(src io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, src)
	return err
}

// runIndex drives the pipeline off the request goroutine. A panic here
// must not take the process down.
func (s *Server) runIndex(id string, reindex bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("index: pipeline panicked", "video_id", id, "panic", rec)
			_ = s.store.UpdateStatus(context.Background(), id, domain.StatusFailed, fmt.Sprintf("panic: %v", rec))
		}
	}()
	ctx := context.Background()
	var err error
	if reindex {
		err = s.idx.Reindex(ctx, id)
	} else {
		err = s.idx.Index(ctx, id)
	}
	if err != nil {
		s.logger.Error("index: background run failed", "video_id", id, "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.classifyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.classifyError(w, err)
		return
	}
	if v.Status == domain.StatusProcessing {
		s.classifyError(w, fmt.Errorf("%w: video %s", domain.ErrAlreadyProcessing, id))
		return
	}

	go s.runIndex(id, true)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(domain.StatusProcessing)})
}

// AskRequest is the JSON body for POST /api/videos/{id}/ask.
type AskRequest struct {
	Question string `json:"question"`
	Limit    int    `json:"limit,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	answer, err := s.ask.Ask(r.Context(), r.PathValue("id"), req.Question, req.Limit)
	if err != nil {
		s.classifyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// classifyError maps domain errors to HTTP statuses.
func (s *Server) classifyError(w http.ResponseWriter, err error) {
	var nrc *rag.NoRelevantContentError
	switch {
	case errors.As(err, &nrc):
		s.writeError(w, http.StatusNotFound, nrc.Error(), nrc.Suggestions)
	case errors.Is(err, domain.ErrNotIndexed), errors.Is(err, domain.ErrAlreadyProcessing):
		s.writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "video not found", nil)
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrQueryTooShort),
		errors.Is(err, domain.ErrQueryInjection):
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		s.serverError(w, err)
	}
}

// serverError hides internals unless running in development.
func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "err", err)
	msg := "internal server error"
	resp := errorResponse{Error: msg}
	if s.cfg.development() {
		resp.Detail = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

type errorResponse struct {
	Error       string   `json:"error"`
	Detail      string   `json:"detail,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string, suggestions []string) {
	writeJSON(w, status, errorResponse{Error: msg, Suggestions: suggestions})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
