package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/orchestrator"
	"github.com/nidhogg/finsight/internal/store"
	"github.com/nidhogg/finsight/internal/vectorstore"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

// Analyzer runs and lists analyses.
type Analyzer interface {
	Analyze(ctx context.Context, in orchestrator.RunInputs) (*orchestrator.Analysis, error)
	History(ctx context.Context, limit int) ([]store.Analysis, error)
	Get(ctx context.Context, id int64) (*store.Analysis, error)
}

// Searcher finds stored analyses by meaning.
type Searcher interface {
	Search(ctx context.Context, text string, limit int) ([]vectorstore.Hit, error)
}

// Deps are the services behind the HTTP API. Only Analyzer is required;
// routes whose dependency is nil answer 503.
type Deps struct {
	Analyzer    Analyzer
	Dispatcher  orchestrator.Dispatcher
	Archive     Searcher
	Gateway     *gateway.Gateway
	Broadcaster *gateway.Broadcaster
	REST        *gateway.RESTAdapter
	UploadDir   string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if deps.UploadDir == "" {
		deps.UploadDir = "data"
	}
	return &Handler{deps: deps, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/analyze", h.analyze)
		r.Post("/analyze/async", h.analyzeAsync)
		r.Get("/jobs/{id}", h.getJob)

		r.Get("/analyses", h.listAnalyses)
		r.Get("/analyses/search", h.searchAnalyses)
		r.Get("/analyses/{id}", h.getAnalysis)

		// Gateway routes
		r.Get("/gateway/status", h.gatewayStatus)
		r.Get("/broadcasts", h.listBroadcasts)
		r.Post("/broadcast", h.sendBroadcast)
		if h.deps.REST != nil {
			r.Mount("/gateway/rest", h.deps.REST.Routes())
		}
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "finsight"})
}

type analyzeRequest struct {
	Query    string `json:"query"`
	FilePath string `json:"file_path"`
}

// readInputs accepts either a JSON body or a multipart upload with a "file"
// part. Uploaded files are marked for removal after the run.
func (h *Handler) readInputs(r *http.Request) (orchestrator.RunInputs, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return orchestrator.RunInputs{}, fmt.Errorf("invalid request body: %w", err)
		}
		return orchestrator.RunInputs{Query: req.Query, FilePath: req.FilePath}, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return orchestrator.RunInputs{}, fmt.Errorf("invalid upload: %w", err)
	}
	in := orchestrator.RunInputs{Query: r.FormValue("query")}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return in, fmt.Errorf("invalid upload: %w", err)
	}
	defer file.Close()

	path, err := h.saveUpload(file, header.Filename)
	if err != nil {
		return in, err
	}
	in.FilePath = path
	in.RemoveFile = true
	return in, nil
}

func (h *Handler) saveUpload(src io.Reader, name string) (string, error) {
	if err := os.MkdirAll(h.deps.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(h.deps.UploadDir,
		"financial_document_"+uuid.NewString()+strings.ToLower(filepath.Ext(name)))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	in, err := h.readInputs(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a, err := h.deps.Analyzer.Analyze(r.Context(), in)
	if err != nil {
		h.logger.Error("analyze failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) analyzeAsync(w http.ResponseWriter, r *http.Request) {
	if h.deps.Dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dispatch not configured"})
		return
	}
	in, err := h.readInputs(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id, err := h.deps.Dispatcher.Submit(r.Context(), in)
	if err != nil {
		if in.RemoveFile {
			os.Remove(in.FilePath)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dispatch not configured"})
		return
	}
	job, err := h.deps.Dispatcher.Result(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, orchestrator.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func (h *Handler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	rows, err := h.deps.Analyzer.History(r.Context(), queryLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// storedAnalysis is a row with its result decoded for display.
type storedAnalysis struct {
	store.Analysis
	Result json.RawMessage `json:"result"`
}

func (h *Handler) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid analysis id"})
		return
	}
	a, err := h.deps.Analyzer.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out := storedAnalysis{Analysis: *a}
	if json.Valid([]byte(a.Result)) {
		out.Result = json.RawMessage(a.Result)
	} else {
		out.Result, _ = json.Marshal(a.Result)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) searchAnalyses(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "search not configured"})
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	limit := queryLimit(r)
	if limit <= 0 {
		limit = 5
	}
	hits, err := h.deps.Archive.Search(r.Context(), q, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gateway == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Gateway.StatusAll())
}

func (h *Handler) listBroadcasts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Broadcaster == nil {
		writeJSON(w, http.StatusOK, []gateway.BroadcastRecord{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Broadcaster.History(queryLimit(r)))
}

func (h *Handler) sendBroadcast(w http.ResponseWriter, r *http.Request) {
	if h.deps.Broadcaster == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not initialized"})
		return
	}
	var msg gateway.BroadcastMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if msg.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type is required"})
		return
	}
	if err := h.deps.Broadcaster.Send(r.Context(), &msg); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "broadcast sent"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
