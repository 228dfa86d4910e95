package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/models"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyQuery), errors.Is(err, models.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConfigurationMismatch):
		return http.StatusConflict
	case errors.Is(err, models.ErrCollectionBusy):
		return http.StatusLocked
	case errors.Is(err, models.ErrAllMethodsFailed), errors.Is(err, models.ErrTransientBackend):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request",
		zap.String("collection", models.CollectionName(req.BotID, req.KBName)),
		zap.String("query", req.Query),
		zap.Int("top_k", req.TopK))
	response, err := s.engine.Search(r.Context(), &req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("search failed", zap.Error(err))
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.coordinator.Statistics())
}

func (s *Server) handleCollectionStats(w http.ResponseWriter, r *http.Request) {
	bot, kb := chi.URLParam(r, "bot"), chi.URLParam(r, "kb")
	s.respondJSON(w, http.StatusOK, s.coordinator.GetCollectionStats(bot, kb))
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	bot, kb := chi.URLParam(r, "bot"), chi.URLParam(r, "kb")
	if err := s.coordinator.DeleteCollection(r.Context(), bot, kb); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"collection": models.CollectionName(bot, kb),
		"status":     string(models.StatusGone),
	})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	bot, kb := chi.URLParam(r, "bot"), chi.URLParam(r, "kb")
	report, err := s.coordinator.Reindex(r.Context(), bot, kb)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("reindex failed", zap.Error(err))
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

type ingestRequest struct {
	SourceURI string `json:"source_uri"`
	Format    string `json:"format,omitempty"`
	Text      string `json:"text"`
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	bot, kb := chi.URLParam(r, "bot"), chi.URLParam(r, "kb")
	var req ingestRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SourceURI) == "" {
		s.respondError(w, http.StatusBadRequest, "source_uri is required")
		return
	}
	s.logger.Debug("ingest document request",
		zap.String("collection", models.CollectionName(bot, kb)),
		zap.String("source_uri", req.SourceURI))
	report, err := s.coordinator.IngestCollection(r.Context(), bot, kb, []models.DocumentEvent{{
		Kind:      models.EventChanged,
		SourceURI: req.SourceURI,
		Format:    req.Format,
		Content:   []byte(req.Text),
	}})
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	status := http.StatusCreated
	if report.DocumentsFailed > 0 {
		status = http.StatusUnprocessableEntity
	}
	s.respondJSON(w, status, report)
}

func (s *Server) handleRemoveDocument(w http.ResponseWriter, r *http.Request) {
	bot, kb := chi.URLParam(r, "bot"), chi.URLParam(r, "kb")
	sourceURI := r.URL.Query().Get("source_uri")
	if sourceURI == "" {
		s.respondError(w, http.StatusBadRequest, "source_uri query parameter is required")
		return
	}
	if s.coordinator.GetCollectionStats(bot, kb).Status == models.StatusNotExists {
		s.respondError(w, http.StatusNotFound, "collection not found")
		return
	}
	report, err := s.coordinator.IngestCollection(r.Context(), bot, kb, []models.DocumentEvent{{
		Kind:      models.EventRemoved,
		SourceURI: sourceURI,
	}})
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWatchRootsList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"roots": s.watch.Roots()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Bot  string `json:"bot"`
	KB   string `json:"kb"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchRootsAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" || req.Bot == "" || req.KB == "" {
		s.respondError(w, http.StatusBadRequest, "path, bot and kb are required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	root := config.WatchRoot{Path: abs, Bot: req.Bot, KB: req.KB}
	if err := s.watch.AddRoot(root, syncExisting); err != nil {
		s.logger.Error("watch add root failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchRoots()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchRootsRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveRoot(abs); err != nil {
		s.logger.Error("watch remove root failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchRoots()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchRoots() {
	if s.configPath == "" || s.appConfig == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.appConfig.Watch.Roots = s.watch.Roots()
	if err := config.Save(s.configPath, s.appConfig); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
