package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hyperjump/abio/internal/history"
	"github.com/hyperjump/abio/internal/models"
	"github.com/hyperjump/abio/internal/storage"
	"github.com/hyperjump/abio/internal/vector"
)

type createSessionRequest struct {
	Name string `json:"name"`
}

type appendTurnsRequest struct {
	Turns []history.Turn `json:"turns"`
}

type appendTurnsResponse struct {
	SessionID string   `json:"session_id"`
	TurnIDs   []string `json:"turn_ids"`
	Memories  int      `json:"memories"`
}

type historyResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []history.Turn `json:"turns"`
	Retained  int            `json:"retained"`
	Tokens    int            `json:"tokens"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := s.config.Load()
	status := &models.Status{
		IndexSize:      s.engine.Size(),
		IndexDimension: s.engine.Dimension(),
		Provider:       cfg.Embedding.Provider,
		DatabasePath:   cfg.Storage.DatabasePath,
		IndexPath:      cfg.Storage.IndexPath,
	}
	var err error
	if status.Sessions, err = s.storage.CountSessions(ctx); err != nil {
		s.logger.Error("status: count sessions failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if status.Turns, err = s.storage.CountTurns(ctx); err != nil {
		s.logger.Error("status: count turns failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	usage, err := storage.DiskUsageBytes(
		cfg.Storage.DatabasePath,
		cfg.Storage.IndexPath,
		cfg.Storage.IndexPath+vector.PayloadSuffix,
	)
	if err == nil {
		status.DiskUsageBytes = &usage
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var query models.RecallQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("recall request", zap.String("query", query.Text), zap.Int("limit", query.Limit))
	response, err := s.engine.RecallWithFallback(r.Context(), &query)
	if err != nil {
		if query.Text == "" {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("recall failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.storage.ListSessions(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	s.respondJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	sess, err := s.storage.CreateSession(r.Context(), req.Name)
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete session request", zap.String("id", id))

	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if err := s.storage.DeleteSession(ctx, id); err != nil {
		s.respondStorageError(w, "delete session failed", err)
		return
	}
	turns, err := s.storage.ListAllTurns(ctx)
	if err != nil {
		s.logger.Error("list turns failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.engine.Reindex(ctx, turns); err != nil {
		s.logger.Error("reindex after session delete failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.saveIndex(); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleAppendTurns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var req appendTurnsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Turns) == 0 {
		s.respondError(w, http.StatusBadRequest, "turns are required")
		return
	}
	s.logger.Debug("append turns request", zap.String("session_id", id), zap.Int("turns", len(req.Turns)))

	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	stored, err := s.storage.AppendTurns(ctx, id, req.Turns)
	if err != nil {
		s.respondStorageError(w, "append turns failed", err)
		return
	}
	memories, err := s.engine.Remember(ctx, stored...)
	if err != nil {
		s.logger.Error("turns stored but not indexed", zap.String("session_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.saveIndex(); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := appendTurnsResponse{SessionID: id, TurnIDs: make([]string, 0, len(stored)), Memories: len(memories)}
	for _, t := range stored {
		resp.TurnIDs = append(resp.TurnIDs, t.ID)
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.respondError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = parsed
	}

	cfg := s.config.Load()
	if _, err := s.storage.GetSession(ctx, id); err != nil {
		s.respondStorageError(w, "get session failed", err)
		return
	}
	stored, err := s.storage.ListTurns(ctx, id, cfg.Context.MessageLimit)
	if err != nil {
		s.logger.Error("list turns failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	seed := append([]history.Turn(nil), cfg.Context.ContextMessages...)
	for _, t := range stored {
		seed = append(seed, t.Turn)
	}
	h, err := history.New(cfg.Context.MessageLimit, seed, history.WithLogger(s.logger))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	turns := h.All()
	if n > 0 {
		if turns, err = h.Recent(n); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.respondJSON(w, http.StatusOK, historyResponse{
		SessionID: id,
		Turns:     turns,
		Retained:  h.Len(),
		Tokens:    h.EstimateTokens(),
	})
}

// saveIndex must be called with indexMu held.
func (s *Server) saveIndex() error {
	path := s.config.Load().Storage.IndexPath
	if err := s.engine.Save(path); err != nil {
		s.logger.Error("failed to save index", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) respondStorageError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, history.ErrInvalidTurn):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(msg, zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
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
