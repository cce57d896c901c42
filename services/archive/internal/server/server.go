package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roomledger/internal/ratelimit"
	"roomledger/pkg/domain"
	"roomledger/pkg/moderation"
	"roomledger/services/archive/internal/app"
)

// Config wires required dependencies for the HTTP server. Limiter is
// optional; when nil ingest is not rate limited.
type Config struct {
	App     *app.App
	Limiter *ratelimit.FixedWindowLimiter
}

// Server exposes HTTP endpoints for the archive service.
type Server struct {
	app     *app.App
	limiter *ratelimit.FixedWindowLimiter
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		limiter: cfg.Limiter,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/messages", s.handleMessages)
	s.mux.HandleFunc("/content/", s.handleContentByID)
	s.mux.HandleFunc("/moderation/evaluate", s.handleEvaluate)
	s.mux.HandleFunc("/audit/verify", s.handleVerify)
	s.mux.HandleFunc("/audit/events", s.handleEvents)
	s.mux.HandleFunc("/retention/run", s.handleRetentionRun)
	s.mux.HandleFunc("/retention/schedule", s.handleRetentionSchedule)
	s.mux.HandleFunc("/retention/holds", s.handleHolds)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

type ingestResponse struct {
	MessageID   string `json:"messageId"`
	ContentID   string `json:"contentId"`
	ContentHash string `json:"contentHash"`
	ChainHash   string `json:"chainHash"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if s.limiter != nil && !s.limiter.Allow(req.SenderID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	res, err := s.app.Ingest(r.Context(), app.IngestRequest{
		RoomID:   req.RoomID,
		SenderID: req.SenderID,
		Payload:  []byte(req.Content),
		MimeType: req.MimeType,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{
		MessageID:   res.MessageID,
		ContentID:   res.ContentID,
		ContentHash: res.ContentHash,
		ChainHash:   res.ChainHash,
	})
}

func (s *Server) handleContentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/content/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	payload, err := s.app.FetchContent(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

type evaluateRequest struct {
	MessageID string             `json:"messageId"`
	Labels    map[string]float64 `json:"labels"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "messageId is required")
		return
	}
	out, err := s.app.Evaluate(r.Context(), req.MessageID, moderation.Scores{Labels: req.Labels})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	node := r.URL.Query().Get("node")
	err := s.app.VerifyChain(r.Context(), node)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
		return
	}
	var mismatch *domain.ChainMismatchError
	if errors.As(err, &mismatch) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"valid":   false,
			"entryId": mismatch.EntryID,
			"reason":  mismatch.Error(),
		})
		return
	}
	writeAppError(w, err)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	room := r.URL.Query().Get("room")
	if room == "" {
		writeError(w, http.StatusBadRequest, "room query parameter is required")
		return
	}
	entries, err := s.app.EventsByRoom(r.Context(), room, queryLimit(r, 100))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleRetentionRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	scheduled, executed, err := s.app.RunRetention(r.Context(), time.Now().UTC())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"scheduled": scheduled, "executed": executed})
}

func (s *Server) handleRetentionSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.app.RetentionStatus(r.Context(), queryLimit(r, 100))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type holdRequest struct {
	ResourceType string    `json:"resourceType"`
	ResourceID   string    `json:"resourceId"`
	HoldUntil    time.Time `json:"holdUntil"`
	Reason       string    `json:"reason"`
	Actor        string    `json:"actor"`
}

func (s *Server) handleHolds(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	switch r.Method {
	case http.MethodPost, http.MethodDelete:
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	default:
		methodNotAllowed(w)
		return
	}
	if r.Method == http.MethodDelete {
		if err := s.app.ReleaseHold(r.Context(), req.ResourceType, req.ResourceID, req.Actor); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
		return
	}
	err := s.app.ApplyHold(r.Context(), domain.LegalHold{
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		HoldUntil:    req.HoldUntil,
		Reason:       req.Reason,
		Actor:        req.Actor,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "held"})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrHoldActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConfigMissing), errors.Is(err, domain.ErrLockContention):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
