// Package api is the gateway's HTTP surface: the chat endpoint, the cache
// control endpoint, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"redgate/internal/cache"
	"redgate/internal/config"
	"redgate/internal/llm"
	"redgate/internal/redmine"
)

// requestTimeout bounds one chat request end to end; the tool loop carves
// its reserve out of it.
const requestTimeout = 60 * time.Second

// CategorySelector is the phase-1 surface.
type CategorySelector interface {
	Select(ctx context.Context, utterance string, enabled map[string]bool) llm.Selection
}

// ChatRunner is the phase-2 surface.
type ChatRunner interface {
	Run(ctx context.Context, utterance string, history []llm.Message, category string, enabled map[string]bool) (string, error)
}

// Server provides the REST handlers.
type Server struct {
	cfg      *config.Config
	engine   *cache.Engine
	selector CategorySelector
	runner   ChatRunner
	logger   *slog.Logger
	started  time.Time
	entropy  *ulid.MonotonicEntropy
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, engine *cache.Engine, selector CategorySelector, runner ChatRunner, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		engine:   engine,
		selector: selector,
		runner:   runner,
		logger:   logger,
		started:  time.Now(),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Router returns the handler for all API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.chat)
	mux.HandleFunc("POST /api/redmine-cache", s.cacheControl)
	mux.HandleFunc("GET /api/health", s.health)
	return s.corsMiddleware(s.requestLog(mux))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, origin := range s.cfg.AllowedOrigins {
		allowed[origin] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Chat ---

type chatRequest struct {
	Message             string          `json:"message"`
	ConversationHistory []llm.Message   `json:"conversationHistory"`
	EnabledTools        map[string]bool `json:"enabledTools"`
}

type chatResponse struct {
	Response            string        `json:"response"`
	ConversationHistory []llm.Message `json:"conversationHistory"`
	Category            string        `json:"category"`
	CategorySource      string        `json:"category_source"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	selection := s.selector.Select(ctx, req.Message, req.EnabledTools)
	s.logger.Info("category selected",
		"category", selection.Category,
		"source", selection.Source,
	)

	reply, err := s.runner.Run(ctx, req.Message, req.ConversationHistory, selection.Category, req.EnabledTools)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "model is rate limited, retry shortly")
		case isRateLimited(err):
			writeError(w, http.StatusTooManyRequests, "tracker is rate limited, retry shortly")
		default:
			s.logger.Error("chat failed", "error", err)
			writeError(w, http.StatusInternalServerError, "chat request failed")
		}
		return
	}

	// The full reply goes in response; the copy kept in the rolling history
	// is capped so long analytics answers don't balloon every later request.
	history := append(req.ConversationHistory,
		llm.Message{Role: "user", Content: req.Message},
		llm.Message{Role: "assistant", Content: truncateForHistory(reply)},
	)
	writeJSON(w, http.StatusOK, chatResponse{
		Response:            reply,
		ConversationHistory: history,
		Category:            selection.Category,
		CategorySource:      selection.Source,
	})
}

// historyReplyCap bounds assistant turns stored in the rolling history.
const historyReplyCap = 4000

func truncateForHistory(s string) string {
	if len(s) <= historyReplyCap {
		return s
	}
	return s[:historyReplyCap] + "…"
}

func isRateLimited(err error) bool {
	var terr *redmine.Error
	return errors.As(err, &terr) && terr.Kind == redmine.KindRateLimited
}

// --- Cache control ---

type cacheRequest struct {
	Action string `json:"action"`
}

func (s *Server) cacheControl(w http.ResponseWriter, r *http.Request) {
	var req cacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()
	switch req.Action {
	case "on":
		if err := s.engine.Enable(ctx); err != nil {
			s.cacheFailure(w, "enable", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "status": "enabled", "cache_info": s.engine.Status(),
		})
	case "off":
		s.engine.Disable()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "disabled"})
	case "refresh":
		if err := s.engine.Refresh(ctx); err != nil {
			s.cacheFailure(w, "refresh", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "cache_info": s.engine.Status(),
		})
	case "status":
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "cache_info": s.engine.Status(),
		})
	default:
		writeError(w, http.StatusBadRequest, "action must be on, off, refresh, or status")
	}
}

// cacheFailure reports a failed cache operation. Tracker rate limits map
// to 429; other tracker failures are operation results, not HTTP errors.
func (s *Server) cacheFailure(w http.ResponseWriter, op string, err error) {
	if isRateLimited(err) {
		writeError(w, http.StatusTooManyRequests, "tracker is rate limited, retry shortly")
		return
	}
	s.logger.Warn("cache operation failed", "op", op, "error", err)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// --- Health ---

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime_s": int(time.Since(s.started).Seconds()),
	})
}
