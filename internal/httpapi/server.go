// Package httpapi exposes the chat pipeline over HTTP and a websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"

	"github.com/antoniostano/storai/internal/chat"
	"github.com/antoniostano/storai/internal/config"
	"github.com/antoniostano/storai/internal/logging"
	"github.com/antoniostano/storai/internal/observability"
	"github.com/antoniostano/storai/internal/persona"
)

// Chat is the conversation core served by the API.
type Chat interface {
	Introduce(ctx context.Context, userID, personaName string) (string, error)
	Converse(ctx context.Context, userID, personaName, message string) (chat.Reply, error)
	Purge(ctx context.Context, userID string) error
	Stats(ctx context.Context, userID string) (chat.Stats, error)
}

type Server struct {
	cfg      config.Config
	chat     Chat
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	pingInterval time.Duration
}

func New(cfg config.Config, c Chat, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		chat:         c,
		metrics:      metrics,
		pingInterval: wsPingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/chat", func(r chi.Router) {
		r.Post("/introduce", s.handleIntroduce)
		r.Post("/converse", s.handleConverse)
		r.Post("/purge", s.handlePurge)
		r.Get("/stats", s.handleStats)
		r.Get("/ws", s.handleChatWS)
	})

	return r
}

// requestLogger attaches a logger carrying the request id to the context.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logging.From(r.Context()).With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(logging.With(r.Context(), l)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"memory_store": storeMode(s.cfg.DatabaseURL),
		"vector_store": storeMode(s.cfg.VectorDBPath),
		"generation":   s.cfg.GenerationProvider,
		"personas":     persona.All(),
	})
}

func storeMode(location string) string {
	if strings.TrimSpace(location) == "" {
		return "in-memory"
	}
	return "persistent"
}

type introduceRequest struct {
	UserID  string `json:"user_id"`
	Persona string `json:"persona"`
}

type introduceResponse struct {
	Reply string `json:"reply"`
}

type converseRequest struct {
	UserID  string `json:"user_id"`
	Persona string `json:"persona"`
	Message string `json:"message"`
}

type purgeRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleIntroduce(w http.ResponseWriter, r *http.Request) {
	var req introduceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reply, err := s.chat.Introduce(r.Context(), req.UserID, req.Persona)
	if err != nil {
		s.handleError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, introduceResponse{Reply: reply})
}

func (s *Server) handleConverse(w http.ResponseWriter, r *http.Request) {
	var req converseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reply, err := s.chat.Converse(r.Context(), req.UserID, req.Persona, req.Message)
	if err != nil {
		s.handleError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.chat.Purge(r.Context(), req.UserID); err != nil {
		s.handleError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.chat.Stats(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		s.handleError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps an error to its HTTP status and stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, persona.ErrInvalidPersona):
		return http.StatusBadRequest, "invalid_persona"
	case errors.Is(err, chat.ErrGeneration):
		return http.StatusBadGateway, "generation_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// handleError logs server side failures and writes the error response.
// Details of 5xx errors stay in the log.
func (s *Server) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status < http.StatusInternalServerError {
		respondError(w, status, code, err.Error())
		return
	}

	logger := logging.From(ctx)
	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.Error("HTTP error", "status", status, "error", err.Error(), "values", ge.Values())
	} else {
		logger.Error("HTTP error", "status", status, "error", err.Error())
	}
	respondError(w, status, code, http.StatusText(status))
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 120 * time.Second
	// pings go out well inside the idle window so quiet clients stay connected
	wsPingInterval = wsIdleTimeout * 9 / 10
)
