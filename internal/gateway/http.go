package gateway

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/logging"
)

// Handler returns the HTTP routes with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return isOriginAllowed(origin, s.cfg.AllowedOrigins)
		},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Route("/api/openai", func(r chi.Router) {
		r.Get("/status", s.handleOpenAIStatus)
		r.Post("/validate", s.handleOpenAIValidate)
	})
	r.NotFound(handleNotFound)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health())
}

func (s *Server) handleOpenAIStatus(w http.ResponseWriter, r *http.Request) {
	if s.openai == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "openai is not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.openai.Status())
}

type validateRequest struct {
	APIKey string `json:"apiKey"`
}

type validateResponse struct {
	IsValid bool   `json:"isValid"`
	Error   string `json:"error,omitempty"`
}

// handleOpenAIValidate checks a key and, when it works, makes it the active one.
func (s *Server) handleOpenAIValidate(w http.ResponseWriter, r *http.Request) {
	if s.openai == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "openai is not configured"})
		return
	}

	var req validateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil || strings.TrimSpace(req.APIKey) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "apiKey is required"})
		return
	}

	err := s.openai.SetAPIKey(r.Context(), strings.TrimSpace(req.APIKey))
	var be *domain.BackendError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, validateResponse{IsValid: true})
	case errors.As(err, &be), errors.Is(err, domain.ErrBackendUnavailable):
		writeJSON(w, http.StatusOK, validateResponse{IsValid: false, Error: err.Error()})
	default:
		s.log.Error().Err(err).Msg("api key validation failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "validation failed"})
	}
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requestIDMiddleware echoes or assigns X-Request-ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Msg("http request")
		})
	}
}

// statusWriter captures the response status. It keeps Hijack reachable so
// the WebSocket upgrade still works behind the logger.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
