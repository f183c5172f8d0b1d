// Package api exposes the document-chat service over HTTP. Every endpoint
// is scoped to the signed session cookie: uploads feed the session's
// vector collection and chat answers are grounded on it.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"docchat/internal/engine"
	"docchat/internal/ingest"
	"docchat/internal/session"
)

// Ingester turns an uploaded file into embeddable chunks.
type Ingester interface {
	Ingest(data []byte, filename string, format ingest.Format) ([]ingest.Chunk, error)
}

// VectorStore writes chunks into a named collection.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, chunks []ingest.Chunk) error
}

// Answerer produces a grounded reply for one question.
type Answerer interface {
	Answer(ctx context.Context, req engine.Request) (*engine.Response, error)
}

// ServerConfig contains configuration for creating the HTTP server.
type ServerConfig struct {
	Logger   *slog.Logger
	Store    session.Store // Required
	Pipeline Ingester      // Required
	Vectors  VectorStore   // Required
	Engine   Answerer      // Required

	UploadDir      string
	MaxUploadBytes int64
	CookieSecret   []byte // Required: 32+ bytes
	SessionTTL     time.Duration
	CORSOrigins    []string
	IsDev          bool // Allows cookies without the Secure flag

	// Ready reports whether dependencies are reachable. nil means always ready.
	Ready func(ctx context.Context) error
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("ingest pipeline is required")
	}
	if cfg.Vectors == nil {
		return nil, errors.New("vector store is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if len(cfg.CookieSecret) < 32 {
		return nil, errors.New("cookie secret must be at least 32 bytes")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}

	sm := &sessionManager{
		store:      cfg.Store,
		hmacSecret: cfg.CookieSecret,
		ttl:        ttl,
		isDev:      cfg.IsDev,
		logger:     logger,
	}

	uh := &uploadHandler{
		sessions:  sm,
		pipeline:  cfg.Pipeline,
		vectors:   cfg.Vectors,
		uploadDir: cfg.UploadDir,
		maxBytes:  maxUpload,
		logger:    logger,
	}
	ch := &chatHandler{
		sessions: sm,
		engine:   cfg.Engine,
		logger:   logger,
	}
	fh := &filesHandler{
		sessions: sm,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload", uh.upload)
	mux.HandleFunc("POST /api/chat", ch.send)
	mux.HandleFunc("GET /api/files", fh.list)

	// Middleware stack, outermost first: Recovery → Logging → CORS → Routes.
	var handler http.Handler = mux
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Ready))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// health is a liveness probe. Returns 200 OK with {"status":"ok"}.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether dependencies are reachable.
func readiness(check func(ctx context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"reason": err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}
