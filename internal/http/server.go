package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sgrouter/pkg/rpc"
	"sgrouter/pkg/store"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
)

// Server serves batch collection endpoints over an entity store.
type Server struct {
	store      *store.Entities
	gatherer   prometheus.Gatherer
	encoder    *zstd.Encoder
	log        *slog.Logger
	httpServer *http.Server
	URL        string
	addr       string
	name       string
}

type Option func(*Server)

// WithGatherer exposes g on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithName sets the node name reported by /health and in logs.
func WithName(name string) Option {
	return func(s *Server) { s.name = name }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a new server instance
func NewServer(entities *store.Entities, port string, opts ...Option) (*Server, error) {
	if port == "" {
		port = defaultHTTPPort
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	s := &Server{
		store:    entities,
		gatherer: prometheus.DefaultGatherer,
		encoder:  enc,
		log:      slog.Default(),
		URL:      "http://localhost:" + port,
		addr:     ":" + port,
		name:     "localhost:" + port,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.createRouter()
}

// Start starts the server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", "error", err)
		}
	}()

	s.log.Info("HTTP server started", "addr", s.URL, "node", s.name)
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	defer s.encoder.Close()
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLog, zstdBody)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/{resource}", func(r chi.Router) {
		r.Get("/", s.handleBatchGet)
		r.Delete("/", s.handleBatchDelete)
		r.Put("/", s.handleBatchUpdate)
		r.Patch("/", s.handleBatchPatch)
		r.Post("/", s.handleCreate)
		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handlePut)
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		s.log.Warn("Error encoding response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	if strings.Contains(r.Header.Get("Accept-Encoding"), "zstd") {
		body = s.encoder.EncodeAll(body, make([]byte, 0, len(body)))
		w.Header().Set("Content-Encoding", "zstd")
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.log.Warn("Error writing response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, NewOKResponse(s.name))
}

// requestLog logs every request with the call and sub-request ids it carries.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request served",
			"node", s.name,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Header.Get(rpc.HeaderRequestID),
			"sub_request_id", r.Header.Get(rpc.HeaderSubRequestID),
			"took", time.Since(start))
	})
}

// zstdBody transparently decodes zstd request bodies.
func zstdBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "zstd" || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		dec, err := zstd.NewReader(r.Body)
		if err != nil {
			http.Error(w, "bad zstd body", http.StatusBadRequest)
			return
		}
		defer dec.Close()
		r.Body = io.NopCloser(dec)
		r.Header.Del("Content-Encoding")
		next.ServeHTTP(w, r)
	})
}
