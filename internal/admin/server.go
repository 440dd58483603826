// Package admin exposes a small operational HTTP API for a running sink.
//
// Routes:
//
//	GET  /healthz  → liveness plus the coordinator state
//	GET  /tables   → the current schema generation as JSON
//	POST /reload   → request a schema reload before the next cycle
//	POST /records  → enqueue newline-separated records on the upstream channel
package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tablesink/internal/logging"
	"tablesink/internal/registry"
	"tablesink/internal/upstream"
)

// MaxRecordsBody bounds a POST /records body.
const MaxRecordsBody = 8 << 20

// Generations exposes the current schema generation. *registry.Registry
// satisfies it.
type Generations interface {
	Current() *registry.Generation
}

// ReloadRequester is satisfied by *reload.Scheduler.
type ReloadRequester interface {
	RequestReload()
}

// Enqueuer is satisfied by *upstream.Channel.
type Enqueuer interface {
	Put(ctx context.Context, rec []byte) error
	Len() int
}

// StateReporter reports the coordinator state name.
type StateReporter interface {
	StateName() string
}

// StateFunc adapts a function to StateReporter.
type StateFunc func() string

func (f StateFunc) StateName() string { return f() }

// Config wires the server to the running sink. Any dependency may be nil;
// the matching route then answers 501.
type Config struct {
	Addr     string
	Registry Generations
	Reloader ReloadRequester
	Queue    Enqueuer
	State    StateReporter
	Logger   *slog.Logger
}

// Server wraps http.Server with the admin routes.
type Server struct {
	cfg    Config
	router *chi.Mux
	server *http.Server
	logger *slog.Logger
}

// NewServer constructs a Server with routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: cfg.Logger.With("component", "admin"),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/tables", s.handleTables)
	s.router.Post("/reload", s.handleReload)
	s.router.Post("/records", s.handleRecords)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin listening", "addr", s.cfg.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context(), s.logger).Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
	Queued int    `json:"queued"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.cfg.State != nil {
		resp.State = s.cfg.State.StateName()
	}
	if s.cfg.Queue != nil {
		resp.Queued = s.cfg.Queue.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

type columnJSON struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type tableJSON struct {
	Name    string       `json:"name"`
	Columns []columnJSON `json:"columns"`
}

type tablesResponse struct {
	Generation  string      `json:"generation"`
	Fingerprint string      `json:"fingerprint"`
	LoadedAt    time.Time   `json:"loaded_at"`
	Tables      []tableJSON `json:"tables"`
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Registry == nil {
		writeError(w, http.StatusNotImplemented, "registry not configured")
		return
	}
	gen := s.cfg.Registry.Current()
	resp := tablesResponse{
		Generation:  gen.ID.String(),
		Fingerprint: strconv.FormatUint(gen.Fingerprint, 16),
		LoadedAt:    gen.LoadedAt,
		Tables:      []tableJSON{},
	}
	for _, t := range gen.Schemas() {
		tj := tableJSON{Name: t.Name, Columns: make([]columnJSON, len(t.Columns))}
		for i, c := range t.Columns {
			tj.Columns[i] = columnJSON{Name: c.Name, Kind: c.Kind.String()}
		}
		resp.Tables = append(resp.Tables, tj)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Reloader == nil {
		writeError(w, http.StatusNotImplemented, "reload not configured")
		return
	}
	s.cfg.Reloader.RequestReload()
	logging.FromContext(r.Context(), s.logger).Info("schema reload requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload requested"})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		writeError(w, http.StatusNotImplemented, "queue not configured")
		return
	}

	sc := bufio.NewScanner(http.MaxBytesReader(w, r.Body, MaxRecordsBody))
	sc.Buffer(make([]byte, 0, 64*1024), upstream.MaxLineSize)
	accepted := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := s.cfg.Queue.Put(r.Context(), line); err != nil {
			if errors.Is(err, upstream.ErrClosed) {
				writeError(w, http.StatusServiceUnavailable, "upstream closed")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		accepted++
	}
	if err := sc.Err(); err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
