// Package server exposes the document analysis pipeline over HTTP.
// Section processing is asynchronous: a process call initializes a job
// and spawns the run, and clients follow progress on an SSE stream.
// File processing streams pipeline progress on the request itself.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/ingest"
	"github.com/magpielabs/magpie/pkg/observability"
	"github.com/magpielabs/magpie/pkg/section"
)

const op = "server"

// SectionService is the section orchestration surface the server
// drives. *section.Orchestrator implements it.
type SectionService interface {
	Init(ctx context.Context, req section.Request) (string, error)
	Run(ctx context.Context, sectionID, namespace string) error
	Abort(ctx context.Context, sectionID, processingID, namespace string) error
	Stream(ctx context.Context, sectionID, namespace string) (<-chan section.Event, func(), error)
}

// IngestService is the file pipeline surface the server drives.
// *ingest.Engine implements it.
type IngestService interface {
	ProcessFile(ctx context.Context, fileID, namespace string, onProgress ingest.ProgressFunc) error
	DeleteFile(ctx context.Context, fileID, namespace string) error
	IngestWeb(ctx context.Context, pageURL, namespace string, onProgress ingest.ProgressFunc) (string, error)
}

// Deps are the services the server exposes. Both are required.
type Deps struct {
	Sections SectionService
	Ingest   IngestService
}

// Server is the HTTP and SSE surface.
type Server struct {
	deps   Deps
	cfg    *config.ServerConfig
	obs    *observability.Manager
	logger *slog.Logger

	httpServer *http.Server

	// runCtx parents background section runs so they survive the
	// request that spawned them and stop on shutdown.
	runCtx   context.Context
	stopRuns context.CancelFunc
	runs     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithObservability sets the observability manager serving /metrics
// and the HTTP middleware.
func WithObservability(m *observability.Manager) Option {
	return func(s *Server) { s.obs = m }
}

// New builds a Server from its services and configuration.
func New(deps Deps, cfg *config.ServerConfig, opts ...Option) (*Server, error) {
	if deps.Sections == nil || deps.Ingest == nil {
		return nil, fault.New(fault.KindValidation, "server is missing a required service")
	}
	if cfg == nil {
		cfg = &config.ServerConfig{}
	}
	cfg.SetDefaults()

	runCtx, stopRuns := context.WithCancel(context.Background())
	s := &Server{
		deps:     deps,
		cfg:      cfg,
		obs:      observability.Noop(),
		logger:   slog.Default(),
		runCtx:   runCtx,
		stopRuns: stopRuns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(observability.HTTPMiddleware(s.obs))
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.obs.MetricsHandler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireNamespace)

		r.Route("/sections/{id}", func(r chi.Router) {
			r.Post("/process", s.handleSectionProcess)
			r.Get("/stream", s.handleSectionStream)
			r.Post("/abort", s.handleSectionAbort)
		})

		r.Post("/files/{id}/process", s.handleFileProcess)
		r.Delete("/files/{id}", s.handleFileDelete)
		r.Post("/web", s.handleWebIngest)
	})

	return r
}

// Start serves HTTP until Shutdown is called or the listener fails.
// Requests inherit ctx as their base context.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Address(),
		Handler: s.Handler(),
		// Only the header read is bounded. A body or write deadline
		// would sever long-lived SSE streams.
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("http server listening", "address", s.cfg.Address())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fault.Wrap(fault.KindInternal, op, err)
	}
	return nil
}

// Shutdown cancels background section runs, waits for them within the
// ctx deadline, then drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopRuns()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached with section runs still active")
	}

	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fault.Wrap(fault.KindInternal, op, err)
	}
	return nil
}

// spawnRun executes a section run in the background and records its
// terminal stage.
func (s *Server) spawnRun(sectionID, namespace string) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()

		started := time.Now()
		err := s.deps.Sections.Run(s.runCtx, sectionID, namespace)

		stage := section.StageComplete
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), fault.IsKind(err, fault.KindCancelled):
			stage = section.StageCancelled
		default:
			stage = section.StageError
		}
		s.obs.Metrics().RecordSectionRun(context.Background(), stage, time.Since(started))
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// cors applies the configured origin allowlist. "*" allows any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := allowOrigin(s.cfg.AllowedOrigins, r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Namespace")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func allowOrigin(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if a == origin {
			return origin
		}
	}
	return ""
}
