package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chadmayfield/rainfalld/internal/dataset"
	"github.com/chadmayfield/rainfalld/internal/observability"
	"github.com/chadmayfield/rainfalld/internal/resolve"
	"github.com/chadmayfield/rainfalld/internal/store"
	"github.com/chadmayfield/rainfalld/internal/unresolved"
)

// Options configures the API server.
type Options struct {
	Datasets     *dataset.Holder
	Log          store.Store
	Sink         unresolved.Sink
	Metrics      *observability.Metrics
	MeanMonths   int
	SumMonths    int
	Autocomplete resolve.AutocompleteOptions
	CORSOrigin   string // empty disables CORS headers
}

// Server is the REST API server.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	logger     *slog.Logger
}

// NewServer creates a new API server with all routes registered.
func NewServer(opts Options, logger *slog.Logger) *Server {
	h := &Handlers{
		Datasets:     opts.Datasets,
		Log:          opts.Log,
		Sink:         opts.Sink,
		Metrics:      opts.Metrics,
		Logger:       logger,
		MeanMonths:   opts.MeanMonths,
		SumMonths:    opts.SumMonths,
		Autocomplete: opts.Autocomplete,
		StartTime:    time.Now(),
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Apply middleware (outermost runs first).
	var handler http.Handler = mux
	handler = ContentType(handler)
	handler = SecurityHeaders(handler)
	handler = CORS(opts.CORSOrigin)(handler)
	handler = Logger(logger)(handler)
	handler = RequestID(handler)
	handler = Recovery(logger)(handler)

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, handlers: h, logger: logger}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe starts the HTTP server. Blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer.Addr = addr
	s.logger.Info("api server starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SetVersion sets the version string for the health endpoint.
func (s *Server) SetVersion(v string) { s.handlers.Version = v }

// SetStorageDriver sets the storage driver reported by the health endpoint.
func (s *Server) SetStorageDriver(driver string) { s.handlers.StorageDriver = driver }
