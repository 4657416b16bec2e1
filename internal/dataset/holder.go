package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/chadmayfield/rainfalld/internal/observability"
)

// Holder publishes the active Store. Readers always see a fully built
// Store; a reload replaces the pointer in one step.
type Holder struct {
	current atomic.Pointer[Store]
}

// NewHolder creates a holder serving s. A nil s is replaced by an empty store.
func NewHolder(s *Store) *Holder {
	h := &Holder{}
	if s == nil {
		s = NewStore(nil)
	}
	h.current.Store(s)
	return h
}

// Store returns the active snapshot.
func (h *Holder) Store() *Store {
	return h.current.Load()
}

// Swap installs s and returns the snapshot it replaced.
func (h *Holder) Swap(s *Store) *Store {
	return h.current.Swap(s)
}

// Reloader rebuilds the dataset from a Loader and swaps it into a Holder.
type Reloader struct {
	holder  *Holder
	loader  Loader
	logger  *slog.Logger
	metrics *observability.Metrics

	mu sync.Mutex // serializes reloads
}

// NewReloader creates a reloader.
func NewReloader(h *Holder, l Loader, logger *slog.Logger, m *observability.Metrics) *Reloader {
	return &Reloader{holder: h, loader: l, logger: logger, metrics: m}
}

// Reload loads a fresh Store and installs it. If the loader fails the
// active store stays in place and the error is returned.
func (r *Reloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.loader.Load(ctx)
	if err != nil {
		r.metrics.DatasetReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("loading dataset: %w", err)
	}

	for _, se := range s.Errors() {
		r.logger.Warn("skipping malformed dataset source", "source", se.Source, "error", se.Err)
		r.metrics.DatasetSourceErrors.Inc()
	}

	r.holder.Swap(s)
	r.metrics.DatasetReloads.WithLabelValues("success").Inc()
	r.metrics.DatasetCities.Set(float64(s.Len()))
	r.logger.Info("dataset loaded",
		"cities", s.Len(),
		"sources", len(s.Sources()),
		"skipped", len(s.Errors()),
	)
	return nil
}

// Run reloads on the given cron schedule until ctx is cancelled. An empty
// schedule disables scheduled reloads and Run just waits for ctx.
func (r *Reloader) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		<-ctx.Done()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := r.Reload(ctx); err != nil {
			r.logger.Error("scheduled dataset reload failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("parsing reload schedule %q: %w", schedule, err)
	}

	r.logger.Info("dataset reload scheduled", "schedule", schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
