// Package unresolved records city queries that matched nothing.
package unresolved

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/chadmayfield/rainfalld/internal/observability"
	"github.com/chadmayfield/rainfalld/internal/store"
)

// Sink receives failed lookups. Implementations must not fail the caller.
type Sink interface {
	Notify(ctx context.Context, name, code string)
}

// Notifier appends unresolved queries to a store.Store, skipping queries
// already logged with the same name (case-insensitive) and code.
//
// The check only fires when the query carries a code: a name-only miss
// never matches an existing entry, so repeated name-only misses each
// append a new entry.
type Notifier struct {
	log     store.Store
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	breaker *gobreaker.CircuitBreaker

	mu sync.Mutex // guards the check-then-append sequence
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClock sets the time source for entry timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

// WithBreaker stops touching the log after failures consecutive errors,
// for timeout, before trying again.
func WithBreaker(failures uint32, timeout time.Duration) Option {
	return func(n *Notifier) {
		n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "unresolved-log",
			Timeout: timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				n.logger.Warn("unresolved log breaker state changed",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
}

// NewNotifier creates a notifier writing to log.
func NewNotifier(log store.Store, logger *slog.Logger, m *observability.Metrics, opts ...Option) *Notifier {
	n := &Notifier{
		log:     log,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		metrics: m,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

const (
	outcomeLogged    = "logged"
	outcomeDuplicate = "duplicate"
	outcomeError     = "error"
	outcomeSkipped   = "skipped"
)

// Notify records a miss for name and code. Empty strings mean the field was
// absent. Log I/O failures are logged and counted; they never reach the caller.
func (n *Notifier) Notify(ctx context.Context, name, code string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	run := func() (any, error) {
		outcome, err := n.record(ctx, name, code)
		return outcome, err
	}

	var (
		res any
		err error
	)
	if n.breaker != nil {
		res, err = n.breaker.Execute(run)
	} else {
		res, err = run()
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		n.metrics.UnresolvedNotifications.WithLabelValues(outcomeSkipped).Inc()
		n.logger.Debug("unresolved log unavailable, dropping entry", "name", name, "code", code)
	case err != nil:
		n.metrics.UnresolvedNotifications.WithLabelValues(outcomeError).Inc()
		n.logger.Error("failed to record unresolved query", "name", name, "code", code, "error", err)
	default:
		outcome, _ := res.(string)
		n.metrics.UnresolvedNotifications.WithLabelValues(outcome).Inc()
		if outcome == outcomeLogged {
			n.logger.Info("unresolved query recorded", "name", name, "code", code)
		}
	}
}

func (n *Notifier) record(ctx context.Context, name, code string) (string, error) {
	if code != "" {
		existing, err := n.log.GetUnresolvedByCode(ctx, code)
		if err != nil {
			return "", err
		}
		for _, e := range existing {
			if e.Code == code && strings.EqualFold(e.Name, name) {
				return outcomeDuplicate, nil
			}
		}
	}

	entry := &store.UnresolvedQuery{
		Name:      name,
		Code:      code,
		CreatedAt: n.clock.Now().UTC(),
	}
	if err := n.log.SaveUnresolved(ctx, entry); err != nil {
		return "", err
	}
	return outcomeLogged, nil
}
