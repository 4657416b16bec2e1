package unresolved

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadmayfield/rainfalld/internal/observability"
	"github.com/chadmayfield/rainfalld/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryLog is an in-memory store.Store with injectable failures.
type memoryLog struct {
	mu       sync.Mutex
	entries  []store.UnresolvedQuery
	readErr  error
	writeErr error
	reads    int
}

func (m *memoryLog) SaveUnresolved(_ context.Context, q *store.UnresolvedQuery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	q.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *q)
	return nil
}

func (m *memoryLog) GetUnresolved(_ context.Context, _ int) ([]store.UnresolvedQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.UnresolvedQuery(nil), m.entries...), nil
}

func (m *memoryLog) GetUnresolvedByCode(_ context.Context, code string) ([]store.UnresolvedQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	var out []store.UnresolvedQuery
	for _, e := range m.entries {
		if e.Code == code {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryLog) CountUnresolved(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *memoryLog) Close() error { return nil }

func (m *memoryLog) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestNotify_AppendsWithTimestamp(t *testing.T) {
	log := &memoryLog{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
	n := NewNotifier(log, discardLogger(), observability.NewMetricsForTesting(), WithClock(clock))

	n.Notify(context.Background(), "Atlantis", "123")

	require.Len(t, log.entries, 1)
	assert.Equal(t, "Atlantis", log.entries[0].Name)
	assert.Equal(t, "123", log.entries[0].Code)
	assert.Equal(t, clock.Now(), log.entries[0].CreatedAt)
}

func TestNotify_DeduplicatesNameAndCode(t *testing.T) {
	log := &memoryLog{}
	m := observability.NewMetricsForTesting()
	n := NewNotifier(log, discardLogger(), m)
	ctx := context.Background()

	n.Notify(ctx, "Atlantis", "123")
	n.Notify(ctx, "ATLANTIS", "123")
	n.Notify(ctx, "atlantis", "123")

	assert.Equal(t, 1, log.len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UnresolvedNotifications.WithLabelValues("logged")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.UnresolvedNotifications.WithLabelValues("duplicate")))
}

func TestNotify_DifferentCodeIsNewEntry(t *testing.T) {
	log := &memoryLog{}
	n := NewNotifier(log, discardLogger(), observability.NewMetricsForTesting())
	ctx := context.Background()

	n.Notify(ctx, "Atlantis", "123")
	n.Notify(ctx, "Atlantis", "456")
	n.Notify(ctx, "Lemuria", "123")

	assert.Equal(t, 3, log.len())
}

// A name-only miss can never satisfy the code half of the duplicate check,
// so every repeat is appended.
func TestNotify_NameOnlyNeverDeduplicates(t *testing.T) {
	log := &memoryLog{}
	n := NewNotifier(log, discardLogger(), observability.NewMetricsForTesting())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n.Notify(ctx, "X", "")
	}

	assert.Equal(t, 3, log.len())
	assert.Zero(t, log.reads, "no lookup is needed without a code")
}

func TestNotify_CodeOnlyDeduplicates(t *testing.T) {
	log := &memoryLog{}
	n := NewNotifier(log, discardLogger(), observability.NewMetricsForTesting())
	ctx := context.Background()

	n.Notify(ctx, "", "777")
	n.Notify(ctx, "", "777")

	assert.Equal(t, 1, log.len())
}

func TestNotify_ReadFailureIsSwallowed(t *testing.T) {
	log := &memoryLog{readErr: errors.New("disk on fire")}
	m := observability.NewMetricsForTesting()
	n := NewNotifier(log, discardLogger(), m)

	assert.NotPanics(t, func() { n.Notify(context.Background(), "Atlantis", "123") })
	assert.Equal(t, 0, log.len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UnresolvedNotifications.WithLabelValues("error")))
}

func TestNotify_WriteFailureIsSwallowed(t *testing.T) {
	log := &memoryLog{writeErr: errors.New("read-only filesystem")}
	m := observability.NewMetricsForTesting()
	n := NewNotifier(log, discardLogger(), m)

	n.Notify(context.Background(), "Atlantis", "")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UnresolvedNotifications.WithLabelValues("error")))
}

func TestNotify_BreakerOpensAfterFailures(t *testing.T) {
	log := &memoryLog{readErr: errors.New("db down")}
	m := observability.NewMetricsForTesting()
	n := NewNotifier(log, discardLogger(), m, WithBreaker(2, time.Hour))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		n.Notify(ctx, "Atlantis", "123")
	}

	assert.Equal(t, 2, log.reads, "breaker should stop calls after two failures")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.UnresolvedNotifications.WithLabelValues("error")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.UnresolvedNotifications.WithLabelValues("skipped")))
}

func TestNotify_ConcurrentCallsKeepDedup(t *testing.T) {
	log := &memoryLog{}
	n := NewNotifier(log, discardLogger(), observability.NewMetricsForTesting())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Notify(context.Background(), "Atlantis", "123")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, log.len())
}

func TestNotify_WithSQLiteStore(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	n := NewNotifier(s, discardLogger(), observability.NewMetricsForTesting())
	ctx := context.Background()

	n.Notify(ctx, "São Tomé", "999")
	n.Notify(ctx, "SÃO TOMÉ", "999")
	n.Notify(ctx, "Atlantis", "")
	n.Notify(ctx, "Atlantis", "")

	count, err := s.CountUnresolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
