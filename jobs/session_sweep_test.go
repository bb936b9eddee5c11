package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/vvakhlyuev-work/directory-fortress-core/internal/jobs"
	"github.com/vvakhlyuev-work/directory-fortress-core/internal/rbac"
)

func sweepSession(id string, state rbac.SessionState, lastAccess time.Time, timeout time.Duration) *rbac.Session {
	return &rbac.Session{
		ID:         id,
		UserID:     "alice",
		Active:     []string{"clerk"},
		CreatedAt:  lastAccess,
		LastAccess: lastAccess,
		Timeout:    timeout,
		State:      state,
	}
}

func TestSweepRemovesDeadSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

	store := rbac.NewMemorySessionStore()
	require.NoError(t, store.Save(ctx, sweepSession("live", rbac.StateCreated, now.Add(-time.Minute), 30*time.Minute)))
	require.NoError(t, store.Save(ctx, sweepSession("idle", rbac.StateCreated, now.Add(-time.Hour), 30*time.Minute)))
	require.NoError(t, store.Save(ctx, sweepSession("flipped", rbac.StateExpired, now, 30*time.Minute)))
	require.NoError(t, store.Save(ctx, sweepSession("closed", rbac.StateClosed, now, 0)))
	require.NoError(t, store.Save(ctx, sweepSession("unbounded", rbac.StateCreated, now.Add(-24*time.Hour), 0)))

	sweeper := NewSweeper(store, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	sweeper.now = func() time.Time { return now }

	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	_, err = store.Get(ctx, "live")
	require.NoError(t, err)
	_, err = store.Get(ctx, "unbounded")
	require.NoError(t, err)

	for _, id := range []string{"idle", "flipped", "closed"} {
		_, err = store.Get(ctx, id)
		require.ErrorIs(t, err, rbac.ErrSessionNotFound, id)
	}

	// A second pass finds nothing left to do.
	removed, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestSweepHandlerRunsTask(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

	store := rbac.NewMemorySessionStore()
	require.NoError(t, store.Save(ctx, sweepSession("closed", rbac.StateClosed, now, 0)))

	sweeper := NewSweeper(store, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	sweeper.now = func() time.Time { return now }
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())

	task, err := NewSessionSweepTask(SessionSweepPayload{Reason: "test"})
	require.NoError(t, err)
	require.NoError(t, SweepHandler(sweeper, metrics)(ctx, task))

	_, err = store.Get(ctx, "closed")
	require.ErrorIs(t, err, rbac.ErrSessionNotFound)

	bad := asynq.NewTask(TaskSessionSweep, []byte("{"))
	err = SweepHandler(sweeper, metrics)(ctx, bad)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
