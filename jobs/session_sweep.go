package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/vvakhlyuev-work/directory-fortress-core/internal/observability"
	"github.com/vvakhlyuev-work/directory-fortress-core/internal/rbac"
)

// Sweeper removes sessions that can no longer be used: idle-expired
// ones and sessions that were closed by their owner. Expiry is normally
// detected lazily on access; the sweep reclaims storage for sessions
// nobody touches again.
type Sweeper struct {
	store   rbac.SessionStore
	log     *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewSweeper constructs a Sweeper over the given session store.
func NewSweeper(store rbac.SessionStore, log *slog.Logger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{store: store, log: log, metrics: metrics, now: time.Now}
}

// Sweep walks the session store and deletes dead sessions. It returns
// the number removed. Per-session delete failures are logged and do not
// abort the walk.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	var victims []string
	err := s.store.ForEach(ctx, func(sess *rbac.Session) error {
		if sess.State == rbac.StateClosed || !sess.Alive(now) {
			victims = append(victims, sess.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range victims {
		if err := s.store.Delete(ctx, id); err != nil {
			s.log.Warn("session sweep delete", slog.String("session_id", id), slog.Any("error", err))
			continue
		}
		removed++
		s.metrics.SessionSwept()
	}
	if removed > 0 {
		s.log.Info("session sweep", slog.Int("removed", removed), slog.Int("candidates", len(victims)))
	}
	return removed, nil
}
