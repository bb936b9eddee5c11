package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vvakhlyuev-work/directory-fortress-core/internal/observability"
)

// AccessDecisionEngine answers permission-check queries against existing
// sessions. A decision is a pure function of the activated roles, the
// hierarchy and the permission grants at the instant of the call.
type AccessDecisionEngine struct {
	graph    *RoleGraph
	store    PolicyStore
	sessions SessionStore
	log      *slog.Logger
	metrics  *observability.Metrics
}

// NewAccessDecisionEngine constructs the engine.
func NewAccessDecisionEngine(graph *RoleGraph, store PolicyStore, sessions SessionStore, log *slog.Logger, metrics *observability.Metrics) *AccessDecisionEngine {
	return &AccessDecisionEngine{graph: graph, store: store, sessions: sessions, log: log, metrics: metrics}
}

// CheckAccess reports whether the session may perform the permission. A
// senior activated role authorizes anything granted to itself or to any
// role it inherits from. Absence of a grant is a normal negative result,
// never an error; only a dead session raises one.
func (e *AccessDecisionEngine) CheckAccess(ctx context.Context, sessionID string, perm Permission, now time.Time) (bool, error) {
	active, err := e.touch(ctx, sessionID, now)
	if err != nil {
		return false, err
	}

	grantees, err := e.store.LoadPermissionGrantees(ctx, perm)
	if err != nil {
		return false, fmt.Errorf("load grantees for %s: %w", perm, err)
	}
	granted := make(map[string]struct{}, len(grantees))
	for _, g := range grantees {
		granted[Key(g)] = struct{}{}
	}

	allowed := false
	for _, role := range active {
		rk := Key(role)
		if _, ok := granted[rk]; ok {
			allowed = true
			break
		}
		if e.anyDescendantGranted(rk, granted) {
			allowed = true
			break
		}
	}

	e.metrics.AccessCheck(allowed)
	e.log.Debug("access check",
		"session_id", sessionID,
		"permission", perm.String(),
		"allowed", allowed)
	return allowed, nil
}

// SessionPermissions returns every permission the session is currently
// authorized for, for introspection and audit.
func (e *AccessDecisionEngine) SessionPermissions(ctx context.Context, sessionID string, now time.Time) ([]Permission, error) {
	active, err := e.touch(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}

	reachable := make(map[string]struct{}, len(active)*2)
	for _, role := range active {
		rk := Key(role)
		reachable[rk] = struct{}{}
		for desc := range e.graph.descendants(rk) {
			reachable[desc] = struct{}{}
		}
	}
	keys := make([]string, 0, len(reachable))
	for k := range reachable {
		keys = append(keys, k)
	}

	perms, err := e.store.LoadPermissionsForRoles(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}

	seen := make(map[string]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p.Key()]; ok {
			continue
		}
		seen[p.Key()] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// touch validates liveness, refreshes the last-access stamp and returns a
// stable copy of the activated set.
func (e *AccessDecisionEngine) touch(ctx context.Context, sessionID string, now time.Time) ([]string, error) {
	var active []string
	err := e.sessions.Update(ctx, sessionID, func(s *Session) error {
		if err := liveOrFail(s, now); err != nil {
			return err
		}
		s.LastAccess = now
		active = append([]string(nil), s.Active...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return active, nil
}

func (e *AccessDecisionEngine) anyDescendantGranted(roleKey string, granted map[string]struct{}) bool {
	for desc := range e.graph.descendants(roleKey) {
		if _, ok := granted[desc]; ok {
			return true
		}
	}
	return false
}
