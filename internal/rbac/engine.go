package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vvakhlyuev-work/directory-fortress-core/internal/observability"
)

// Engine bundles the policy components over one hierarchy and one store,
// for hosts that want the whole decision surface wired in a single call.
// Each component remains independently constructible.
type Engine struct {
	Graph       *RoleGraph
	Scope       *DelegatedScope
	Constraints *ConstraintValidator
	Sessions    *SessionManager
	Access      *AccessDecisionEngine
	Admin       *AdminService
}

// NewEngine builds the hierarchy and org-unit trees from the store and
// wires every component against them.
func NewEngine(ctx context.Context, store PolicyStore, sessions SessionStore, log *slog.Logger, metrics *observability.Metrics, opts SessionManagerOptions) (*Engine, error) {
	rels, err := store.LoadRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	graph, err := BuildGraph(rels)
	if err != nil {
		return nil, fmt.Errorf("build hierarchy: %w", err)
	}
	scope, err := BuildDelegatedScope(ctx, store)
	if err != nil {
		return nil, err
	}

	constraints := NewConstraintValidator(graph, store)
	return &Engine{
		Graph:       graph,
		Scope:       scope,
		Constraints: constraints,
		Sessions:    NewSessionManager(graph, constraints, store, sessions, log, metrics, opts),
		Access:      NewAccessDecisionEngine(graph, store, sessions, log, metrics),
		Admin:       NewAdminService(graph, scope, constraints, store, log, metrics),
	}, nil
}
