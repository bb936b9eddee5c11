package rbac

import (
	"context"
	"fmt"
)

// DelegatedScope answers ARBAC02 scoping questions: whether a target org
// unit falls inside the subtree a delegated administrator was granted.
// Both trees are plain RoleGraph instances, so acyclicity and closure
// caching come for free.
type DelegatedScope struct {
	userTree *RoleGraph
	permTree *RoleGraph
}

// BuildDelegatedScope loads both org-unit trees from the store.
func BuildDelegatedScope(ctx context.Context, store PolicyStore) (*DelegatedScope, error) {
	userRels, err := store.LoadOrgUnitRelationships(ctx, UserOU)
	if err != nil {
		return nil, fmt.Errorf("load user org tree: %w", err)
	}
	userTree, err := BuildGraph(userRels)
	if err != nil {
		return nil, fmt.Errorf("build user org tree: %w", err)
	}
	permRels, err := store.LoadOrgUnitRelationships(ctx, PermOU)
	if err != nil {
		return nil, fmt.Errorf("load perm org tree: %w", err)
	}
	permTree, err := BuildGraph(permRels)
	if err != nil {
		return nil, fmt.Errorf("build perm org tree: %w", err)
	}
	return &DelegatedScope{userTree: userTree, permTree: permTree}, nil
}

// NewDelegatedScope wraps two prebuilt trees, mainly for tests.
func NewDelegatedScope(userTree, permTree *RoleGraph) *DelegatedScope {
	return &DelegatedScope{userTree: userTree, permTree: permTree}
}

// Tree returns the graph backing the given pool.
func (d *DelegatedScope) Tree(typ OrgUnitType) *RoleGraph {
	if typ == PermOU {
		return d.permTree
	}
	return d.userTree
}

// WithinScope reports whether target is the delegated root itself or any
// org unit junior to it in the given pool's tree.
func (d *DelegatedScope) WithinScope(typ OrgUnitType, target, delegatedRoot string) bool {
	tk, rk := Key(target), Key(delegatedRoot)
	if tk == rk {
		return true
	}
	return d.Tree(typ).IsAscendant(rk, tk)
}
