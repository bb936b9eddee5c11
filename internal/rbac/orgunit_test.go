package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithinScope(t *testing.T) {
	userTree := NewRoleGraph()
	require.NoError(t, userTree.AddRelationship("corp", "emea"))
	require.NoError(t, userTree.AddRelationship("emea", "berlin"))

	permTree := NewRoleGraph()
	require.NoError(t, permTree.AddRelationship("apps", "payroll"))

	scope := NewDelegatedScope(userTree, permTree)

	// The delegated root covers itself and everything junior to it.
	require.True(t, scope.WithinScope(UserOU, "emea", "emea"))
	require.True(t, scope.WithinScope(UserOU, "berlin", "emea"))
	require.True(t, scope.WithinScope(UserOU, "Berlin", "CORP"))

	// Seniority never flows upward.
	require.False(t, scope.WithinScope(UserOU, "corp", "emea"))

	// Pools are independent trees.
	require.False(t, scope.WithinScope(PermOU, "berlin", "corp"))
	require.True(t, scope.WithinScope(PermOU, "payroll", "apps"))
}

func TestBuildDelegatedScopeLoadsBothTrees(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveOrgUnitRelationship(ctx, UserOU, Relationship{Parent: "corp", Child: "emea"}))
	require.NoError(t, store.SaveOrgUnitRelationship(ctx, PermOU, Relationship{Parent: "apps", Child: "payroll"}))

	scope, err := BuildDelegatedScope(ctx, store)
	require.NoError(t, err)

	require.True(t, scope.WithinScope(UserOU, "emea", "corp"))
	require.True(t, scope.WithinScope(PermOU, "payroll", "apps"))
	require.False(t, scope.WithinScope(UserOU, "payroll", "apps"))
}

func TestAdminServiceMaintainsOrgTrees(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	graph := NewRoleGraph()
	scope := NewDelegatedScope(NewRoleGraph(), NewRoleGraph())
	svc := NewAdminService(graph, scope, NewConstraintValidator(graph, store), store, testLogger(), nil)

	require.NoError(t, svc.AddOrgUnit(ctx, OrgUnit{Name: "corp", Type: UserOU}))
	require.NoError(t, svc.AddOrgUnit(ctx, OrgUnit{Name: "emea", Type: UserOU}))
	require.NoError(t, svc.AddOrgInheritance(ctx, UserOU, "corp", "emea"))

	require.True(t, scope.WithinScope(UserOU, "emea", "corp"))

	rels, err := store.LoadOrgUnitRelationships(ctx, UserOU)
	require.NoError(t, err)
	require.Len(t, rels, 1)

	require.NoError(t, svc.DeleteOrgInheritance(ctx, UserOU, "corp", "emea"))
	require.False(t, scope.WithinScope(UserOU, "emea", "corp"))

	err = svc.DeleteOrgInheritance(ctx, UserOU, "corp", "emea")
	require.ErrorIs(t, err, ErrHierarchy)
}
