package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newAdminService(t *testing.T, store PolicyStore, graph *RoleGraph) *AdminService {
	t.Helper()
	scope := NewDelegatedScope(NewRoleGraph(), NewRoleGraph())
	constraints := NewConstraintValidator(graph, store)
	return NewAdminService(graph, scope, constraints, store, testLogger(), nil)
}

func TestCreateRoleValidatesAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newAdminService(t, store, NewRoleGraph())

	require.NoError(t, svc.CreateRole(ctx, Role{Name: "auditor", Description: "reads everything"}))

	err := svc.CreateRole(ctx, Role{Name: "auditor"})
	require.ErrorIs(t, err, ErrAlreadyExists)

	err = svc.CreateRole(ctx, Role{Name: ""})
	require.ErrorIs(t, err, ErrInvalidInput)

	err = svc.CreateRole(ctx, Role{Name: "bad\nname"})
	require.ErrorIs(t, err, ErrInvalidInput)

	err = svc.CreateRole(ctx, Role{Name: "inverted", Constraint: &TemporalConstraint{
		BeginDate: ptrTime(date(2026, time.June, 1, 0, 0)),
		EndDate:   ptrTime(date(2026, time.May, 1, 0, 0)),
	}})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateRolePreservesCreationTime(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newAdminService(t, store, NewRoleGraph())

	require.NoError(t, svc.CreateRole(ctx, Role{Name: "auditor"}))
	created, err := svc.ReadRole(ctx, "auditor")
	require.NoError(t, err)

	require.NoError(t, svc.UpdateRole(ctx, Role{Name: "auditor", Description: "updated"}))
	updated, err := svc.ReadRole(ctx, "auditor")
	require.NoError(t, err)
	require.Equal(t, created.CreatedAt, updated.CreatedAt)
	require.Equal(t, "updated", updated.Description)

	err = svc.UpdateRole(ctx, Role{Name: "ghost"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRoleRequiresDetachedRole(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	graph := NewRoleGraph()
	svc := newAdminService(t, store, graph)

	require.NoError(t, svc.CreateRole(ctx, Role{Name: "senior"}))
	require.NoError(t, svc.CreateRole(ctx, Role{Name: "junior"}))
	require.NoError(t, svc.AddInheritance(ctx, "senior", "junior"))

	err := svc.DeleteRole(ctx, "junior")
	require.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, svc.DeleteInheritance(ctx, "senior", "junior"))
	require.NoError(t, svc.DeleteRole(ctx, "junior"))

	_, err = svc.ReadRole(ctx, "junior")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddInheritancePersistsRelationship(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	graph := NewRoleGraph()
	svc := newAdminService(t, store, graph)

	require.NoError(t, svc.AddInheritance(ctx, "senior", "junior"))

	rels, err := store.LoadRelationships(ctx)
	require.NoError(t, err)
	require.Equal(t, []Relationship{{Parent: "senior", Child: "junior"}}, rels)
	require.True(t, graph.IsAscendant("senior", "junior"))

	err = svc.AddInheritance(ctx, "junior", "senior")
	require.ErrorIs(t, err, ErrHierarchy)
}

type failingRelStore struct {
	*MemoryStore
}

func (s *failingRelStore) SaveRelationship(context.Context, Relationship) error {
	return errors.New("store down")
}

func TestAddInheritanceRollsBackGraphOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	graph := NewRoleGraph()
	svc := newAdminService(t, &failingRelStore{NewMemoryStore()}, graph)

	err := svc.AddInheritance(ctx, "senior", "junior")
	require.Error(t, err)
	require.False(t, graph.IsAscendant("senior", "junior"))
	require.Equal(t, 0, graph.Len())
}

func TestAssignUserEnforcesStaticSeparation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newAdminService(t, store, NewRoleGraph())

	require.NoError(t, svc.CreateRole(ctx, Role{Name: "cashier"}))
	require.NoError(t, svc.CreateRole(ctx, Role{Name: "auditor"}))
	require.NoError(t, svc.CreateSdSet(ctx, SDSet{
		Name:        "payments",
		Kind:        StaticConstraint,
		Members:     []string{"cashier", "auditor"},
		Cardinality: 2,
	}))

	require.NoError(t, svc.AssignUser(ctx, UserRoleAssignment{UserID: "alice", Role: "cashier"}))

	err := svc.AssignUser(ctx, UserRoleAssignment{UserID: "alice", Role: "auditor"})
	require.ErrorIs(t, err, ErrSsdViolation)

	// Another user is unaffected.
	require.NoError(t, svc.AssignUser(ctx, UserRoleAssignment{UserID: "bob", Role: "auditor"}))

	err = svc.AssignUser(ctx, UserRoleAssignment{UserID: "alice", Role: "cashier"})
	require.ErrorIs(t, err, ErrAlreadyExists)

	err = svc.AssignUser(ctx, UserRoleAssignment{UserID: "alice", Role: "ghost"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSdSetEnforcementIsProspective(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newAdminService(t, store, NewRoleGraph())

	require.NoError(t, svc.CreateRole(ctx, Role{Name: "cashier"}))
	require.NoError(t, svc.CreateRole(ctx, Role{Name: "auditor"}))
	require.NoError(t, svc.AssignUser(ctx, UserRoleAssignment{UserID: "alice", Role: "cashier"}))
	require.NoError(t, svc.AssignUser(ctx, UserRoleAssignment{UserID: "alice", Role: "auditor"}))

	// Defining the set afterwards leaves the existing pair in place but
	// blocks the next grab of a member.
	require.NoError(t, svc.CreateSdSet(ctx, SDSet{
		Name:        "payments",
		Kind:        StaticConstraint,
		Members:     []string{"cashier", "auditor", "teller"},
		Cardinality: 2,
	}))

	assigned, err := svc.AssignedRoles(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, assigned, 2)

	require.NoError(t, svc.CreateRole(ctx, Role{Name: "teller"}))
	err = svc.AssignUser(ctx, UserRoleAssignment{UserID: "alice", Role: "teller"})
	require.ErrorIs(t, err, ErrSsdViolation)
}

func TestCreateSdSetValidatesCardinality(t *testing.T) {
	ctx := context.Background()
	svc := newAdminService(t, NewMemoryStore(), NewRoleGraph())

	err := svc.CreateSdSet(ctx, SDSet{
		Name:        "oversized",
		Kind:        StaticConstraint,
		Members:     []string{"a", "b"},
		Cardinality: 3,
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	err = svc.CreateSdSet(ctx, SDSet{
		Name:        "single",
		Kind:        StaticConstraint,
		Members:     []string{"a"},
		Cardinality: 1,
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSdSetLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newAdminService(t, store, NewRoleGraph())

	set := SDSet{
		Name:        "payments",
		Kind:        StaticConstraint,
		Members:     []string{"cashier", "auditor"},
		Cardinality: 2,
	}
	require.NoError(t, svc.CreateSdSet(ctx, set))

	err := svc.CreateSdSet(ctx, set)
	require.ErrorIs(t, err, ErrAlreadyExists)

	// A dynamic set with the same name is a distinct object.
	dynamic := set
	dynamic.Kind = DynamicConstraint
	require.NoError(t, svc.CreateSdSet(ctx, dynamic))

	set.Members = []string{"cashier", "auditor", "teller"}
	set.Cardinality = 3
	require.NoError(t, svc.UpdateSdSet(ctx, set))

	sets, err := store.LoadSsdSets(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	require.Equal(t, 3, sets[0].Cardinality)

	err = svc.UpdateSdSet(ctx, SDSet{
		Name:        "ghost",
		Kind:        StaticConstraint,
		Members:     []string{"a", "b"},
		Cardinality: 2,
	})
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.DeleteSdSet(ctx, "payments", StaticConstraint))
	err = svc.DeleteSdSet(ctx, "payments", StaticConstraint)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeassignUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newAdminService(t, store, NewRoleGraph())

	require.NoError(t, svc.CreateRole(ctx, Role{Name: "clerk"}))
	require.NoError(t, svc.AssignUser(ctx, UserRoleAssignment{UserID: "alice", Role: "clerk"}))
	require.NoError(t, svc.DeassignUser(ctx, "alice", "clerk"))

	err := svc.DeassignUser(ctx, "alice", "clerk")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGrantAndRevokePermission(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newAdminService(t, store, NewRoleGraph())

	perm := Permission{ObjectName: "report", OperationName: "read"}

	err := svc.GrantPermission(ctx, perm, "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.CreateRole(ctx, Role{Name: "clerk"}))
	require.NoError(t, svc.GrantPermission(ctx, perm, "clerk"))

	grantees, err := store.LoadPermissionGrantees(ctx, perm)
	require.NoError(t, err)
	require.Equal(t, []string{"clerk"}, grantees)

	require.NoError(t, svc.RevokePermission(ctx, perm, "clerk"))
	err = svc.RevokePermission(ctx, perm, "clerk")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAuthorizedRolesExpandsHierarchy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	graph := NewRoleGraph()
	svc := newAdminService(t, store, graph)

	require.NoError(t, svc.CreateRole(ctx, Role{Name: "senior"}))
	require.NoError(t, svc.CreateRole(ctx, Role{Name: "mid"}))
	require.NoError(t, svc.CreateRole(ctx, Role{Name: "junior"}))
	require.NoError(t, svc.AddInheritance(ctx, "senior", "mid"))
	require.NoError(t, svc.AddInheritance(ctx, "mid", "junior"))
	require.NoError(t, svc.AssignUser(ctx, UserRoleAssignment{UserID: "alice", Role: "senior"}))

	authorized, err := svc.AuthorizedRoles(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"junior", "mid", "senior"}, authorized)
}

func TestRolePermissionsIncludeInheritedGrants(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	graph := NewRoleGraph()
	svc := newAdminService(t, store, graph)

	require.NoError(t, svc.CreateRole(ctx, Role{Name: "senior"}))
	require.NoError(t, svc.CreateRole(ctx, Role{Name: "junior"}))
	require.NoError(t, svc.AddInheritance(ctx, "senior", "junior"))

	readReport := Permission{ObjectName: "report", OperationName: "read"}
	writeReport := Permission{ObjectName: "report", OperationName: "write"}
	require.NoError(t, svc.GrantPermission(ctx, readReport, "junior"))
	require.NoError(t, svc.GrantPermission(ctx, writeReport, "senior"))

	perms, err := svc.RolePermissions(ctx, "senior")
	require.NoError(t, err)
	require.Len(t, perms, 2)

	perms, err = svc.RolePermissions(ctx, "junior")
	require.NoError(t, err)
	require.Len(t, perms, 1)
	require.Equal(t, readReport, perms[0])
}
