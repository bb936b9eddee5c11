package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckSSDBlocksConflictingAssignment(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveSdSet(ctx, SDSet{
		Name:        "payments",
		Kind:        StaticConstraint,
		Members:     []string{"cashier", "auditor"},
		Cardinality: 2,
	}))

	v := NewConstraintValidator(NewRoleGraph(), store)

	// First role of the pair is fine.
	require.NoError(t, v.CheckSSD(ctx, "alice", "cashier", nil))

	// The second breaches the cardinality.
	err := v.CheckSSD(ctx, "alice", "auditor", []string{"cashier"})
	require.ErrorIs(t, err, ErrSsdViolation)

	var sd *SDViolation
	require.ErrorAs(t, err, &sd)
	require.Equal(t, StaticConstraint, sd.Kind)
	require.Equal(t, "payments", sd.Set)
	require.Equal(t, 2, sd.Count)

	// A different user starts fresh.
	require.NoError(t, v.CheckSSD(ctx, "bob", "auditor", nil))
}

func TestCheckSSDCountsInheritedRoles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveSdSet(ctx, SDSet{
		Name:        "payments",
		Kind:        StaticConstraint,
		Members:     []string{"cashier-lead", "auditor"},
		Cardinality: 2,
	}))

	// cashier-lead is senior to cashier: holding cashier pulls the lead
	// role into the conflict count through the hierarchy.
	graph := NewRoleGraph()
	require.NoError(t, graph.AddRelationship("cashier-lead", "cashier"))

	v := NewConstraintValidator(graph, store)

	err := v.CheckSSD(ctx, "alice", "auditor", []string{"cashier"})
	require.ErrorIs(t, err, ErrSsdViolation)
}

func TestCheckSSDCardinalityLeavesRoom(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveSdSet(ctx, SDSet{
		Name:        "approvers",
		Kind:        StaticConstraint,
		Members:     []string{"a", "b", "c"},
		Cardinality: 3,
	}))

	v := NewConstraintValidator(NewRoleGraph(), store)

	// Two of three members is permitted with cardinality 3.
	require.NoError(t, v.CheckSSD(ctx, "alice", "b", []string{"a"}))

	err := v.CheckSSD(ctx, "alice", "c", []string{"a", "b"})
	require.ErrorIs(t, err, ErrSsdViolation)
}

func TestCheckSSDIgnoresUnrelatedSets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveSdSet(ctx, SDSet{
		Name:        "payments",
		Kind:        StaticConstraint,
		Members:     []string{"cashier", "auditor"},
		Cardinality: 2,
	}))

	v := NewConstraintValidator(NewRoleGraph(), store)

	// The candidate is outside the set, so the set does not apply even
	// though a member is already held.
	require.NoError(t, v.CheckSSD(ctx, "alice", "clerk", []string{"cashier"}))
}

func TestCheckDSDGatesActivation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveSdSet(ctx, SDSet{
		Name:        "four-eyes",
		Kind:        DynamicConstraint,
		Members:     []string{"submitter", "approver"},
		Cardinality: 2,
	}))

	v := NewConstraintValidator(NewRoleGraph(), store)

	require.NoError(t, v.CheckDSD(ctx, nil, "submitter"))

	err := v.CheckDSD(ctx, []string{"submitter"}, "approver")
	require.ErrorIs(t, err, ErrDsdViolation)

	var sd *SDViolation
	require.ErrorAs(t, err, &sd)
	require.Equal(t, DynamicConstraint, sd.Kind)
}

func TestStaticAndDynamicSetsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveSdSet(ctx, SDSet{
		Name:        "four-eyes",
		Kind:        DynamicConstraint,
		Members:     []string{"submitter", "approver"},
		Cardinality: 2,
	}))

	v := NewConstraintValidator(NewRoleGraph(), store)

	// Holding both roles is an assignment-time question and the pair is
	// only constrained dynamically.
	require.NoError(t, v.CheckSSD(ctx, "alice", "approver", []string{"submitter"}))
}
