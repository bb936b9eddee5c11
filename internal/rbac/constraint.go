package rbac

import (
	"context"
	"fmt"
)

// ConstraintValidator evaluates separation-of-duty rule sets against a
// candidate assignment (static) or activation (dynamic). Both paths share
// one counting routine: the two kinds differ only in the event they gate
// and the role set they expand.
type ConstraintValidator struct {
	graph *RoleGraph
	store PolicyStore
}

// NewConstraintValidator wires the validator to the hierarchy it expands
// against and the store that holds the rule sets.
func NewConstraintValidator(graph *RoleGraph, store PolicyStore) *ConstraintValidator {
	return &ConstraintValidator{graph: graph, store: store}
}

// CheckSSD verifies that assigning candidate on top of the user's current
// assignments breaches no static set. Conflicts are counted against the
// hierarchy-expanded set: roles held through inheritance weigh the same
// as direct assignments.
func (v *ConstraintValidator) CheckSSD(ctx context.Context, userID, candidate string, assigned []string) error {
	sets, err := v.store.LoadSsdSets(ctx)
	if err != nil {
		return fmt.Errorf("load ssd sets: %w", err)
	}
	return v.check(sets, candidate, assigned)
}

// CheckDSD verifies that activating candidate alongside the session's
// currently activated roles breaches no dynamic set.
func (v *ConstraintValidator) CheckDSD(ctx context.Context, activated []string, candidate string) error {
	sets, err := v.store.LoadDsdSets(ctx)
	if err != nil {
		return fmt.Errorf("load dsd sets: %w", err)
	}
	return v.check(sets, candidate, activated)
}

// check applies the shared cardinality rule. A role reachable through
// several hierarchy paths counts once; a set whose cardinality equals its
// size degenerates to "cannot hold all members simultaneously".
func (v *ConstraintValidator) check(sets []SDSet, candidate string, current []string) error {
	ck := Key(candidate)
	expanded := v.expand(ck, current)
	for _, set := range sets {
		if !set.Contains(ck) {
			continue
		}
		count := 0
		for _, member := range set.Members {
			if _, ok := expanded[Key(member)]; ok {
				count++
			}
		}
		if count >= set.Cardinality {
			return &SDViolation{
				Kind:        set.Kind,
				Set:         set.Name,
				Role:        candidate,
				Count:       count,
				Cardinality: set.Cardinality,
			}
		}
	}
	return nil
}

// expand returns candidate plus the current roles plus every ascendant of
// each, as a key set.
func (v *ConstraintValidator) expand(candidateKey string, current []string) map[string]struct{} {
	expanded := make(map[string]struct{}, len(current)*2+1)
	include := func(key string) {
		if key == "" {
			return
		}
		expanded[key] = struct{}{}
		for asc := range v.graph.ascendants(key) {
			expanded[asc] = struct{}{}
		}
	}
	include(candidateKey)
	for _, role := range current {
		include(Key(role))
	}
	return expanded
}
