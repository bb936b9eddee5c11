package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vvakhlyuev-work/directory-fortress-core/internal/observability"
)

// AdminService carries the administrative operations that keep the graph,
// the constraint sets and the store consistent. Every mutation validates
// first and commits second; the check-then-commit sequence for one user's
// assignments runs under that user's lock so concurrent assignments
// cannot jointly slip past a cardinality check.
type AdminService struct {
	graph       *RoleGraph
	scope       *DelegatedScope
	constraints *ConstraintValidator
	store       PolicyStore
	userLocks   *keyMutex
	log         *slog.Logger
	metrics     *observability.Metrics
}

// NewAdminService constructs the service.
func NewAdminService(graph *RoleGraph, scope *DelegatedScope, constraints *ConstraintValidator, store PolicyStore, log *slog.Logger, metrics *observability.Metrics) *AdminService {
	return &AdminService{
		graph:       graph,
		scope:       scope,
		constraints: constraints,
		store:       store,
		userLocks:   newKeyMutex(),
		log:         log,
		metrics:     metrics,
	}
}

// CreateRole registers a new role.
func (s *AdminService) CreateRole(ctx context.Context, role Role) error {
	if err := ValidateEntity(role); err != nil {
		return err
	}
	if err := validateConstraint(role.Constraint); err != nil {
		return err
	}
	if _, err := s.store.LoadRole(ctx, role.Name); err == nil {
		return fmt.Errorf("%w: role %s", ErrAlreadyExists, role.Name)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	role.CreatedAt = time.Now().UTC()
	role.UpdatedAt = role.CreatedAt
	if err := s.store.SaveRole(ctx, role); err != nil {
		return err
	}
	s.log.Info("role created", "role", role.Name)
	return nil
}

// UpdateRole replaces an existing role's description and constraint.
func (s *AdminService) UpdateRole(ctx context.Context, role Role) error {
	if err := ValidateEntity(role); err != nil {
		return err
	}
	if err := validateConstraint(role.Constraint); err != nil {
		return err
	}
	current, err := s.store.LoadRole(ctx, role.Name)
	if err != nil {
		return err
	}
	role.CreatedAt = current.CreatedAt
	role.UpdatedAt = time.Now().UTC()
	return s.store.SaveRole(ctx, role)
}

// DeleteRole removes a role that no longer participates in the
// hierarchy. Relationships must be deleted first so the graph and the
// store never disagree about reachability.
func (s *AdminService) DeleteRole(ctx context.Context, name string) error {
	if s.graph.InHierarchy(name) {
		return fmt.Errorf("%w: role %s still has inheritance relationships", ErrInvalidInput, name)
	}
	if err := s.store.DeleteRole(ctx, name); err != nil {
		return err
	}
	s.log.Info("role deleted", "role", name)
	return nil
}

// AddInheritance inserts the edge parent->child into the hierarchy and
// persists it. The graph mutation is reverted when persistence fails so
// no observer ever sees an edge the store does not hold.
func (s *AdminService) AddInheritance(ctx context.Context, parent, child string) error {
	if err := s.graph.AddRelationship(parent, child); err != nil {
		return err
	}
	if err := s.store.SaveRelationship(ctx, Relationship{Parent: parent, Child: child}); err != nil {
		if rollback := s.graph.DeleteRelationship(parent, child); rollback != nil {
			s.log.Error("rollback of hierarchy edge failed", "parent", parent, "child", child, "error", rollback)
		}
		return fmt.Errorf("persist relationship: %w", err)
	}
	s.metrics.GraphMutation("add")
	s.metrics.GraphRoles(s.graph.Len())
	s.log.Info("inheritance added", "parent", parent, "child", child)
	return nil
}

// DeleteInheritance removes the edge parent->child.
func (s *AdminService) DeleteInheritance(ctx context.Context, parent, child string) error {
	if err := s.graph.DeleteRelationship(parent, child); err != nil {
		return err
	}
	if err := s.store.DeleteRelationship(ctx, Relationship{Parent: parent, Child: child}); err != nil {
		if rollback := s.graph.AddRelationship(parent, child); rollback != nil {
			s.log.Error("rollback of hierarchy edge failed", "parent", parent, "child", child, "error", rollback)
		}
		return fmt.Errorf("delete relationship: %w", err)
	}
	s.metrics.GraphMutation("delete")
	s.metrics.GraphRoles(s.graph.Len())
	s.log.Info("inheritance deleted", "parent", parent, "child", child)
	return nil
}

// AssignUser grants a role to a user after the static separation-of-duty
// check. Check and commit run under the user's lock; assignments for
// different users proceed in parallel.
func (s *AdminService) AssignUser(ctx context.Context, a UserRoleAssignment) error {
	if err := ValidateEntity(a); err != nil {
		return err
	}
	if err := validateConstraint(a.Constraint); err != nil {
		return err
	}
	if _, err := s.store.LoadRole(ctx, a.Role); err != nil {
		return err
	}

	lock := s.userLocks.lock(a.UserID)
	defer lock.Unlock()

	assigned, err := s.store.LoadAssignedRoles(ctx, a.UserID)
	if err != nil {
		return fmt.Errorf("load assignments for %s: %w", a.UserID, err)
	}
	current := make([]string, 0, len(assigned))
	for _, existing := range assigned {
		if Key(existing.Role) == Key(a.Role) {
			return fmt.Errorf("%w: assignment %s/%s", ErrAlreadyExists, a.UserID, a.Role)
		}
		current = append(current, existing.Role)
	}
	if err := s.constraints.CheckSSD(ctx, a.UserID, a.Role, current); err != nil {
		return err
	}

	a.CreatedAt = time.Now().UTC()
	if err := s.store.SaveAssignment(ctx, a); err != nil {
		return err
	}
	s.log.Info("role assigned", "user_id", a.UserID, "role", a.Role)
	return nil
}

// DeassignUser revokes a user's role assignment.
func (s *AdminService) DeassignUser(ctx context.Context, userID, role string) error {
	lock := s.userLocks.lock(userID)
	defer lock.Unlock()
	if err := s.store.DeleteAssignment(ctx, userID, role); err != nil {
		return err
	}
	s.log.Info("role deassigned", "user_id", userID, "role", role)
	return nil
}

// CreateSdSet registers a separation-of-duty set. Enforcement is
// prospective: existing assignments and live sessions are not
// re-validated against a newly defined set.
func (s *AdminService) CreateSdSet(ctx context.Context, set SDSet) error {
	if err := validateSdSet(set); err != nil {
		return err
	}
	exists, err := s.sdSetExists(ctx, set.Name, set.Kind)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s set %s", ErrAlreadyExists, set.Kind, set.Name)
	}
	return s.store.SaveSdSet(ctx, set)
}

// UpdateSdSet replaces an existing set's members and cardinality. Like
// creation, the new rule applies prospectively only.
func (s *AdminService) UpdateSdSet(ctx context.Context, set SDSet) error {
	if err := validateSdSet(set); err != nil {
		return err
	}
	exists, err := s.sdSetExists(ctx, set.Name, set.Kind)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s set %s", ErrNotFound, set.Kind, set.Name)
	}
	return s.store.SaveSdSet(ctx, set)
}

func (s *AdminService) sdSetExists(ctx context.Context, name string, kind ConstraintKind) (bool, error) {
	var (
		sets []SDSet
		err  error
	)
	if kind == DynamicConstraint {
		sets, err = s.store.LoadDsdSets(ctx)
	} else {
		sets, err = s.store.LoadSsdSets(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("load %s sets: %w", kind, err)
	}
	nk := Key(name)
	for _, existing := range sets {
		if existing.Key() == nk {
			return true, nil
		}
	}
	return false, nil
}

// DeleteSdSet removes a separation-of-duty set.
func (s *AdminService) DeleteSdSet(ctx context.Context, name string, kind ConstraintKind) error {
	return s.store.DeleteSdSet(ctx, name, kind)
}

// GrantPermission grants a permission to a role.
func (s *AdminService) GrantPermission(ctx context.Context, perm Permission, role string) error {
	if err := ValidateEntity(perm); err != nil {
		return err
	}
	if _, err := s.store.LoadRole(ctx, role); err != nil {
		return err
	}
	if err := s.store.GrantPermission(ctx, perm, role); err != nil {
		return err
	}
	s.log.Info("permission granted", "permission", perm.String(), "role", role)
	return nil
}

// RevokePermission revokes a grant.
func (s *AdminService) RevokePermission(ctx context.Context, perm Permission, role string) error {
	return s.store.RevokePermission(ctx, perm, role)
}

// AddOrgUnit registers an org unit in its pool.
func (s *AdminService) AddOrgUnit(ctx context.Context, ou OrgUnit) error {
	if err := ValidateEntity(ou); err != nil {
		return err
	}
	return s.store.SaveOrgUnit(ctx, ou)
}

// AddOrgInheritance inserts an edge into one of the org-unit trees with
// the same atomicity as role inheritance.
func (s *AdminService) AddOrgInheritance(ctx context.Context, typ OrgUnitType, parent, child string) error {
	tree := s.scope.Tree(typ)
	if err := tree.AddRelationship(parent, child); err != nil {
		return err
	}
	if err := s.store.SaveOrgUnitRelationship(ctx, typ, Relationship{Parent: parent, Child: child}); err != nil {
		if rollback := tree.DeleteRelationship(parent, child); rollback != nil {
			s.log.Error("rollback of org edge failed", "parent", parent, "child", child, "error", rollback)
		}
		return fmt.Errorf("persist org relationship: %w", err)
	}
	return nil
}

// DeleteOrgInheritance removes an org-unit edge.
func (s *AdminService) DeleteOrgInheritance(ctx context.Context, typ OrgUnitType, parent, child string) error {
	tree := s.scope.Tree(typ)
	if err := tree.DeleteRelationship(parent, child); err != nil {
		return err
	}
	if err := s.store.DeleteOrgUnitRelationship(ctx, typ, Relationship{Parent: parent, Child: child}); err != nil {
		if rollback := tree.AddRelationship(parent, child); rollback != nil {
			s.log.Error("rollback of org edge failed", "parent", parent, "child", child, "error", rollback)
		}
		return fmt.Errorf("delete org relationship: %w", err)
	}
	return nil
}

// ReadRole returns a role by name.
func (s *AdminService) ReadRole(ctx context.Context, name string) (Role, error) {
	return s.store.LoadRole(ctx, name)
}

// AssignedRoles lists the user's direct assignments.
func (s *AdminService) AssignedRoles(ctx context.Context, userID string) ([]UserRoleAssignment, error) {
	return s.store.LoadAssignedRoles(ctx, userID)
}

// AuthorizedRoles returns the role keys whose grants the user can
// exercise: every assigned role plus everything those roles inherit
// from.
func (s *AdminService) AuthorizedRoles(ctx context.Context, userID string) ([]string, error) {
	assigned, err := s.store.LoadAssignedRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	authorized := make(map[string]struct{}, len(assigned)*2)
	for _, a := range assigned {
		rk := Key(a.Role)
		authorized[rk] = struct{}{}
		for desc := range s.graph.descendants(rk) {
			authorized[desc] = struct{}{}
		}
	}
	return setToSlice(authorized), nil
}

// RolePermissions returns the permissions a role grants, directly or via
// inheritance.
func (s *AdminService) RolePermissions(ctx context.Context, role string) ([]Permission, error) {
	rk := Key(role)
	keys := append([]string{rk}, setToSlice(s.graph.descendants(rk))...)
	return s.store.LoadPermissionsForRoles(ctx, keys)
}
