package rbac

import (
	"errors"
	"fmt"
)

// Sentinel errors. Concrete violation types below unwrap to these so that
// callers can branch with errors.Is without losing the structured detail
// carried by errors.As.
var (
	ErrNotFound         = errors.New("rbac: not found")
	ErrAlreadyExists    = errors.New("rbac: already exists")
	ErrInvalidInput     = errors.New("rbac: invalid input")
	ErrHierarchy        = errors.New("rbac: hierarchy violation")
	ErrSsdViolation     = errors.New("rbac: static separation-of-duty violation")
	ErrDsdViolation     = errors.New("rbac: dynamic separation-of-duty violation")
	ErrRoleInactive     = errors.New("rbac: role not currently active")
	ErrRoleNotActive    = errors.New("rbac: role not activated in session")
	ErrRoleNotAssigned  = errors.New("rbac: role not assigned to user")
	ErrSessionInvalid   = errors.New("rbac: session expired or closed")
	ErrSessionNotFound  = errors.New("rbac: session not found")
	ErrNoRolesActivated = errors.New("rbac: no roles could be activated")
)

// HierarchyError reports a rejected graph mutation. The graph is left
// untouched whenever one is returned.
type HierarchyError struct {
	Parent string
	Child  string
	Reason string
}

func (e *HierarchyError) Error() string {
	return fmt.Sprintf("rbac: hierarchy %s->%s: %s", e.Parent, e.Child, e.Reason)
}

func (e *HierarchyError) Unwrap() error {
	return ErrHierarchy
}

// SDViolation reports a separation-of-duty cardinality breach: Count
// members of Set were observed where at most Cardinality-1 are permitted.
type SDViolation struct {
	Kind        ConstraintKind
	Set         string
	Role        string
	Count       int
	Cardinality int
}

func (e *SDViolation) Error() string {
	return fmt.Sprintf("rbac: %s set %q: role %q brings membership to %d, cardinality %d",
		e.Kind, e.Set, e.Role, e.Count, e.Cardinality)
}

func (e *SDViolation) Unwrap() error {
	if e.Kind == DynamicConstraint {
		return ErrDsdViolation
	}
	return ErrSsdViolation
}

// InactiveRoleError reports that the temporal gate rejected a role at a
// given instant.
type InactiveRoleError struct {
	Role   string
	Reason string
}

func (e *InactiveRoleError) Error() string {
	return fmt.Sprintf("rbac: role %q inactive: %s", e.Role, e.Reason)
}

func (e *InactiveRoleError) Unwrap() error {
	return ErrRoleInactive
}

// SessionStateError reports an operation attempted against a session that
// is no longer live.
type SessionStateError struct {
	SessionID string
	State     SessionState
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("rbac: session %s is %s", e.SessionID, e.State)
}

func (e *SessionStateError) Unwrap() error {
	return ErrSessionInvalid
}
