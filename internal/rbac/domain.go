package rbac

import (
	"fmt"
	"strings"
	"time"
)

// Role is a node in the inheritance hierarchy. Names are case-preserved
// but compared case-insensitively; Key reports the canonical form used
// throughout the engine.
type Role struct {
	Name        string `validate:"required,max=40,safetext"`
	Description string `validate:"max=180"`
	Parents     []string
	Children    []string
	Constraint  *TemporalConstraint
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key returns the canonical lookup key for a role or org-unit name.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Key returns the canonical lookup key of the role.
func (r Role) Key() string {
	return Key(r.Name)
}

// OrgUnitType selects which delegated-administration tree an org unit
// belongs to.
type OrgUnitType int

const (
	// UserOU scopes delegated administration over user pools.
	UserOU OrgUnitType = iota
	// PermOU scopes delegated administration over permission pools.
	PermOU
)

func (t OrgUnitType) String() string {
	if t == PermOU {
		return "PERM"
	}
	return "USER"
}

// OrgUnit is a node in one of the two delegated-administration trees.
// Structurally it is the same DAG as the role hierarchy and reuses the
// same graph machinery.
type OrgUnit struct {
	Name        string `validate:"required,max=40,safetext"`
	Type        OrgUnitType
	Description string `validate:"max=180"`
	Parents     []string
	Children    []string
}

// Key returns the canonical lookup key of the org unit.
func (o OrgUnit) Key() string {
	return Key(o.Name)
}

// Permission identifies an operation on an object, optionally narrowed to
// a single object instance.
type Permission struct {
	ObjectName    string `validate:"required,max=60,safetext"`
	OperationName string `validate:"required,max=60,safetext"`
	ObjectID      string `validate:"max=60"`
}

// Key returns the canonical identity of the permission.
func (p Permission) Key() string {
	return Key(p.ObjectName) + "#" + Key(p.OperationName) + "#" + Key(p.ObjectID)
}

func (p Permission) String() string {
	if p.ObjectID != "" {
		return fmt.Sprintf("%s.%s[%s]", p.ObjectName, p.OperationName, p.ObjectID)
	}
	return fmt.Sprintf("%s.%s", p.ObjectName, p.OperationName)
}

// ConstraintKind distinguishes when a separation-of-duty set is enforced:
// static sets gate user-role assignment, dynamic sets gate activation
// inside a session. The counting rule is identical.
type ConstraintKind int

const (
	// StaticConstraint sets are checked when a role is assigned to a user.
	StaticConstraint ConstraintKind = iota
	// DynamicConstraint sets are checked when a role is activated in a session.
	DynamicConstraint
)

func (k ConstraintKind) String() string {
	if k == DynamicConstraint {
		return "DSD"
	}
	return "SSD"
}

// SDSet is a separation-of-duty constraint: of Members, at most
// Cardinality-1 may be simultaneously held (static) or activated (dynamic).
type SDSet struct {
	Name        string `validate:"required,max=40,safetext"`
	Kind        ConstraintKind
	Description string   `validate:"max=180"`
	Members     []string `validate:"min=2"`
	Cardinality int      `validate:"gte=1"`
}

// Key returns the canonical lookup key of the set.
func (s SDSet) Key() string {
	return Key(s.Name)
}

// Contains reports whether the set names the given role key.
func (s SDSet) Contains(roleKey string) bool {
	for _, m := range s.Members {
		if Key(m) == roleKey {
			return true
		}
	}
	return false
}

// UserRoleAssignment binds a role to a user together with the temporal
// constraint that gates its activation.
type UserRoleAssignment struct {
	UserID     string `validate:"required,max=60"`
	Role       string `validate:"required,max=40,safetext"`
	Constraint *TemporalConstraint
	CreatedAt  time.Time
}

// Relationship is one directed inheritance edge: Parent is senior to
// Child and inherits everything granted to it.
type Relationship struct {
	Parent string
	Child  string
}

// SessionState tracks the session lifecycle.
type SessionState int

const (
	// StateCreated is the live state; an empty active set is permitted
	// only when the caller did not require activation.
	StateCreated SessionState = iota
	// StateExpired is entered lazily once the idle timeout elapses.
	StateExpired
	// StateClosed is entered on explicit logout.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateExpired:
		return "expired"
	case StateClosed:
		return "closed"
	default:
		return "created"
	}
}

// WarningKind classifies non-fatal conditions recorded during session
// creation or role activation.
type WarningKind int

const (
	// WarnRoleInactive marks a role skipped because its temporal
	// constraint rejected the current instant.
	WarnRoleInactive WarningKind = iota
	// WarnDsdViolation marks a role skipped because activating it would
	// breach a dynamic separation-of-duty set.
	WarnDsdViolation
	// WarnRoleExpiring marks an activated role whose validity window ends
	// within the configured lookahead.
	WarnRoleExpiring
)

func (k WarningKind) String() string {
	switch k {
	case WarnDsdViolation:
		return "dsd_violation"
	case WarnRoleExpiring:
		return "role_expiring"
	default:
		return "role_inactive"
	}
}

// Warning records why a role was skipped or flagged without failing the
// whole call.
type Warning struct {
	Kind    WarningKind
	Role    string
	Set     string
	Message string
}

// Session holds the activated-role subset a user is currently operating
// with. The canonical value lives in a SessionStore; callers hold only
// the ID and mutate through the store's per-key lock.
type Session struct {
	ID         string
	UserID     string
	Assigned   []UserRoleAssignment
	Active     []string
	CreatedAt  time.Time
	LastAccess time.Time
	Timeout    time.Duration
	State      SessionState
	Warnings   []Warning
}

// IsActive reports whether roleKey is currently activated.
func (s *Session) IsActive(roleKey string) bool {
	for _, r := range s.Active {
		if Key(r) == roleKey {
			return true
		}
	}
	return false
}

// Assignment returns the assignment record for roleKey, if any.
func (s *Session) Assignment(roleKey string) (UserRoleAssignment, bool) {
	for _, a := range s.Assigned {
		if Key(a.Role) == roleKey {
			return a, true
		}
	}
	return UserRoleAssignment{}, false
}

// Expired reports whether the idle timeout has elapsed at now. A zero
// timeout never expires.
func (s *Session) Expired(now time.Time) bool {
	if s.State == StateExpired {
		return true
	}
	if s.Timeout <= 0 {
		return false
	}
	return now.Sub(s.LastAccess) > s.Timeout
}

// Alive reports whether the session accepts further operations at now.
func (s *Session) Alive(now time.Time) bool {
	return s.State == StateCreated && !s.Expired(now)
}

func (s *Session) warn(w Warning) {
	s.Warnings = append(s.Warnings, w)
}
