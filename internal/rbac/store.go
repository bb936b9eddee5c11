package rbac

import "context"

// PolicyStore is the persistence collaborator that supplies raw role,
// permission, assignment and constraint records. The engine never defines
// the storage schema; implementations decide how the records live.
//
// Load calls feed the decision path; mutators back AdminService. Every
// method maps a missing record to ErrNotFound and a duplicate insert to
// ErrAlreadyExists.
type PolicyStore interface {
	// Decision-path reads.
	LoadRole(ctx context.Context, name string) (Role, error)
	LoadAssignedRoles(ctx context.Context, userID string) ([]UserRoleAssignment, error)
	LoadPermissionGrantees(ctx context.Context, perm Permission) ([]string, error)
	LoadPermissionsForRoles(ctx context.Context, roleKeys []string) ([]Permission, error)
	LoadSsdSets(ctx context.Context) ([]SDSet, error)
	LoadDsdSets(ctx context.Context) ([]SDSet, error)
	LoadRelationships(ctx context.Context) ([]Relationship, error)
	LoadOrgUnitRelationships(ctx context.Context, typ OrgUnitType) ([]Relationship, error)

	// Administrative mutators.
	SaveRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, name string) error
	SaveAssignment(ctx context.Context, a UserRoleAssignment) error
	DeleteAssignment(ctx context.Context, userID, role string) error
	SaveSdSet(ctx context.Context, set SDSet) error
	DeleteSdSet(ctx context.Context, name string, kind ConstraintKind) error
	SaveRelationship(ctx context.Context, rel Relationship) error
	DeleteRelationship(ctx context.Context, rel Relationship) error
	SaveOrgUnit(ctx context.Context, ou OrgUnit) error
	SaveOrgUnitRelationship(ctx context.Context, typ OrgUnitType, rel Relationship) error
	DeleteOrgUnitRelationship(ctx context.Context, typ OrgUnitType, rel Relationship) error
	GrantPermission(ctx context.Context, perm Permission, role string) error
	RevokePermission(ctx context.Context, perm Permission, role string) error
}

// SessionStore owns the canonical Session values, keyed by session id.
// Handles held by callers are lookup keys, never references.
//
// Update runs fn on the canonical value under a per-key lock and persists
// the (possibly mutated) value afterwards even when fn returns an error,
// so state transitions such as lazy expiry survive a rejected call.
// Sessions belonging to different ids proceed fully in parallel.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn func(*Session) error) error
	Delete(ctx context.Context, id string) error
	// ForEach visits a snapshot of all sessions; used by the optional
	// sweep job, never by the decision path.
	ForEach(ctx context.Context, fn func(*Session) error) error
}

// CredentialStore resolves the password hash for a user. Credential
// verification itself happens outside the policy core; see
// CredentialVerifier.
type CredentialStore interface {
	LoadPasswordHash(ctx context.Context, userID string) (string, error)
}
