package rbac

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory PolicyStore. It backs tests and embeddings
// that load policy once at startup and have no external directory.
type MemoryStore struct {
	mu        sync.RWMutex
	roles     map[string]Role
	assigned  map[string]map[string]UserRoleAssignment
	perms     map[string]Permission
	grants    map[string]map[string]struct{}
	rolePerms map[string]map[string]struct{}
	ssd       map[string]SDSet
	dsd       map[string]SDSet
	rels      map[string]Relationship
	orgUnits  map[OrgUnitType]map[string]OrgUnit
	orgRels   map[OrgUnitType]map[string]Relationship
	passwords map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:     make(map[string]Role),
		assigned:  make(map[string]map[string]UserRoleAssignment),
		perms:     make(map[string]Permission),
		grants:    make(map[string]map[string]struct{}),
		rolePerms: make(map[string]map[string]struct{}),
		ssd:       make(map[string]SDSet),
		dsd:       make(map[string]SDSet),
		rels:      make(map[string]Relationship),
		orgUnits: map[OrgUnitType]map[string]OrgUnit{
			UserOU: make(map[string]OrgUnit),
			PermOU: make(map[string]OrgUnit),
		},
		orgRels: map[OrgUnitType]map[string]Relationship{
			UserOU: make(map[string]Relationship),
			PermOU: make(map[string]Relationship),
		},
		passwords: make(map[string]string),
	}
}

func relKey(rel Relationship) string {
	return Key(rel.Parent) + ">" + Key(rel.Child)
}

// LoadRole implements PolicyStore.
func (s *MemoryStore) LoadRole(_ context.Context, name string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[Key(name)]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, name)
	}
	return role, nil
}

// LoadAssignedRoles implements PolicyStore.
func (s *MemoryStore) LoadAssignedRoles(_ context.Context, userID string) ([]UserRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserRoleAssignment, 0, len(s.assigned[userID]))
	for _, a := range s.assigned[userID] {
		out = append(out, a)
	}
	return out, nil
}

// LoadPermissionGrantees implements PolicyStore.
func (s *MemoryStore) LoadPermissionGrantees(_ context.Context, perm Permission) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.grants[perm.Key()]))
	for role := range s.grants[perm.Key()] {
		out = append(out, role)
	}
	return out, nil
}

// LoadPermissionsForRoles implements PolicyStore.
func (s *MemoryStore) LoadPermissionsForRoles(_ context.Context, roleKeys []string) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []Permission
	for _, rk := range roleKeys {
		for pk := range s.rolePerms[Key(rk)] {
			if _, ok := seen[pk]; ok {
				continue
			}
			seen[pk] = struct{}{}
			out = append(out, s.perms[pk])
		}
	}
	return out, nil
}

// LoadSsdSets implements PolicyStore.
func (s *MemoryStore) LoadSsdSets(_ context.Context) ([]SDSet, error) {
	return s.sets(s.ssd), nil
}

// LoadDsdSets implements PolicyStore.
func (s *MemoryStore) LoadDsdSets(_ context.Context) ([]SDSet, error) {
	return s.sets(s.dsd), nil
}

func (s *MemoryStore) sets(m map[string]SDSet) []SDSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SDSet, 0, len(m))
	for _, set := range m {
		out = append(out, set)
	}
	return out
}

// LoadRelationships implements PolicyStore.
func (s *MemoryStore) LoadRelationships(_ context.Context) ([]Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Relationship, 0, len(s.rels))
	for _, rel := range s.rels {
		out = append(out, rel)
	}
	return out, nil
}

// LoadOrgUnitRelationships implements PolicyStore.
func (s *MemoryStore) LoadOrgUnitRelationships(_ context.Context, typ OrgUnitType) ([]Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Relationship, 0, len(s.orgRels[typ]))
	for _, rel := range s.orgRels[typ] {
		out = append(out, rel)
	}
	return out, nil
}

// SaveRole implements PolicyStore.
func (s *MemoryStore) SaveRole(_ context.Context, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.Key()] = role
	return nil
}

// DeleteRole implements PolicyStore.
func (s *MemoryStore) DeleteRole(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rk := Key(name)
	if _, ok := s.roles[rk]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, name)
	}
	delete(s.roles, rk)
	return nil
}

// SaveAssignment implements PolicyStore.
func (s *MemoryStore) SaveAssignment(_ context.Context, a UserRoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byRole, ok := s.assigned[a.UserID]
	if !ok {
		byRole = make(map[string]UserRoleAssignment)
		s.assigned[a.UserID] = byRole
	}
	rk := Key(a.Role)
	if _, ok := byRole[rk]; ok {
		return fmt.Errorf("%w: assignment %s/%s", ErrAlreadyExists, a.UserID, a.Role)
	}
	byRole[rk] = a
	return nil
}

// DeleteAssignment implements PolicyStore.
func (s *MemoryStore) DeleteAssignment(_ context.Context, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rk := Key(role)
	if _, ok := s.assigned[userID][rk]; !ok {
		return fmt.Errorf("%w: assignment %s/%s", ErrNotFound, userID, role)
	}
	delete(s.assigned[userID], rk)
	return nil
}

// SaveSdSet implements PolicyStore.
func (s *MemoryStore) SaveSdSet(_ context.Context, set SDSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set.Kind == DynamicConstraint {
		s.dsd[set.Key()] = set
	} else {
		s.ssd[set.Key()] = set
	}
	return nil
}

// DeleteSdSet implements PolicyStore.
func (s *MemoryStore) DeleteSdSet(_ context.Context, name string, kind ConstraintKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.ssd
	if kind == DynamicConstraint {
		m = s.dsd
	}
	if _, ok := m[Key(name)]; !ok {
		return fmt.Errorf("%w: %s set %s", ErrNotFound, kind, name)
	}
	delete(m, Key(name))
	return nil
}

// SaveRelationship implements PolicyStore.
func (s *MemoryStore) SaveRelationship(_ context.Context, rel Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rels[relKey(rel)] = rel
	return nil
}

// DeleteRelationship implements PolicyStore.
func (s *MemoryStore) DeleteRelationship(_ context.Context, rel Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rels[relKey(rel)]; !ok {
		return fmt.Errorf("%w: relationship %s->%s", ErrNotFound, rel.Parent, rel.Child)
	}
	delete(s.rels, relKey(rel))
	return nil
}

// SaveOrgUnit implements PolicyStore.
func (s *MemoryStore) SaveOrgUnit(_ context.Context, ou OrgUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgUnits[ou.Type][ou.Key()] = ou
	return nil
}

// SaveOrgUnitRelationship implements PolicyStore.
func (s *MemoryStore) SaveOrgUnitRelationship(_ context.Context, typ OrgUnitType, rel Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgRels[typ][relKey(rel)] = rel
	return nil
}

// DeleteOrgUnitRelationship implements PolicyStore.
func (s *MemoryStore) DeleteOrgUnitRelationship(_ context.Context, typ OrgUnitType, rel Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgRels[typ][relKey(rel)]; !ok {
		return fmt.Errorf("%w: %s relationship %s->%s", ErrNotFound, typ, rel.Parent, rel.Child)
	}
	delete(s.orgRels[typ], relKey(rel))
	return nil
}

// GrantPermission implements PolicyStore.
func (s *MemoryStore) GrantPermission(_ context.Context, perm Permission, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk, rk := perm.Key(), Key(role)
	s.perms[pk] = perm
	if s.grants[pk] == nil {
		s.grants[pk] = make(map[string]struct{})
	}
	s.grants[pk][rk] = struct{}{}
	if s.rolePerms[rk] == nil {
		s.rolePerms[rk] = make(map[string]struct{})
	}
	s.rolePerms[rk][pk] = struct{}{}
	return nil
}

// RevokePermission implements PolicyStore.
func (s *MemoryStore) RevokePermission(_ context.Context, perm Permission, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk, rk := perm.Key(), Key(role)
	if _, ok := s.grants[pk][rk]; !ok {
		return fmt.Errorf("%w: grant %s to %s", ErrNotFound, perm, role)
	}
	delete(s.grants[pk], rk)
	delete(s.rolePerms[rk], pk)
	return nil
}

// SetPassword stores a credential hash, making the store usable as a
// CredentialStore in tests.
func (s *MemoryStore) SetPassword(userID, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[userID] = hash
}

// LoadPasswordHash implements CredentialStore.
func (s *MemoryStore) LoadPasswordHash(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.passwords[userID]
	if !ok {
		return "", fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return hash, nil
}

var (
	_ PolicyStore     = (*MemoryStore)(nil)
	_ CredentialStore = (*MemoryStore)(nil)
)

// MemorySessionStore is the in-memory SessionStore. It owns the
// canonical Session values and serializes Update per session id.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    *keyMutex
}

// NewMemorySessionStore returns an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*Session),
		locks:    newKeyMutex(),
	}
}

// Save implements SessionStore.
func (s *MemorySessionStore) Save(_ context.Context, sess *Session) error {
	clone := *sess
	s.mu.Lock()
	s.sessions[sess.ID] = &clone
	s.mu.Unlock()
	return nil
}

// Get implements SessionStore.
func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	clone := *sess
	return &clone, nil
}

// Update implements SessionStore. fn runs on the canonical value under
// the per-id lock; mutations persist even when fn reports an error.
func (s *MemorySessionStore) Update(_ context.Context, id string, fn func(*Session) error) error {
	lock := s.locks.lock(id)
	defer lock.Unlock()

	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return fn(sess)
}

// Delete implements SessionStore.
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// ForEach implements SessionStore over a point-in-time snapshot.
func (s *MemorySessionStore) ForEach(_ context.Context, fn func(*Session) error) error {
	s.mu.RLock()
	snapshot := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		clone := *sess
		snapshot = append(snapshot, &clone)
	}
	s.mu.RUnlock()

	for _, sess := range snapshot {
		if err := fn(sess); err != nil {
			return err
		}
	}
	return nil
}

var _ SessionStore = (*MemorySessionStore)(nil)
