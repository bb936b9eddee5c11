package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvakhlyuev-work/directory-fortress-core/internal/platform/db"
)

const pgUniqueViolation = "23505"

// PGStore implements PolicyStore and CredentialStore on PostgreSQL. The
// backing tables are documented in scripts/schema.sql.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a store over the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// ConnectPGStore dials the database and returns a store over a pool tuned
// for the policy workload.
func ConnectPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := db.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewPGStore(pool), nil
}

// Close releases the underlying pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// LoadRole implements PolicyStore.
func (s *PGStore) LoadRole(ctx context.Context, name string) (Role, error) {
	const query = `
		SELECT name, description, constraints, created_at, updated_at
		FROM rbac_roles WHERE name_key = $1`
	var (
		role Role
		raw  []byte
	)
	err := s.pool.QueryRow(ctx, query, Key(name)).Scan(
		&role.Name, &role.Description, &raw, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, name)
		}
		return Role{}, err
	}
	if role.Constraint, err = decodeConstraint(raw); err != nil {
		return Role{}, err
	}
	return role, nil
}

// LoadAssignedRoles implements PolicyStore.
func (s *PGStore) LoadAssignedRoles(ctx context.Context, userID string) ([]UserRoleAssignment, error) {
	const query = `
		SELECT user_id, role_name, constraints, created_at
		FROM rbac_assignments WHERE user_id = $1`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserRoleAssignment
	for rows.Next() {
		var (
			a   UserRoleAssignment
			raw []byte
		)
		if err := rows.Scan(&a.UserID, &a.Role, &raw, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.Constraint, err = decodeConstraint(raw); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadPermissionGrantees implements PolicyStore.
func (s *PGStore) LoadPermissionGrantees(ctx context.Context, perm Permission) ([]string, error) {
	const query = `SELECT role_key FROM rbac_permission_grants WHERE perm_key = $1`
	rows, err := s.pool.Query(ctx, query, perm.Key())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// LoadPermissionsForRoles implements PolicyStore.
func (s *PGStore) LoadPermissionsForRoles(ctx context.Context, roleKeys []string) ([]Permission, error) {
	if len(roleKeys) == 0 {
		return nil, nil
	}
	const query = `
		SELECT DISTINCT p.object_name, p.operation_name, p.object_id
		FROM rbac_permissions p
		JOIN rbac_permission_grants g ON g.perm_key = p.perm_key
		WHERE g.role_key = ANY($1)`
	rows, err := s.pool.Query(ctx, query, roleKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ObjectName, &p.OperationName, &p.ObjectID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadSsdSets implements PolicyStore.
func (s *PGStore) LoadSsdSets(ctx context.Context) ([]SDSet, error) {
	return s.loadSdSets(ctx, StaticConstraint)
}

// LoadDsdSets implements PolicyStore.
func (s *PGStore) LoadDsdSets(ctx context.Context) ([]SDSet, error) {
	return s.loadSdSets(ctx, DynamicConstraint)
}

func (s *PGStore) loadSdSets(ctx context.Context, kind ConstraintKind) ([]SDSet, error) {
	const query = `
		SELECT s.name, s.description, s.cardinality, m.member
		FROM rbac_sd_sets s
		JOIN rbac_sd_set_members m ON m.set_key = s.name_key AND m.kind = s.kind
		WHERE s.kind = $1
		ORDER BY s.name_key`
	rows, err := s.pool.Query(ctx, query, int(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := make(map[string]*SDSet)
	var order []string
	for rows.Next() {
		var (
			name, description, member string
			cardinality               int
		)
		if err := rows.Scan(&name, &description, &cardinality, &member); err != nil {
			return nil, err
		}
		set, ok := byName[Key(name)]
		if !ok {
			set = &SDSet{Name: name, Kind: kind, Description: description, Cardinality: cardinality}
			byName[Key(name)] = set
			order = append(order, Key(name))
		}
		set.Members = append(set.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]SDSet, 0, len(order))
	for _, k := range order {
		out = append(out, *byName[k])
	}
	return out, nil
}

// LoadRelationships implements PolicyStore.
func (s *PGStore) LoadRelationships(ctx context.Context) ([]Relationship, error) {
	const query = `SELECT parent_key, child_key FROM rbac_role_relationships`
	return s.queryRelationships(ctx, query)
}

// LoadOrgUnitRelationships implements PolicyStore.
func (s *PGStore) LoadOrgUnitRelationships(ctx context.Context, typ OrgUnitType) ([]Relationship, error) {
	const query = `SELECT parent_key, child_key FROM rbac_org_unit_relationships WHERE pool = $1`
	return s.queryRelationships(ctx, query, int(typ))
}

func (s *PGStore) queryRelationships(ctx context.Context, query string, args ...any) ([]Relationship, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.Parent, &rel.Child); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// SaveRole implements PolicyStore.
func (s *PGStore) SaveRole(ctx context.Context, role Role) error {
	raw, err := encodeConstraint(role.Constraint)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO rbac_roles (name_key, name, description, constraints, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name_key) DO UPDATE
		SET description = EXCLUDED.description,
		    constraints = EXCLUDED.constraints,
		    updated_at = EXCLUDED.updated_at`
	_, err = s.pool.Exec(ctx, query, role.Key(), role.Name, role.Description, raw, role.CreatedAt, role.UpdatedAt)
	return err
}

// DeleteRole implements PolicyStore.
func (s *PGStore) DeleteRole(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rbac_roles WHERE name_key = $1`, Key(name))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: role %s", ErrNotFound, name)
	}
	return nil
}

// SaveAssignment implements PolicyStore.
func (s *PGStore) SaveAssignment(ctx context.Context, a UserRoleAssignment) error {
	raw, err := encodeConstraint(a.Constraint)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO rbac_assignments (user_id, role_key, role_name, constraints, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err = s.pool.Exec(ctx, query, a.UserID, Key(a.Role), a.Role, raw, a.CreatedAt)
	return mapPGError(err, fmt.Sprintf("assignment %s/%s", a.UserID, a.Role))
}

// DeleteAssignment implements PolicyStore.
func (s *PGStore) DeleteAssignment(ctx context.Context, userID, role string) error {
	const query = `DELETE FROM rbac_assignments WHERE user_id = $1 AND role_key = $2`
	tag, err := s.pool.Exec(ctx, query, userID, Key(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: assignment %s/%s", ErrNotFound, userID, role)
	}
	return nil
}

// SaveSdSet implements PolicyStore. The set header and membership are
// replaced atomically.
func (s *PGStore) SaveSdSet(ctx context.Context, set SDSet) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		const upsert = `
			INSERT INTO rbac_sd_sets (name_key, kind, name, description, cardinality)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (name_key, kind) DO UPDATE
			SET description = EXCLUDED.description, cardinality = EXCLUDED.cardinality`
		if _, err := tx.Exec(ctx, upsert, set.Key(), int(set.Kind), set.Name, set.Description, set.Cardinality); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM rbac_sd_set_members WHERE set_key = $1 AND kind = $2`, set.Key(), int(set.Kind)); err != nil {
			return err
		}
		for _, member := range set.Members {
			if _, err := tx.Exec(ctx,
				`INSERT INTO rbac_sd_set_members (set_key, kind, member_key, member) VALUES ($1, $2, $3, $4)`,
				set.Key(), int(set.Kind), Key(member), member); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteSdSet implements PolicyStore.
func (s *PGStore) DeleteSdSet(ctx context.Context, name string, kind ConstraintKind) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rbac_sd_sets WHERE name_key = $1 AND kind = $2`, Key(name), int(kind))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s set %s", ErrNotFound, kind, name)
	}
	return nil
}

// SaveRelationship implements PolicyStore.
func (s *PGStore) SaveRelationship(ctx context.Context, rel Relationship) error {
	const query = `INSERT INTO rbac_role_relationships (parent_key, child_key) VALUES ($1, $2)`
	_, err := s.pool.Exec(ctx, query, Key(rel.Parent), Key(rel.Child))
	return mapPGError(err, fmt.Sprintf("relationship %s->%s", rel.Parent, rel.Child))
}

// DeleteRelationship implements PolicyStore.
func (s *PGStore) DeleteRelationship(ctx context.Context, rel Relationship) error {
	const query = `DELETE FROM rbac_role_relationships WHERE parent_key = $1 AND child_key = $2`
	tag, err := s.pool.Exec(ctx, query, Key(rel.Parent), Key(rel.Child))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: relationship %s->%s", ErrNotFound, rel.Parent, rel.Child)
	}
	return nil
}

// SaveOrgUnit implements PolicyStore.
func (s *PGStore) SaveOrgUnit(ctx context.Context, ou OrgUnit) error {
	const query = `
		INSERT INTO rbac_org_units (name_key, pool, name, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name_key, pool) DO UPDATE SET description = EXCLUDED.description`
	_, err := s.pool.Exec(ctx, query, ou.Key(), int(ou.Type), ou.Name, ou.Description)
	return err
}

// SaveOrgUnitRelationship implements PolicyStore.
func (s *PGStore) SaveOrgUnitRelationship(ctx context.Context, typ OrgUnitType, rel Relationship) error {
	const query = `INSERT INTO rbac_org_unit_relationships (pool, parent_key, child_key) VALUES ($1, $2, $3)`
	_, err := s.pool.Exec(ctx, query, int(typ), Key(rel.Parent), Key(rel.Child))
	return mapPGError(err, fmt.Sprintf("%s relationship %s->%s", typ, rel.Parent, rel.Child))
}

// DeleteOrgUnitRelationship implements PolicyStore.
func (s *PGStore) DeleteOrgUnitRelationship(ctx context.Context, typ OrgUnitType, rel Relationship) error {
	const query = `DELETE FROM rbac_org_unit_relationships WHERE pool = $1 AND parent_key = $2 AND child_key = $3`
	tag, err := s.pool.Exec(ctx, query, int(typ), Key(rel.Parent), Key(rel.Child))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s relationship %s->%s", ErrNotFound, typ, rel.Parent, rel.Child)
	}
	return nil
}

// GrantPermission implements PolicyStore.
func (s *PGStore) GrantPermission(ctx context.Context, perm Permission, role string) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		const upsert = `
			INSERT INTO rbac_permissions (perm_key, object_name, operation_name, object_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (perm_key) DO NOTHING`
		if _, err := tx.Exec(ctx, upsert, perm.Key(), perm.ObjectName, perm.OperationName, perm.ObjectID); err != nil {
			return err
		}
		const grant = `
			INSERT INTO rbac_permission_grants (perm_key, role_key)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(ctx, grant, perm.Key(), Key(role)); err != nil {
			return err
		}
		return nil
	})
}

// RevokePermission implements PolicyStore.
func (s *PGStore) RevokePermission(ctx context.Context, perm Permission, role string) error {
	const query = `DELETE FROM rbac_permission_grants WHERE perm_key = $1 AND role_key = $2`
	tag, err := s.pool.Exec(ctx, query, perm.Key(), Key(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: grant %s to %s", ErrNotFound, perm, role)
	}
	return nil
}

// LoadPasswordHash implements CredentialStore.
func (s *PGStore) LoadPasswordHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT password_hash FROM rbac_users WHERE user_id = $1`, userID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return "", err
	}
	return hash, nil
}

func encodeConstraint(c *TemporalConstraint) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode constraint: %w", err)
	}
	return raw, nil
}

func decodeConstraint(raw []byte) (*TemporalConstraint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c TemporalConstraint
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode constraint: %w", err)
	}
	return &c, nil
}

func mapPGError(err error, detail string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, detail)
	}
	return err
}

var (
	_ PolicyStore     = (*PGStore)(nil)
	_ CredentialStore = (*PGStore)(nil)
)
