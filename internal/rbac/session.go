package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vvakhlyuev-work/directory-fortress-core/internal/observability"
)

// Default lookahead windows for near-expiry warnings, overridable through
// SessionManagerOptions.
const (
	DefaultDateLookahead = 30 * 24 * time.Hour
	DefaultTimeLookahead = 10 * time.Minute
)

// SessionManagerOptions tunes warning lookahead and the fallback idle
// timeout applied when no activated assignment carries one.
type SessionManagerOptions struct {
	DateLookahead  time.Duration
	TimeLookahead  time.Duration
	DefaultTimeout time.Duration
}

// SessionManager materializes sessions: it consults the temporal gate and
// the constraint validator to decide which of a user's assigned roles
// become active, and serializes all mutation of one session through the
// session store's per-key lock.
type SessionManager struct {
	graph       *RoleGraph
	constraints *ConstraintValidator
	store       PolicyStore
	sessions    SessionStore
	verifier    CredentialVerifier
	log         *slog.Logger
	metrics     *observability.Metrics
	opts        SessionManagerOptions
}

// NewSessionManager constructs a manager. The logger is required; metrics
// and options may be zero.
func NewSessionManager(graph *RoleGraph, constraints *ConstraintValidator, store PolicyStore, sessions SessionStore, log *slog.Logger, metrics *observability.Metrics, opts SessionManagerOptions) *SessionManager {
	if opts.DateLookahead == 0 {
		opts.DateLookahead = DefaultDateLookahead
	}
	if opts.TimeLookahead == 0 {
		opts.TimeLookahead = DefaultTimeLookahead
	}
	return &SessionManager{
		graph:       graph,
		constraints: constraints,
		store:       store,
		sessions:    sessions,
		log:         log,
		metrics:     metrics,
		opts:        opts,
	}
}

// WithVerifier attaches a credential verifier used by SignOn.
func (m *SessionManager) WithVerifier(v CredentialVerifier) *SessionManager {
	m.verifier = v
	return m
}

// SignOn verifies credentials through the attached verifier and then
// creates a session. CreateSession itself trusts the caller-supplied
// user id; this is the only entry point that does not.
func (m *SessionManager) SignOn(ctx context.Context, userID, password string, requested []string, requireActive bool, now time.Time) (*Session, error) {
	if m.verifier == nil {
		return nil, errors.New("rbac: no credential verifier configured")
	}
	if err := m.verifier.Verify(ctx, userID, password); err != nil {
		return nil, err
	}
	return m.CreateSession(ctx, userID, requested, requireActive, now)
}

// CreateSession activates the requested subset of the user's assigned
// roles (all of them when requested is empty). Roles rejected by the
// temporal gate or by a dynamic separation-of-duty set are skipped and
// recorded as warnings rather than failing the call; the session is
// created with whatever subset survives. Only when requireActive is set
// and nothing survived does the whole call fail with ErrNoRolesActivated.
func (m *SessionManager) CreateSession(ctx context.Context, userID string, requested []string, requireActive bool, now time.Time) (*Session, error) {
	assigned, err := m.store.LoadAssignedRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load assigned roles for %s: %w", userID, err)
	}

	session := &Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		Assigned:   assigned,
		CreatedAt:  now,
		LastAccess: now,
		State:      StateCreated,
	}

	candidates, err := session.candidates(requested)
	if err != nil {
		return nil, err
	}

	for _, cand := range candidates {
		if reason, inactive := cand.Constraint.Inactive(now); inactive {
			session.warn(Warning{Kind: WarnRoleInactive, Role: cand.Role, Message: reason})
			continue
		}
		if err := m.constraints.CheckDSD(ctx, session.Active, cand.Role); err != nil {
			var sd *SDViolation
			if errors.As(err, &sd) {
				session.warn(Warning{Kind: WarnDsdViolation, Role: cand.Role, Set: sd.Set, Message: sd.Error()})
				continue
			}
			return nil, err
		}
		session.Active = append(session.Active, cand.Role)
	}

	for _, role := range session.Active {
		if a, ok := session.Assignment(Key(role)); ok && a.Constraint.ExpiresWithin(now, m.opts.DateLookahead, m.opts.TimeLookahead) {
			session.warn(Warning{Kind: WarnRoleExpiring, Role: role, Message: "assignment nears end of validity"})
		}
	}

	if requireActive && len(session.Active) == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNoRolesActivated, userID)
	}

	session.Timeout = m.sessionTimeout(session)
	if err := m.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	m.metrics.SessionCreated(len(session.Active))
	for _, w := range session.Warnings {
		m.metrics.SessionWarning(w.Kind.String())
	}
	m.log.Info("session created",
		"session_id", session.ID,
		"user_id", userID,
		"active_roles", len(session.Active),
		"warnings", len(session.Warnings))
	return session, nil
}

// AddActiveRole activates one more role in an existing session. The same
// gates apply as at creation, but here a rejection is fatal: the caller
// named a single role and gets the specific violation back. The session
// is not mutated on failure.
func (m *SessionManager) AddActiveRole(ctx context.Context, sessionID, role string, now time.Time) error {
	return m.sessions.Update(ctx, sessionID, func(s *Session) error {
		if err := liveOrFail(s, now); err != nil {
			return err
		}
		rk := Key(role)
		assignment, ok := s.Assignment(rk)
		if !ok {
			return fmt.Errorf("%w: %s for user %s", ErrRoleNotAssigned, role, s.UserID)
		}
		if s.IsActive(rk) {
			return fmt.Errorf("%w: role %s already active", ErrAlreadyExists, role)
		}
		if reason, inactive := assignment.Constraint.Inactive(now); inactive {
			return &InactiveRoleError{Role: role, Reason: reason}
		}
		if err := m.constraints.CheckDSD(ctx, s.Active, role); err != nil {
			return err
		}
		s.Active = append(s.Active, assignment.Role)
		s.LastAccess = now
		return nil
	})
}

// DropActiveRole deactivates a role. It fails with ErrRoleNotActive when
// the role is not in the activated set; expiry state does not block the
// drop since it only ever shrinks authority.
func (m *SessionManager) DropActiveRole(ctx context.Context, sessionID, role string) error {
	return m.sessions.Update(ctx, sessionID, func(s *Session) error {
		rk := Key(role)
		for i, active := range s.Active {
			if Key(active) == rk {
				s.Active = append(s.Active[:i], s.Active[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrRoleNotActive, role)
	})
}

// CloseSession marks the session closed; every subsequent operation on it
// fails with ErrSessionInvalid. The record itself is removed later by
// DestroySession or the sweep job.
func (m *SessionManager) CloseSession(ctx context.Context, sessionID string) error {
	return m.sessions.Update(ctx, sessionID, func(s *Session) error {
		s.State = StateClosed
		return nil
	})
}

// DestroySession removes the canonical session record.
func (m *SessionManager) DestroySession(ctx context.Context, sessionID string) error {
	return m.sessions.Delete(ctx, sessionID)
}

// GetSession returns a copy of the canonical session after the lazy
// expiry check.
func (m *SessionManager) GetSession(ctx context.Context, sessionID string, now time.Time) (*Session, error) {
	var out *Session
	err := m.sessions.Update(ctx, sessionID, func(s *Session) error {
		if err := liveOrFail(s, now); err != nil {
			return err
		}
		clone := *s
		out = &clone
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sessionTimeout picks the strictest non-zero idle timeout among the
// activated assignments, falling back to the configured default.
func (m *SessionManager) sessionTimeout(s *Session) time.Duration {
	timeout := m.opts.DefaultTimeout
	for _, role := range s.Active {
		a, ok := s.Assignment(Key(role))
		if !ok || a.Constraint == nil || a.Constraint.Timeout <= 0 {
			continue
		}
		if timeout <= 0 || a.Constraint.Timeout < timeout {
			timeout = a.Constraint.Timeout
		}
	}
	return timeout
}

// candidates resolves the requested role names against the assigned set.
// An explicit request for a role the user does not hold is a caller bug
// and fails hard, unlike a temporally idle assignment.
func (s *Session) candidates(requested []string) ([]UserRoleAssignment, error) {
	if len(requested) == 0 {
		return s.Assigned, nil
	}
	out := make([]UserRoleAssignment, 0, len(requested))
	for _, name := range requested {
		a, ok := s.Assignment(Key(name))
		if !ok {
			return nil, fmt.Errorf("%w: %s for user %s", ErrRoleNotAssigned, name, s.UserID)
		}
		out = append(out, a)
	}
	return out, nil
}

// liveOrFail performs the lazy expiry transition and rejects operations
// on dead sessions. The state flip is persisted by the store even though
// an error is returned.
func liveOrFail(s *Session, now time.Time) error {
	if s.State == StateCreated && s.Expired(now) {
		s.State = StateExpired
	}
	if s.State != StateCreated {
		return &SessionStateError{SessionID: s.ID, State: s.State}
	}
	return nil
}
