package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps canonical sessions in Redis with a TTL safety
// net on top of the engine's lazy expiry. Per-session serialization is a
// process-local mutex: the store targets one engine instance owning its
// sessions, not a fleet sharing them.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	locks  *keyMutex
}

type sessionPayload struct {
	ID         string               `json:"id"`
	UserID     string               `json:"user_id"`
	Assigned   []UserRoleAssignment `json:"assigned"`
	Active     []string             `json:"active"`
	CreatedAt  time.Time            `json:"created_at"`
	LastAccess time.Time            `json:"last_access"`
	Timeout    time.Duration        `json:"timeout"`
	State      SessionState         `json:"state"`
	Warnings   []Warning            `json:"warnings,omitempty"`
}

// NewRedisSessionStore constructs the store. ttl bounds how long a
// session record may outlive its last write; zero disables the net.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl, locks: newKeyMutex()}
}

func (s *RedisSessionStore) key(id string) string {
	return "fortress:session:" + id
}

// Save implements SessionStore.
func (s *RedisSessionStore) Save(ctx context.Context, sess *Session) error {
	return s.write(ctx, sess)
}

// Get implements SessionStore.
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	return decodeSession(data)
}

// Update implements SessionStore: read-modify-write under the per-id
// lock. The mutated value is written back even when fn returns an error
// so lazy state transitions stick.
func (s *RedisSessionStore) Update(ctx context.Context, id string, fn func(*Session) error) error {
	lock := s.locks.lock(id)
	defer lock.Unlock()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	fnErr := fn(sess)
	if writeErr := s.write(ctx, sess); writeErr != nil {
		if fnErr != nil {
			return fnErr
		}
		return writeErr
	}
	return fnErr
}

// Delete implements SessionStore.
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// ForEach implements SessionStore by scanning the session keyspace.
func (s *RedisSessionStore) ForEach(ctx context.Context, fn func(*Session) error) error {
	iter := s.client.Scan(ctx, 0, s.key("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return err
		}
		sess, err := decodeSession(data)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *RedisSessionStore) write(ctx context.Context, sess *Session) error {
	payload := sessionPayload{
		ID:         sess.ID,
		UserID:     sess.UserID,
		Assigned:   sess.Assigned,
		Active:     sess.Active,
		CreatedAt:  sess.CreatedAt,
		LastAccess: sess.LastAccess,
		Timeout:    sess.Timeout,
		State:      sess.State,
		Warnings:   sess.Warnings,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.client.Set(ctx, s.key(sess.ID), data, s.ttl).Err()
}

func decodeSession(data []byte) (*Session, error) {
	var payload sessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &Session{
		ID:         payload.ID,
		UserID:     payload.UserID,
		Assigned:   payload.Assigned,
		Active:     payload.Active,
		CreatedAt:  payload.CreatedAt,
		LastAccess: payload.LastAccess,
		Timeout:    payload.Timeout,
		State:      payload.State,
		Warnings:   payload.Warnings,
	}, nil
}

var _ SessionStore = (*RedisSessionStore)(nil)
