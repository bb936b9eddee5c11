package rbac

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials indicates a failed password check. The message
// never distinguishes unknown users from wrong passwords.
var ErrInvalidCredentials = errors.New("rbac: invalid credentials")

// CredentialVerifier checks a user's secret before session creation. The
// policy core treats verification as a collaborator boundary and supplies
// only this bcrypt implementation.
type CredentialVerifier interface {
	Verify(ctx context.Context, userID, password string) error
}

// BcryptVerifier verifies passwords against hashes resolved through a
// CredentialStore.
type BcryptVerifier struct {
	store CredentialStore
}

// NewBcryptVerifier constructs a verifier.
func NewBcryptVerifier(store CredentialStore) *BcryptVerifier {
	return &BcryptVerifier{store: store}
}

// Verify implements CredentialVerifier.
func (v *BcryptVerifier) Verify(ctx context.Context, userID, password string) error {
	hash, err := v.store.LoadPasswordHash(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("load credential: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
