package service

import (
	"context"

	"authplane/internal/security"
	userdomain "authplane/internal/user/domain"
)

// UserRepo is the minimal user repository needed by the credential verifier.
type UserRepo interface {
	GetByUsername(ctx context.Context, username string) (*userdomain.User, error)
}

// CredentialVerifier checks a username/password pair against stored bcrypt
// hashes. Unknown usernames are compared against a throwaway hash so the
// response time does not reveal whether the username exists.
type CredentialVerifier struct {
	users     UserRepo
	hasher    *security.Hasher
	dummyHash string
}

// NewCredentialVerifier returns a verifier backed by users and hasher.
func NewCredentialVerifier(users UserRepo, hasher *security.Hasher) (*CredentialVerifier, error) {
	dummy, err := hasher.Hash([]byte("authplane-unknown-user-placeholder"))
	if err != nil {
		return nil, err
	}
	return &CredentialVerifier{users: users, hasher: hasher, dummyHash: dummy}, nil
}

// Verify returns the user when the credentials match an active account, and
// ErrInvalidCredentials otherwise. Lookup failures other than a missing user
// are returned as-is.
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (*userdomain.User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := v.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Burn a bcrypt comparison anyway.
		_ = v.hasher.Compare(v.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := v.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Status != userdomain.UserStatusActive {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
