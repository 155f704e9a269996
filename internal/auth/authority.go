// ABOUTME: Session authorities resolve a connection credential to a user identity
// ABOUTME: TokenAuthority verifies JWTs against registered users; InsecureAuthority trusts the claim

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/chat-gateway/internal/store"
)

// ErrAuthenticationFailed is returned by every Authority when a credential is rejected.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Authority resolves a credential proof to a stable identity.
type Authority interface {
	Authenticate(ctx context.Context, credential string) (identity string, err error)
}

// UserLookup is the slice of the user store an authority needs.
type UserLookup interface {
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// TokenAuthority accepts signed session tokens whose subject is an existing user.
type TokenAuthority struct {
	verifier TokenVerifier
	users    UserLookup
}

// NewTokenAuthority creates a TokenAuthority. users may be nil to skip the
// existence check.
func NewTokenAuthority(verifier TokenVerifier, users UserLookup) *TokenAuthority {
	return &TokenAuthority{verifier: verifier, users: users}
}

// Authenticate verifies the token and that its subject still exists.
func (a *TokenAuthority) Authenticate(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", fmt.Errorf("%w: empty credential", ErrAuthenticationFailed)
	}

	identity, err := a.verifier.Verify(credential)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	if a.users != nil {
		if _, err := a.users.GetUserByUsername(ctx, identity); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", fmt.Errorf("%w: unknown user", ErrAuthenticationFailed)
			}
			return "", fmt.Errorf("%w: user lookup: %w", ErrAuthenticationFailed, err)
		}
	}
	return identity, nil
}

// InsecureAuthority treats the credential as the identity itself. It only
// checks syntax and is meant for local development.
type InsecureAuthority struct{}

// Authenticate returns credential if it is a well-formed identity.
func (InsecureAuthority) Authenticate(ctx context.Context, credential string) (string, error) {
	if !ValidIdentity(credential) {
		return "", fmt.Errorf("%w: malformed identity", ErrAuthenticationFailed)
	}
	return credential, nil
}
