// ABOUTME: Account registration and login for token-mode deployments
// ABOUTME: Validates input, stores Argon2id hashes, and mints session tokens

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/chat-gateway/internal/store"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidAccount wraps validation failures during registration.
	ErrInvalidAccount = errors.New("invalid account")
)

// dummyHash is compared against when the user does not exist so that login
// timing does not reveal which usernames are registered.
var dummyHash, _ = HashPassword("dummy-password-for-timing")

// Accounts manages user registration and login.
type Accounts struct {
	users    store.UserStore
	tokens   *JWTVerifier
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewAccounts creates an account manager.
func NewAccounts(users store.UserStore, tokens *JWTVerifier, tokenTTL time.Duration, logger *slog.Logger) *Accounts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounts{
		users:    users,
		tokens:   tokens,
		tokenTTL: tokenTTL,
		logger:   logger.With("component", "accounts"),
	}
}

// Register creates a new account. Returns store.ErrUsernameExists if taken.
func (a *Accounts) Register(ctx context.Context, req RegisterRequest) (*store.User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &store.User{Username: req.Username, PasswordHash: hash}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	a.logger.Info("user registered", "username", user.Username, "user_id", user.ID)
	return user, nil
}

// Session is a minted token.
type Session struct {
	Token     string
	ExpiresIn time.Duration
}

// Login checks credentials and mints a session token.
func (a *Accounts) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	if err := validate.Struct(req); err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := a.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_, _ = ComparePassword(req.Password, dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := ComparePassword(req.Password, user.PasswordHash)
	if err != nil {
		a.logger.Error("stored password hash unreadable", "username", user.Username, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		a.logger.Debug("login rejected", "username", user.Username)
		return nil, ErrInvalidCredentials
	}

	token, err := a.tokens.Generate(user.Username, a.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	a.logger.Info("user logged in", "username", user.Username)
	return &Session{Token: token, ExpiresIn: a.tokenTTL}, nil
}
