// Package auth provides the session authorities and account management for chat-gateway.
//
// # Authorities
//
// An Authority turns the credential a client presents when connecting into a
// stable identity:
//
//   - TokenAuthority: the credential is an HS256 JWT minted by Accounts.Login.
//     The "sub" claim is the username, which must still exist in the user store.
//
//   - InsecureAuthority: the credential is the identity itself. Only its
//     syntax is checked. Intended for local development and tests.
//
// Every rejection wraps ErrAuthenticationFailed; the underlying cause
// (ErrInvalidToken, ErrExpiredToken, store.ErrNotFound) is kept in the chain.
//
// # Accounts
//
// Accounts registers users with Argon2id-hashed passwords and issues tokens
// on login. Registration input is validated with go-playground/validator;
// usernames must satisfy the "identity" rule so they can be used verbatim as
// websocket path parameters.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware reads "Authorization: Bearer <token>" and stores an
// AuthContext in the request context. RequirePathIdentity additionally checks
// that a path value equals the caller:
//
//	mux.Handle("GET /api/users/{identity}/conversations",
//	    auth.HTTPAuthMiddleware(authority)(
//	        auth.RequirePathIdentity("identity")(handler)))
package auth
