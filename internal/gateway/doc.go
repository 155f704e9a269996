// Package gateway orchestrates the chat-gateway server components.
//
// # Overview
//
// The gateway owns the store, the connection registry, the conversation
// service and the session handler, and serves them over one HTTP server.
// New opens the store selected by database.driver (sqlite or mongo);
// NewWithStore accepts an already opened store.
//
// # Routes
//
//	GET  /ws/{credential}                      websocket session
//	POST /api/register                         token mode only
//	POST /api/login                            token mode only
//	POST /api/conversations                    (alias POST /create-chat)
//	GET  /api/users/{identity}/conversations   (alias GET /user-chats/{identity})
//	GET  /api/conversations/{id}/messages      (alias GET /chat-messages/{id})
//	GET  /health
//	GET  /ready
//
// In token mode the conversation routes require "Authorization: Bearer <jwt>"
// and act as the caller. In insecure mode they trust the identities named in
// the request, as the websocket trusts the path credential.
//
// # Listeners
//
// The server listens on server.http_addr, or joins a tailnet with tsnet
// when tailscale.enabled is set (plain HTTP on :80, tailnet TLS or Funnel on
// :443).
//
// # Shutdown
//
// Shutdown closes every live session with code 1001, stops the HTTP server and
// closes the store. Run calls it when its context is canceled.
package gateway
