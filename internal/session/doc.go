// Package session runs one authenticated client connection.
//
// A session moves through three states:
//
//	authenticating -> active -> closed
//
// Serve authenticates the credential presented at connect time. Failures
// close the transport with CloseAuthFailed and nothing is registered. On
// success the connection is registered under its identity (last connect
// wins) and inbound frames are decoded and dispatched one at a time, in
// arrival order. Request failures are reported to the acting connection as
// error frames and never end the session.
//
// When the read loop ends the session deregisters itself, guarded by its
// connection ID so a newer connection for the same identity is untouched.
//
// WebsocketTransport implements Transport over gorilla/websocket with one
// writer goroutine, a bounded outbound queue and ping/pong liveness.
package session
