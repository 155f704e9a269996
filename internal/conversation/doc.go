// Package conversation provides the conversation-level operations shared by
// websocket sessions and the HTTP API.
//
// # Service
//
//	svc := conversation.New(store, router, logger)
//	svc.SetDedupe(cache) // optional
//
// Key operations:
//
//   - CreateConversation(ctx, req): open a pair or group conversation
//   - SendMessage(ctx, req): record a message, then fan it out
//   - ListConversations(ctx, identity): a user's conversations with their latest message
//   - ListMessages(ctx, id, limit): history in ascending order
//
// # Pair De-duplication
//
// A non-group request for two identities that already share a non-group
// conversation returns the existing one with Created=false. The lookup and
// the insert are separate store calls, so two simultaneous first requests for
// the same pair can both create a conversation. Later lookups return the
// older of the two.
//
// # Identity Checks
//
// Requests carry the authenticated Actor. Initiator and Sender default to the
// Actor and must match it when given; otherwise ErrIdentityMismatch.
//
// # Record First
//
// SendMessage writes to the store before calling the Deliverer. If the write
// fails nothing is delivered. If delivery fails the message stays recorded and
// the caller still gets a result.
package conversation
