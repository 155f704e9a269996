// Package protocol defines the JSON frames spoken over a chat websocket.
//
// Inbound frames carry a "type" tag. create_chat and create_conversation
// decode to *CreateConversation, send_message to *SendMessage. Any other tag
// decodes to *Unhandled without looking at the remaining fields, and the
// session ignores it. Payloads that are not objects with a string type fail
// with ErrInvalidFrame.
//
// Replies to create requests follow the dialect of the request: chat_created
// for create_chat, conversation_created for create_conversation.
package protocol
