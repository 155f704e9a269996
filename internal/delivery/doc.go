// Package delivery fans new_message frames out to connected participants.
//
// The Router looks up the conversation, encodes the frame once and sends it
// to each participant found in the Directory, sender included. Participants
// with no live connection are reported as StatusAbsent; a failed or timed out
// write is StatusFailed and does not stop delivery to the rest.
package delivery
