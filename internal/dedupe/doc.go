// Package dedupe provides a time-bounded cache used to recognize client
// retransmissions: a send_message frame carrying a dedupe key already seen
// from the same sender maps back to the message it produced the first time.
package dedupe
