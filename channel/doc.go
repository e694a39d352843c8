// Package channel implements the message transport between relay agents, the
// coordinator and viewers.
//
// A Conn wraps a websocket connection with an outbound queue, a single writer
// goroutine and envelope-level heartbeats. Delivery is ordered and
// at-most-once per send within a connection; nothing is replayed after a
// disconnect. Silence beyond the heartbeat timeout closes the connection,
// which the owner observes via Done/Err and surfaces as an agent disconnect.
//
// Two codecs frame envelopes on the wire: agents speak msgpack in binary
// frames, viewers speak JSON in text frames. Both sides of a connection must
// use the same codec.
package channel
