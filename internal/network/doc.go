// Package network replicates the event bus across a star of peers: one
// server and any number of clients, each connected to the server by one
// persistent TCP stream.
//
// Every message on a stream is a single gob-encoded Message carrying one
// of three payloads: a game-object update, a remote event registration, or
// an Event. gob frames the stream itself; there is no heartbeat and a peer
// is considered gone on the first read or write failure.
//
// Each remote peer is represented locally by a Proxy registered on the bus.
// A Proxy is the only way a local event reaches that peer, and it applies
// the anti-echo rule:
//
//  1. never send an event back to its originator
//  2. never send to ourselves
//  3. a client sends to the server only events it originated itself
//
// Rule 3 is what stops a server broadcast from bouncing back through a
// client forever. It assumes the star topology; client-to-client links
// would need a different rule and are not supported.
//
// Server side, each peer moves Connecting → Active → Departed. Joins run
// inside one critical section shared with the periodic object broadcast so
// that a new peer's first received object is always its own avatar.
// Departure is idempotent: whichever goroutine notices the failure first
// finalizes the peer.
package network
