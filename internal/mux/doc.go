// Package mux multiplexes correlated request/reply exchanges and one-way
// notifications over one duplex byte stream.
//
// Ownership boundary:
// - pending-call registry and concurrency gate
// - receive loop (single reader) and serialized writer
// - client and server roles injected as Handler implementations
//
// Framing and payload classification belong to internal/protocol/frame and
// the protocol packages built on it; mux only sees classified frames.
package mux
