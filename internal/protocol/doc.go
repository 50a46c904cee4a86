// Package protocol owns wire contract and parsing primitives.
//
// Ownership boundary:
// - frame: line-feed framing, frame classification contract, decoder
// - msgid: correlation id allocation
// - jsonrpc: JSON message classification and the JSON client/server roles
package protocol
