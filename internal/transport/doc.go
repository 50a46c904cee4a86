// Package transport supplies the byte streams endpoints run over.
//
// Ownership boundaries:
//   - in-process pairs (Pipe) for tests and single-binary demos
//   - TCP dialing with retry backoff, listening and accept loops, optional TLS
//   - WebSocket connections presented as a plain byte stream
//
// Nothing here knows about frames or correlation ids; endpoints take the
// returned streams as an io.Reader and io.Writer.
package transport
