// Package connection implements the Connection Session and the Listener.
//
// The Manager:
//   - Binds the listening TCP socket and accepts connections
//   - Runs one Session per accepted connection, independently of the others
//   - Delivers router replies to the sender or to every active session
//   - On Stop, closes every session and clears the Client Registry
//
// A Session reads newline-delimited frames in order, dispatches each decoded
// message synchronously, and writes replies from a dedicated writer goroutine
// fed by an unbounded outbox. Teardown runs exactly once per session.
package connection
