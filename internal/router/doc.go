// Package router implements the Message Router component.
//
// The Message Router:
//   - Interprets each decoded message against the Client Registry
//   - PING: refreshes the sender's heartbeat and echoes it to every session
//   - SYNC: registers the sender if new, binds it to its session, and answers
//     the requester alone with the full roster
//   - Never touches a connection; it returns addressed replies for the
//     connection layer to deliver
//   - Tracks counters for routing outcomes
package router
