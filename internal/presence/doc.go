// Package presence mirrors the client roster into Redis for external relays.
//
// Each registered client has a key <prefix><client guid> whose value names
// the server instance and session holding it. Keys are written with a TTL
// and re-asserted periodically, so the keys of a server that dies without
// a clean shutdown expire on their own.
package presence
