// Package registry implements the Client Registry component.
//
// The Client Registry:
//   - Maps each ClientGuid to at most one ClientRecord
//   - Applies RegisterIfAbsent, Remove and UpdateHeartbeat atomically
//   - Hands out point-in-time copies via Snapshot, never live records
//   - Publishes joined/left/cleared changes to subscribers in mutation order
//
// No lock is held while callers use a snapshot, and no operation performs I/O.
package registry
