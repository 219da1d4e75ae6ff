// Package model defines shared data types used across the sync server.
//
// Conventions:
//   - Client identifiers are the opaque ClientGuid strings clients announce on the wire
//   - Session identifiers are server-assigned UUID strings
//   - Timestamps are time.Time taken from time.Now, so they carry a monotonic reading
package model
