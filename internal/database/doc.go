// Package database provides the PostgreSQL connection pool and the
// session-event journal.
//
// The journal is an append-only audit trail of registry changes
// (joined, left, cleared). It is never read back: the client registry
// always starts empty.
package database
