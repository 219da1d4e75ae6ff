package model

import (
	"encoding/json"
	"maps"
	"time"
)

// -----------------------------------------------------------------------------
// Registry Types
// -----------------------------------------------------------------------------

// ClientRecord is the registry entry for one connected client.
//
// The owning session is referenced by SessionID only; the network connection
// itself belongs to that session and is never reachable from a record.
type ClientRecord struct {
	ClientGUID    string                     // Registry key, as claimed by the client
	SessionID     string                     // Session that registered the client
	RemoteAddr    string                     // Peer address of the owning session
	ConnectedAt   time.Time                  // Registration time
	LastHeartbeat time.Time                  // Last PING (registration time until the first one)
	State         map[string]json.RawMessage // Client state fields echoed verbatim in rosters
}

// Clone returns a copy that shares no mutable state with r.
// Raw state values are immutable once stored, so only the map is copied.
func (r ClientRecord) Clone() ClientRecord {
	if r.State != nil {
		r.State = maps.Clone(r.State)
	}
	return r
}

// -----------------------------------------------------------------------------
// Change Feed Types
// -----------------------------------------------------------------------------

// ChangeType identifies a registry mutation.
type ChangeType string

const (
	ChangeJoined  ChangeType = "joined"  // Record inserted
	ChangeLeft    ChangeType = "left"    // Record removed by its session's teardown
	ChangeCleared ChangeType = "cleared" // Record removed by a full registry clear
)

// Change describes one registry mutation, in the order it was applied.
type Change struct {
	Type       ChangeType
	ClientGUID string
	SessionID  string
	RemoteAddr string
	At         time.Time
}
