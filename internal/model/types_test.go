package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestClientRecord_Clone(t *testing.T) {
	now := time.Now()
	r := ClientRecord{
		ClientGUID:    "abc",
		SessionID:     "s-1",
		ConnectedAt:   now,
		LastHeartbeat: now,
		State:         map[string]json.RawMessage{"Name": json.RawMessage(`"Viper"`)},
	}

	c := r.Clone()
	c.State["Name"] = json.RawMessage(`"Maverick"`)
	c.LastHeartbeat = now.Add(time.Second)

	if string(r.State["Name"]) != `"Viper"` {
		t.Errorf("original State[Name] = %s, want %q", r.State["Name"], `"Viper"`)
	}
	if !r.LastHeartbeat.Equal(now) {
		t.Errorf("original LastHeartbeat changed to %v", r.LastHeartbeat)
	}
}

func TestClientRecord_CloneNilState(t *testing.T) {
	c := ClientRecord{ClientGUID: "abc"}.Clone()
	if c.State != nil {
		t.Errorf("State = %v, want nil", c.State)
	}
}
