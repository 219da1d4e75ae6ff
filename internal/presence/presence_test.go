package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rickgao/srsync/internal/model"
	"github.com/rickgao/srsync/internal/registry"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	sets    int
	failSet error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.failSet != nil {
		return f.failSet
	}
	f.values[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
		delete(f.ttls, k)
	}
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeStore) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

func TestMirror_JoinedWritesEntry(t *testing.T) {
	store := newFakeStore()
	m := NewMirror(store, "srs:presence:", 90*time.Second, "sync-1", nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m.Apply(context.Background(), model.Change{
		Type:       model.ChangeJoined,
		ClientGUID: "A",
		SessionID:  "s-a",
		RemoteAddr: "10.0.0.1:4000",
		At:         at,
	})

	raw, ok := store.get("srs:presence:A")
	if !ok {
		t.Fatal("presence key not written")
	}
	var got Entry
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	want := Entry{Instance: "sync-1", SessionID: "s-a", RemoteAddr: "10.0.0.1:4000", Since: at}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
	if store.ttls["srs:presence:A"] != 90*time.Second {
		t.Errorf("ttl = %v, want 90s", store.ttls["srs:presence:A"])
	}
}

func TestMirror_LeftAndClearedDelete(t *testing.T) {
	for _, typ := range []model.ChangeType{model.ChangeLeft, model.ChangeCleared} {
		t.Run(string(typ), func(t *testing.T) {
			store := newFakeStore()
			m := NewMirror(store, "p:", time.Minute, "sync-1", nil)

			m.Apply(context.Background(), model.Change{Type: model.ChangeJoined, ClientGUID: "A"})
			m.Apply(context.Background(), model.Change{Type: typ, ClientGUID: "A"})

			if _, ok := store.get("p:A"); ok {
				t.Error("presence key still present")
			}
			if stats := m.Stats(); stats.Sets != 1 || stats.Deletes != 1 {
				t.Errorf("Stats() = %+v, want 1 set and 1 delete", stats)
			}
		})
	}
}

func TestMirror_FollowsRegistry(t *testing.T) {
	reg := registry.New(nil)
	store := newFakeStore()
	m := NewMirror(store, "p:", time.Minute, "sync-1", nil)

	changes, cancel := reg.Subscribe(16)
	defer cancel()
	if err := m.Start(context.Background(), changes); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop(context.Background())

	reg.RegisterIfAbsent("A", model.ClientRecord{SessionID: "s-a"})
	reg.RegisterIfAbsent("B", model.ClientRecord{SessionID: "s-b"})
	reg.Remove("A")

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, hasA := store.get("p:A")
		_, hasB := store.get("p:B")
		if !hasA && hasB && m.Stats().Deletes == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("mirror did not converge: A=%v B=%v stats=%+v", hasA, hasB, m.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMirror_SetErrorCounted(t *testing.T) {
	store := newFakeStore()
	store.failSet = errors.New("READONLY")
	m := NewMirror(store, "p:", time.Minute, "sync-1", nil)

	m.Apply(context.Background(), model.Change{Type: model.ChangeJoined, ClientGUID: "A"})

	if stats := m.Stats(); stats.Errors != 1 || stats.Sets != 0 {
		t.Errorf("Stats() = %+v, want 1 error", stats)
	}
}

// join registers id and applies its Joined change to m.
func join(reg *registry.Registry, m *Mirror, id string) {
	rec := model.ClientRecord{ClientGUID: id, SessionID: "s-" + id}
	reg.RegisterIfAbsent(id, rec)
	m.Apply(context.Background(), model.Change{Type: model.ChangeJoined, ClientGUID: id, SessionID: rec.SessionID})
}

// leavingRoster applies a Left change for leave after taking its snapshot,
// as if the client disconnected while the refresh cycle was starting.
type leavingRoster struct {
	reg   *registry.Registry
	m     *Mirror
	leave string
}

func (l *leavingRoster) Snapshot() []model.ClientRecord {
	records := l.reg.Snapshot()
	l.reg.Remove(l.leave)
	l.m.Apply(context.Background(), model.Change{Type: model.ChangeLeft, ClientGUID: l.leave})
	return records
}

func TestRefresher_RefreshAll(t *testing.T) {
	reg := registry.New(nil)
	store := newFakeStore()
	m := NewMirror(store, "p:", time.Minute, "sync-1", nil)
	for _, id := range []string{"A", "B", "C"} {
		join(reg, m, id)
	}
	// Expire everything so only the refresh can bring keys back.
	store.Del(context.Background(), "p:A", "p:B", "p:C")

	r := NewRefresher(RefresherConfig{Interval: time.Hour, Concurrency: 2}, m, reg, nil)
	r.RefreshAll(context.Background())

	for _, id := range []string{"A", "B", "C"} {
		if _, ok := store.get("p:" + id); !ok {
			t.Errorf("key p:%s not refreshed", id)
		}
	}
	if r.Cycles() != 1 {
		t.Errorf("Cycles() = %d, want 1", r.Cycles())
	}
}

func TestRefresher_SkipsClientsNotJoined(t *testing.T) {
	reg := registry.New(nil)
	reg.RegisterIfAbsent("A", model.ClientRecord{ClientGUID: "A"})

	store := newFakeStore()
	m := NewMirror(store, "p:", time.Minute, "sync-1", nil)
	r := NewRefresher(RefresherConfig{Interval: time.Hour, Concurrency: 1}, m, reg, nil)

	r.RefreshAll(context.Background())

	if store.setCount() != 0 {
		t.Errorf("store Set calls = %d, want 0", store.setCount())
	}
	if _, ok := store.get("p:A"); ok {
		t.Error("key p:A written before its join was mirrored")
	}
}

func TestRefresher_DoesNotRestoreDepartedClient(t *testing.T) {
	reg := registry.New(nil)
	store := newFakeStore()
	m := NewMirror(store, "p:", time.Minute, "sync-1", nil)
	join(reg, m, "A")
	join(reg, m, "B")

	roster := &leavingRoster{reg: reg, m: m, leave: "A"}
	r := NewRefresher(RefresherConfig{Interval: time.Hour, Concurrency: 2}, m, roster, nil)
	r.RefreshAll(context.Background())

	if _, ok := store.get("p:A"); ok {
		t.Error("key p:A recreated after the client left")
	}
	if _, ok := store.get("p:B"); !ok {
		t.Error("key p:B missing after refresh")
	}
	if m.Live() != 1 {
		t.Errorf("Live() = %d, want 1", m.Live())
	}
}

func TestRefresher_FailuresDoNotStopCycle(t *testing.T) {
	reg := registry.New(nil)
	store := newFakeStore()
	store.failSet = errors.New("connection reset")
	m := NewMirror(store, "p:", time.Minute, "sync-1", nil)
	join(reg, m, "A")
	join(reg, m, "B")

	r := NewRefresher(RefresherConfig{Interval: time.Hour, Concurrency: 1}, m, reg, nil)
	r.RefreshAll(context.Background())

	// Two failed joins, then two failed refreshes.
	if store.setCount() != 4 {
		t.Errorf("store Set calls = %d, want 4", store.setCount())
	}
	if m.Stats().Errors != 4 {
		t.Errorf("mirror Errors = %d, want 4", m.Stats().Errors)
	}
	if r.Cycles() != 1 {
		t.Errorf("Cycles() = %d, want 1", r.Cycles())
	}
}

func TestRefresher_StartStop(t *testing.T) {
	reg := registry.New(nil)
	store := newFakeStore()
	m := NewMirror(store, "p:", time.Minute, "sync-1", nil)
	join(reg, m, "A")

	r := NewRefresher(RefresherConfig{Interval: 10 * time.Millisecond, Concurrency: 4}, m, reg, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Cycles() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("refresher did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if store.setCount() < 3 {
		t.Errorf("store Set calls = %d, want join plus refreshes", store.setCount())
	}
}
