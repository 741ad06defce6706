package registry_test

import (
	"testing"

	"github.com/nudge-chat/nudge/server/internal/registry"
)

func TestUpsertOnline_FirstJoinThenRejoin(t *testing.T) {
	r := registry.New()

	rec, isNew := r.UpsertOnline("alice", "s1")
	if !isNew {
		t.Error("first join: expected isNew=true")
	}
	if rec.Status != registry.StatusOnline {
		t.Errorf("first join: status = %q, want online", rec.Status)
	}
	if rec.Session != "s1" {
		t.Errorf("first join: session = %q, want s1", rec.Session)
	}

	rec, isNew = r.UpsertOnline("alice", "s2")
	if isNew {
		t.Error("rejoin: expected isNew=false")
	}
	if rec.Status != registry.StatusOnline {
		t.Errorf("rejoin: status = %q, want online", rec.Status)
	}
	if rec.Session != "s2" {
		t.Errorf("rejoin: session = %q, want s2", rec.Session)
	}
}

func TestMarkOffline_ByCurrentSession(t *testing.T) {
	r := registry.New()
	r.UpsertOnline("alice", "s1")

	rec, ok := r.MarkOffline("s1")
	if !ok {
		t.Fatal("expected MarkOffline to match current session")
	}
	if rec.Username != "alice" || rec.Status != registry.StatusOffline {
		t.Errorf("got %+v, want alice offline", rec)
	}

	// Duplicate disconnect is a no-op.
	if _, ok := r.MarkOffline("s1"); ok {
		t.Error("duplicate disconnect: expected no match")
	}
}

func TestMarkOffline_IgnoresSupersededSession(t *testing.T) {
	r := registry.New()
	r.UpsertOnline("alice", "s1")
	// alice reconnects before s1's disconnect arrives.
	r.UpsertOnline("alice", "s2")

	if _, ok := r.MarkOffline("s1"); ok {
		t.Fatal("stale disconnect matched a superseded session")
	}

	rec, ok := r.LookupName("alice")
	if !ok {
		t.Fatal("alice missing from registry")
	}
	if rec.Status != registry.StatusOnline || rec.Session != "s2" {
		t.Errorf("got %+v, want online on s2", rec)
	}
}

func TestSetSubscription_PersistsAcrossTransitions(t *testing.T) {
	r := registry.New()
	sub := registry.Subscription{
		Endpoint: "https://push.example/ep",
		Keys:     registry.SubscriptionKeys{P256dh: "p", Auth: "a"},
	}

	if _, ok := r.SetSubscription("ghost", sub); ok {
		t.Error("unknown username: expected SetSubscription to report false")
	}

	r.UpsertOnline("bob", "s1")
	if _, ok := r.SetSubscription("bob", sub); !ok {
		t.Fatal("SetSubscription failed for known user")
	}

	r.MarkOffline("s1")
	r.UpsertOnline("bob", "s2")

	rec, _ := r.LookupName("bob")
	if rec.Subscription == nil || rec.Subscription.Endpoint != sub.Endpoint {
		t.Errorf("subscription lost across transitions: %+v", rec.Subscription)
	}
}

func TestRestoreSubscription_SeedsOfflineRecord(t *testing.T) {
	r := registry.New()
	stored := registry.Subscription{Endpoint: "https://push.example/old"}
	r.RestoreSubscription("carol", stored)

	rec, ok := r.LookupName("carol")
	if !ok {
		t.Fatal("restored record missing")
	}
	if rec.Status != registry.StatusOffline {
		t.Errorf("restored status = %q, want offline", rec.Status)
	}
	if rec.Subscription == nil || rec.Subscription.Endpoint != stored.Endpoint {
		t.Errorf("restored subscription = %+v", rec.Subscription)
	}

	// A live credential wins over a later restore.
	live := registry.Subscription{Endpoint: "https://push.example/new"}
	r.UpsertOnline("dave", "s1")
	r.SetSubscription("dave", live)
	r.RestoreSubscription("dave", stored)
	rec, _ = r.LookupName("dave")
	if rec.Subscription.Endpoint != live.Endpoint {
		t.Errorf("restore overwrote live subscription: %+v", rec.Subscription)
	}
}

func TestSnapshot_InsertionOrderAndRetention(t *testing.T) {
	r := registry.New()
	r.UpsertOnline("alice", "s1")
	r.UpsertOnline("bob", "s2")
	r.UpsertOnline("carol", "s3")
	r.MarkOffline("s2")
	r.UpsertOnline("alice", "s4") // rejoin must not duplicate or reorder

	snap := r.Snapshot()
	want := []string{"alice", "bob", "carol"}
	if len(snap) != len(want) {
		t.Fatalf("snapshot has %d records, want %d", len(snap), len(want))
	}
	for i, name := range want {
		if snap[i].Username != name {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap[i].Username, name)
		}
	}
	if snap[1].Status != registry.StatusOffline {
		t.Errorf("bob status = %q, want offline", snap[1].Status)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestLookupSession_TracksCurrentBinding(t *testing.T) {
	r := registry.New()
	r.UpsertOnline("alice", "s1")

	if rec, ok := r.LookupSession("s1"); !ok || rec.Username != "alice" {
		t.Errorf("LookupSession(s1) = %+v, %v", rec, ok)
	}
	r.MarkOffline("s1")
	if _, ok := r.LookupSession("s1"); ok {
		t.Error("offline session still resolvable")
	}
}
