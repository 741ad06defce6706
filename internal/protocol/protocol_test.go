package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nudge-chat/nudge/server/internal/protocol"
	"github.com/nudge-chat/nudge/server/internal/registry"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := protocol.Encode(protocol.EventUserJoined, protocol.Presence{
		Username: "alice",
		Time:     "2024-03-09 18:05:07",
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Event != protocol.EventUserJoined {
		t.Errorf("event = %q, want %q", env.Event, protocol.EventUserJoined)
	}

	var p protocol.Presence
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Username != "alice" || p.Time != "2024-03-09 18:05:07" {
		t.Errorf("payload = %+v", p)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"data":{}}`, `[1,2,3]`} {
		if _, err := protocol.Decode([]byte(raw)); err == nil {
			t.Errorf("Decode(%q): expected error, got nil", raw)
		}
	}
}

func TestPrivateMessageOmitsEmptySender(t *testing.T) {
	frame, err := protocol.Encode(protocol.EventPrivateMessage, protocol.PrivateMessage{
		Time:     "12:00",
		Receiver: "bob",
		Message:  "hi",
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if _, present := env.Data["sender"]; present {
		t.Error("empty sender serialized on the wire")
	}
}

func TestUserListHidesSessionsAndCredentials(t *testing.T) {
	sub := &registry.Subscription{Endpoint: "https://push.example/ep"}
	entries := protocol.UserList([]registry.Record{
		{Username: "alice", Session: "s1", Status: registry.StatusOnline, Subscription: sub},
		{Username: "bob", Status: registry.StatusOffline},
	})

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Username != "alice" || entries[0].Status != "online" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Username != "bob" || entries[1].Status != "offline" {
		t.Errorf("entries[1] = %+v", entries[1])
	}

	data, _ := json.Marshal(entries)
	for _, leak := range []string{"s1", "push.example"} {
		if strings.Contains(string(data), leak) {
			t.Errorf("wire payload leaks %q: %s", leak, data)
		}
	}
}
