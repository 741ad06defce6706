// Package protocol defines the JSON events exchanged with chat clients over
// the WebSocket. Every frame is an envelope naming the event and carrying its
// payload.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/nudge-chat/nudge/server/internal/registry"
)

// Inbound event names (client to server).
const (
	EventJoin           = "join"
	EventSubscribe      = "subscribe"
	EventPrivateMessage = "privateMessage"
	EventPokeUser       = "pokeUser"
)

// Outbound event names (server to clients).
const (
	EventUserList         = "userList"
	EventUserJoined       = "userJoined"
	EventUserRejoined     = "userRejoined"
	EventUserDisconnected = "userDisconnected"
)

// Envelope frames every event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Join announces the username a client wants bound to its connection.
type Join struct {
	Username string `json:"username"`
}

// Subscribe attaches a Web Push credential to a username.
type Subscribe struct {
	Username     string                `json:"username"`
	Subscription registry.Subscription `json:"subscription"`
}

// PrivateMessage is both the inbound send request and the outbound delivery.
// Sender is empty inbound; the server fills it from the session's username.
type PrivateMessage struct {
	Time     string `json:"time"`
	Sender   string `json:"sender,omitempty"`
	Receiver string `json:"receiver"`
	Message  string `json:"message"`
}

// PokeUser asks the server to push-notify an offline username.
type PokeUser struct {
	Username string `json:"username"`
	URL      string `json:"url"`
}

// Presence is the payload of userJoined, userRejoined, and userDisconnected.
type Presence struct {
	Username string `json:"username"`
	Time     string `json:"time"`
}

// UserEntry is one row of the userList sync. Session handles and push
// credentials never go on the wire.
type UserEntry struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// UserList builds the userList payload from a registry snapshot.
func UserList(records []registry.Record) []UserEntry {
	entries := make([]UserEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, UserEntry{Username: rec.Username, Status: string(rec.Status)})
	}
	return entries
}

// Encode marshals an event and its payload into a wire frame.
func Encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return frame, nil
}

// Decode parses a wire frame into its envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode event envelope: missing event name")
	}
	return env, nil
}
