// Package hub coordinates presence lifecycle, private-message routing, and
// poke requests for connected chat clients. A single Hub goroutine consumes
// every inbound event in arrival order, so registry mutations are serialized
// without the handlers taking locks of their own.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nudge-chat/nudge/server/internal/clock"
	"github.com/nudge-chat/nudge/server/internal/protocol"
	"github.com/nudge-chat/nudge/server/internal/push"
	"github.com/nudge-chat/nudge/server/internal/registry"
	"github.com/nudge-chat/nudge/server/internal/store"
)

type eventKind int

const (
	evRegister eventKind = iota
	evDisconnect
	evJoin
	evSubscribe
	evMessage
	evPoke
)

// event is one unit of work for the hub loop. client is the originating
// connection; exactly one payload field is set, according to kind.
type event struct {
	kind   eventKind
	client *Client

	join      protocol.Join
	subscribe protocol.Subscribe
	message   protocol.PrivateMessage
	poke      protocol.PokeUser
}

// Hub routes events between connected clients and the presence registry.
type Hub struct {
	registry *registry.Registry
	subs     *store.SubscriptionStore // nil disables durable subscriptions
	dispatch *push.Dispatcher         // nil disables pokes
	clk      clock.Clock

	events chan event
	done   chan struct{}

	// rateBurst caps inbound events per connection per second. Zero means
	// the default in client.go. Set before any connection is accepted.
	rateBurst int

	// mu protects external reads of the connection table (e.g., health checks).
	mu    sync.RWMutex
	conns map[string]*Client // session handle → connection
}

// SetRateBurst overrides the per-connection inbound event rate limit.
func (h *Hub) SetRateBurst(burst int) {
	h.rateBurst = burst
}

// NewHub creates a hub over the given registry. subs and dispatch may be nil;
// the corresponding features then degrade to logged no-ops.
func NewHub(reg *registry.Registry, subs *store.SubscriptionStore, dispatch *push.Dispatcher, clk clock.Clock) *Hub {
	return &Hub{
		registry: reg,
		subs:     subs,
		dispatch: dispatch,
		clk:      clk,
		events:   make(chan event),
		done:     make(chan struct{}),
		conns:    make(map[string]*Client),
	}
}

// Run starts the hub's event loop. It processes events until the context is
// cancelled, then closes every remaining connection. Run should be called in
// its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case ev := <-h.events:
			h.handle(ctx, ev)
		case <-ctx.Done():
			h.closeAll()
			slog.Info("hub stopped")
			return
		}
	}
}

func (h *Hub) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evRegister:
		h.handleRegister(ev.client)
	case evDisconnect:
		h.handleDisconnect(ev.client)
	case evJoin:
		h.handleJoin(ev.client, ev.join.Username)
	case evSubscribe:
		h.handleSubscribe(ev.client, ev.subscribe)
	case evMessage:
		h.handleMessage(ev.client, ev.message)
	case evPoke:
		h.handlePoke(ctx, ev.client, ev.poke)
	}
}

// Register queues a freshly accepted connection for the hub.
func (h *Hub) Register(c *Client) {
	h.post(event{kind: evRegister, client: c})
}

// Disconnect queues a closed connection for cleanup. Safe to call after the
// hub has stopped.
func (h *Hub) Disconnect(c *Client) {
	h.post(event{kind: evDisconnect, client: c})
}

// Inbound decodes a client event envelope and queues it for the hub loop.
// Malformed or unknown events are logged and dropped.
func (h *Hub) Inbound(c *Client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoin:
		var p protocol.Join
		if !decodePayload(c, env, &p) {
			return
		}
		h.post(event{kind: evJoin, client: c, join: p})
	case protocol.EventSubscribe:
		var p protocol.Subscribe
		if !decodePayload(c, env, &p) {
			return
		}
		h.post(event{kind: evSubscribe, client: c, subscribe: p})
	case protocol.EventPrivateMessage:
		var p protocol.PrivateMessage
		if !decodePayload(c, env, &p) {
			return
		}
		h.post(event{kind: evMessage, client: c, message: p})
	case protocol.EventPokeUser:
		var p protocol.PokeUser
		if !decodePayload(c, env, &p) {
			return
		}
		h.post(event{kind: evPoke, client: c, poke: p})
	default:
		slog.Warn("unknown event", "event", env.Event, "session", c.session)
	}
}

func decodePayload(c *Client, env protocol.Envelope, into any) bool {
	if err := json.Unmarshal(env.Data, into); err != nil {
		slog.Warn("malformed event payload", "event", env.Event, "session", c.session, "error", err)
		return false
	}
	return true
}

func (h *Hub) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	h.conns[c.session] = c
	h.mu.Unlock()
	slog.Info("client connected", "session", c.session, "connections", h.ClientCount())
}

func (h *Hub) handleJoin(c *Client, username string) {
	if username == "" {
		slog.Warn("join with empty username", "session", c.session)
		return
	}
	c.username = username
	_, isNew := h.registry.UpsertOnline(username, c.session)
	stamp := h.clk.Stamp()

	// The joiner gets a full directory sync; everyone else gets the
	// join/rejoin announcement.
	if frame, err := protocol.Encode(protocol.EventUserList, protocol.UserList(h.registry.Snapshot())); err != nil {
		slog.Error("encode userList failed", "error", err)
	} else {
		h.deliver(c, frame)
	}

	name := protocol.EventUserRejoined
	if isNew {
		name = protocol.EventUserJoined
	}
	frame, err := protocol.Encode(name, protocol.Presence{Username: username, Time: stamp})
	if err != nil {
		slog.Error("encode presence event failed", "event", name, "error", err)
		return
	}
	h.broadcast(frame, c)
	slog.Info("user joined", "username", username, "session", c.session, "rejoined", !isNew)
}

func (h *Hub) handleDisconnect(c *Client) {
	h.mu.Lock()
	if cur, ok := h.conns[c.session]; ok && cur == c {
		delete(h.conns, c.session)
	}
	h.mu.Unlock()
	close(c.send)
	c.cancel()

	rec, ok := h.registry.MarkOffline(c.session)
	if !ok {
		// Duplicate disconnect, a session superseded by a rejoin, or a
		// connection that never joined. All benign.
		slog.Info("disconnect for stale session", "session", c.session)
		return
	}

	frame, err := protocol.Encode(protocol.EventUserDisconnected, protocol.Presence{Username: rec.Username, Time: h.clk.Stamp()})
	if err != nil {
		slog.Error("encode userDisconnected failed", "error", err)
		return
	}
	h.broadcast(frame, nil)
	slog.Info("user disconnected", "username", rec.Username, "session", c.session)
}

func (h *Hub) handleMessage(c *Client, msg protocol.PrivateMessage) {
	sender := c.username
	if sender == "" {
		slog.Warn("private message before join", "session", c.session)
		return
	}

	rec, ok := h.registry.LookupName(msg.Receiver)
	if !ok || rec.Status != registry.StatusOnline {
		// Best-effort protocol: no delivery guarantee, no failure signal.
		slog.Info("private message dropped: receiver unavailable", "sender", sender, "receiver", msg.Receiver)
		return
	}
	target, ok := h.conn(rec.Session)
	if !ok {
		slog.Info("private message dropped: receiver connection gone", "sender", sender, "receiver", msg.Receiver)
		return
	}

	frame, err := protocol.Encode(protocol.EventPrivateMessage, protocol.PrivateMessage{
		Time:     msg.Time,
		Sender:   sender,
		Receiver: msg.Receiver,
		Message:  msg.Message,
	})
	if err != nil {
		slog.Error("encode privateMessage failed", "error", err)
		return
	}
	// Deliver to the receiver and echo the identical frame to the sender so
	// its client renders the sent message without local echo logic.
	h.deliver(target, frame)
	h.deliver(c, frame)
	slog.Info("private message routed", "time", msg.Time, "sender", sender, "receiver", msg.Receiver)
}

func (h *Hub) handleSubscribe(c *Client, sub protocol.Subscribe) {
	rec, ok := h.registry.SetSubscription(sub.Username, sub.Subscription)
	if !ok {
		slog.Info("subscribe for unknown username", "username", sub.Username, "session", c.session)
		return
	}
	if h.subs != nil {
		if err := h.subs.Put(sub.Username, sub.Subscription); err != nil {
			slog.Error("persist subscription failed", "username", sub.Username, "error", err)
		}
	}
	slog.Info("push subscription stored", "username", rec.Username)
}

func (h *Hub) handlePoke(ctx context.Context, c *Client, poke protocol.PokeUser) {
	requester := c.username
	target, ok := h.registry.LookupName(poke.Username)
	if !ok {
		slog.Info("poke skipped: unknown target", "requester", requester, "target", poke.Username)
		return
	}
	if h.dispatch == nil {
		slog.Info("poke skipped: push dispatch not configured", "requester", requester, "target", poke.Username)
		return
	}
	h.dispatch.Poke(ctx, requester, target, poke.URL)
}

// deliver queues a frame on one client's send channel. Slow consumers are
// not waited for; the frame is dropped.
func (h *Hub) deliver(c *Client, frame []byte) {
	if !c.trySend(frame) {
		slog.Warn("send buffer full, dropping frame", "session", c.session)
	}
}

// broadcast queues a frame for every connected client except the given one.
// Pass nil to reach everyone.
func (h *Hub) broadcast(frame []byte, except *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, frame)
	}
}

func (h *Hub) conn(session string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[session]
	return c, ok
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for session, c := range h.conns {
		close(c.send)
		c.cancel()
		delete(h.conns, session)
	}
}

// ClientCount returns the number of currently connected clients.
// It is safe for concurrent use.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
