// Package registry implements the in-memory user directory. It is the single
// authority for a username's online/offline status, the transport session
// currently bound to it, and its stored push subscription.
//
// The directory keeps two indexes over the same records, one by username and
// one by live session handle, so that message routing resolves by name while
// disconnects resolve by session. Records live for the life of the process;
// nothing is ever deleted.
package registry

import "sync"

// Status is a username's presence at a point in time.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Subscription is the Web Push credential for one client endpoint. The server
// treats it as an opaque blob: it is stored, persisted, and handed to the
// push transport unmodified.
type Subscription struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

// SubscriptionKeys carries the client's encryption material for push payloads.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Record is one username's presence entry. Session holds the last known
// session handle; it identifies a live connection only while Status is
// online and must never be used for delivery otherwise.
type Record struct {
	Username     string
	Session      string
	Status       Status
	Subscription *Subscription
}

// Registry is the mutable user directory. Methods are safe for concurrent
// use; callers receive copies of records, never the backing entries.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*Record
	bySession map[string]*Record
	order     []string // usernames in first-join order, for snapshots
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byName:    make(map[string]*Record),
		bySession: make(map[string]*Record),
	}
}

// UpsertOnline binds username to the given session handle and marks it
// online, creating the record on a first-time join. isNew reports whether
// this was the username's first join, so the caller can pick the right
// broadcast event. It always succeeds.
func (r *Registry) UpsertOnline(username, session string) (rec Record, isNew bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byName[username]
	if !ok {
		entry = &Record{Username: username}
		r.byName[username] = entry
		r.order = append(r.order, username)
	}
	// A rejoin supersedes the previous session: drop its index entry so a
	// late disconnect of the old session cannot touch this record.
	if entry.Session != "" {
		delete(r.bySession, entry.Session)
	}
	entry.Session = session
	entry.Status = StatusOnline
	r.bySession[session] = entry
	return *entry, !ok
}

// MarkOffline looks up the record currently bound to the given session handle
// and marks it offline. It returns false when no record holds that session:
// a duplicate disconnect, or a session already superseded by a newer join
// under the same username. Both are benign.
func (r *Registry) MarkOffline(session string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.bySession[session]
	if !ok {
		return Record{}, false
	}
	delete(r.bySession, session)
	entry.Status = StatusOffline
	// entry.Session keeps the stale handle for diagnostics only.
	return *entry, true
}

// SetSubscription attaches a push credential to the named record, replacing
// any previous one. It returns false when the username is unknown.
func (r *Registry) SetSubscription(username string, sub Subscription) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byName[username]
	if !ok {
		return Record{}, false
	}
	entry.Subscription = &sub
	return *entry, true
}

// RestoreSubscription seeds a subscription loaded from durable storage,
// creating an offline record when the username has not joined since startup.
// A credential set by a live subscribe event wins over the stored one.
func (r *Registry) RestoreSubscription(username string, sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byName[username]
	if !ok {
		entry = &Record{Username: username, Status: StatusOffline}
		r.byName[username] = entry
		r.order = append(r.order, username)
	}
	if entry.Subscription == nil {
		entry.Subscription = &sub
	}
}

// LookupName returns the record for a username, if any.
func (r *Registry) LookupName(username string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byName[username]
	if !ok {
		return Record{}, false
	}
	return *entry, true
}

// LookupSession returns the record currently bound to a session handle.
func (r *Registry) LookupSession(session string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.bySession[session]
	if !ok {
		return Record{}, false
	}
	return *entry, true
}

// Snapshot returns a copy of every record in first-join order, regardless of
// current status. It backs the userList sync sent to a newly joined client.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.byName[name])
	}
	return out
}

// Len returns the number of known usernames.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
