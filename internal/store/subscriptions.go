// Package store persists push subscriptions in bbolt so that offline users
// can still be poked after a server restart. The presence registry itself is
// deliberately in-memory only; subscriptions are the one piece of state worth
// keeping.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nudge-chat/nudge/server/internal/registry"
)

var subscriptionsBucket = []byte("push_subscriptions")

// OpenDB opens (or creates) the server database at path.
func OpenDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

// SubscriptionStore is a bbolt-backed map of username to push subscription.
type SubscriptionStore struct {
	db *bolt.DB
}

// NewSubscriptionStore creates or opens the subscription bucket in db.
func NewSubscriptionStore(db *bolt.DB) (*SubscriptionStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(subscriptionsBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &SubscriptionStore{db: db}, nil
}

// Put stores (or replaces) the subscription for a username.
func (s *SubscriptionStore) Put(username string, sub registry.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode subscription for %s: %w", username, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(subscriptionsBucket).Put([]byte(username), data)
	})
}

// Get returns the stored subscription for a username, if any.
func (s *SubscriptionStore) Get(username string) (registry.Subscription, bool, error) {
	var (
		sub   registry.Subscription
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(subscriptionsBucket).Get([]byte(username))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &sub); err != nil {
			return fmt.Errorf("decode subscription for %s: %w", username, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return registry.Subscription{}, false, err
	}
	return sub, found, nil
}

// ForEach calls fn for every stored subscription. Malformed entries are
// skipped rather than aborting the walk.
func (s *SubscriptionStore) ForEach(fn func(username string, sub registry.Subscription)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(subscriptionsBucket).ForEach(func(k, v []byte) error {
			var sub registry.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return nil
			}
			fn(string(k), sub)
			return nil
		})
	})
}
