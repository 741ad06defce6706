// Package push implements the poke decision logic and the Web Push dispatch
// behind it. A poke reaches the external push service only when the target is
// offline and has a stored subscription; every other case is a logged no-op.
// Dispatch is fire-and-forget: the requester never learns whether it worked.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/nudge-chat/nudge/server/internal/registry"
)

// Title is the fixed notification title shown by the client service worker.
const Title = "nudge"

// Payload is the JSON body delivered to the client's service worker.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// SendFunc performs one Web Push delivery. Tests substitute it to observe
// dispatch decisions without a network round-trip.
type SendFunc func(ctx context.Context, payload []byte, sub registry.Subscription) error

// Dispatcher decides and performs poke notifications.
type Dispatcher struct {
	send    SendFunc
	enabled bool
	wg      sync.WaitGroup
}

// NewDispatcher builds a dispatcher signing requests with the given VAPID key
// pair. With an empty key pair the dispatcher is disabled and every poke is a
// logged no-op, so the server can run without push configured.
func NewDispatcher(vapidPublicKey, vapidPrivateKey, subject string) *Dispatcher {
	d := &Dispatcher{enabled: vapidPublicKey != "" && vapidPrivateKey != ""}
	d.send = func(ctx context.Context, payload []byte, sub registry.Subscription) error {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.Keys.P256dh,
				Auth:   sub.Keys.Auth,
			},
		}, &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  vapidPublicKey,
			VAPIDPrivateKey: vapidPrivateKey,
			TTL:             60,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("push service returned %s", resp.Status)
		}
		return nil
	}
	return d
}

// NewDispatcherWithSender builds an enabled dispatcher around a custom send
// function.
func NewDispatcherWithSender(send SendFunc) *Dispatcher {
	return &Dispatcher{send: send, enabled: true}
}

// Poke dispatches a push notification to target iff it is offline and has a
// stored subscription. The dispatch runs in its own goroutine; completion,
// success or failure, only logs. Nothing propagates back to the requester.
func (d *Dispatcher) Poke(ctx context.Context, requester string, target registry.Record, url string) {
	if !d.enabled {
		slog.Info("poke skipped: push dispatch disabled", "requester", requester, "target", target.Username)
		return
	}
	if target.Status != registry.StatusOffline {
		slog.Info("poke skipped: target online", "requester", requester, "target", target.Username)
		return
	}
	if target.Subscription == nil {
		slog.Info("poke skipped: target has no push subscription", "requester", requester, "target", target.Username)
		return
	}

	payload, err := json.Marshal(Payload{
		Title: Title,
		Body:  fmt.Sprintf("%s wants you to return.", requester),
		URL:   url,
	})
	if err != nil {
		slog.Error("poke payload encode failed", "requester", requester, "target", target.Username, "error", err)
		return
	}

	sub := *target.Subscription
	username := target.Username
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.send(ctx, payload, sub); err != nil {
			slog.Error("push dispatch failed", "target", username, "error", err)
			return
		}
		slog.Info("push dispatched", "target", username, "requester", requester)
	}()
}

// Wait blocks until all in-flight dispatches have completed. Used by tests
// and shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
