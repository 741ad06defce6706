// Command nudged is the presence and private-messaging relay. Clients connect
// over a WebSocket, announce a username, exchange private messages, and may
// poke offline peers via Web Push.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/nudge-chat/nudge/server/internal/clock"
	"github.com/nudge-chat/nudge/server/internal/hub"
	"github.com/nudge-chat/nudge/server/internal/push"
	"github.com/nudge-chat/nudge/server/internal/registry"
	"github.com/nudge-chat/nudge/server/internal/session"
	"github.com/nudge-chat/nudge/server/internal/store"
)

func main() {
	port := envOr("NUDGE_PORT", "3000")
	dbPath := envOr("NUDGE_DB_PATH", "nudge.db")
	staticDir := envOr("NUDGE_STATIC_DIR", "public")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenDB(dbPath)
	if err != nil {
		slog.Error("open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	subs, err := store.NewSubscriptionStore(db)
	if err != nil {
		slog.Error("open subscription store", "error", err)
		os.Exit(1)
	}

	reg := registry.New()
	restored := 0
	err = subs.ForEach(func(username string, sub registry.Subscription) {
		reg.RestoreSubscription(username, sub)
		restored++
	})
	if err != nil {
		slog.Error("restore subscriptions", "error", err)
		os.Exit(1)
	}
	slog.Info("subscriptions restored", "count", restored)

	vapidPublic := os.Getenv("NUDGE_VAPID_PUBLIC_KEY")
	vapidPrivate := os.Getenv("NUDGE_VAPID_PRIVATE_KEY")
	vapidSubject := envOr("NUDGE_VAPID_SUBJECT", "mailto:ops@nudge.local")
	if vapidPublic == "" || vapidPrivate == "" {
		slog.Warn("VAPID keys not configured, poke notifications disabled")
	}
	dispatcher := push.NewDispatcher(vapidPublic, vapidPrivate, vapidSubject)

	h := hub.NewHub(reg, subs, dispatcher, clock.System())
	if burst := os.Getenv("NUDGE_RATE_BURST"); burst != "" {
		if n, err := strconv.Atoi(burst); err == nil && n > 0 {
			h.SetRateBurst(n)
		} else {
			slog.Warn("ignoring invalid NUDGE_RATE_BURST", "value", burst)
		}
	}
	go h.Run(ctx)

	r := chi.NewRouter()
	r.Get("/ws", wsHandler(ctx, h))
	r.Get("/health", healthHandler(h, reg))
	r.Handle("/*", http.FileServer(http.Dir(staticDir)))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// Start server in a goroutine so we can listen for shutdown signals.
	go func() {
		slog.Info("server starting", "port", port, "static", staticDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	dispatcher.Wait()
	slog.Info("server stopped")
}

// wsHandler upgrades the connection, assigns it a session handle, and hands
// it to the hub. The username arrives later as the client's join event.
func wsHandler(serverCtx context.Context, h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle, err := session.NewHandle()
		if err != nil {
			slog.Error("session handle generation failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// The web client is served from this same origin; anything else
			// is development tooling.
			InsecureSkipVerify: true,
		})
		if err != nil {
			slog.Error("websocket accept error", "session", handle, "error", err)
			return
		}

		client := hub.NewClient(h, conn, handle, serverCtx)
		h.Register(client)

		go client.ReadPump()
		go client.WritePump()
		go client.HeartbeatLoop()
	}
}

// healthHandler reports connection and directory counts.
func healthHandler(h *hub.Hub, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]int{
			"goroutines":  runtime.NumGoroutine(),
			"connections": h.ClientCount(),
			"users":       reg.Len(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
