package websocket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pulse/server/internal/store"
	"pulse/server/internal/telemetry"
)

// offlineTimeout bounds the offline broadcast that runs after a
// connection's own context is gone
const offlineTimeout = 5 * time.Second

// Options tunes connection handling
type Options struct {
	PingInterval      time.Duration
	LivenessTimeout   time.Duration
	SweepInterval     time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	NotificationLimit int
	PrimaryKind       string
}

// Identity is what the handshake layer resolved for a new connection
type Identity struct {
	UserID   int64
	Username string
	Kind     string
}

// Hub wires the registry, router, presence notifier, lifecycle and
// liveness supervisor together and serves individual connections
type Hub struct {
	Registry   *Registry
	Router     *Router
	Presence   *Presence
	Lifecycle  *Lifecycle
	Supervisor *Supervisor

	opts    Options
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewHub creates a hub backed by gateway
func NewHub(gateway store.Gateway, opts Options, logger *slog.Logger, metrics *telemetry.Metrics) *Hub {
	registry := NewRegistry(logger, metrics)
	presence := NewPresence(registry, gateway, logger, metrics)
	lifecycle := NewLifecycle(registry, presence, gateway, opts.PrimaryKind, opts.NotificationLimit, logger, metrics)

	return &Hub{
		Registry:   registry,
		Router:     NewRouter(registry, gateway, logger, metrics),
		Presence:   presence,
		Lifecycle:  lifecycle,
		Supervisor: NewSupervisor(registry, lifecycle, opts.LivenessTimeout, opts.SweepInterval, logger, metrics),
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run starts the liveness supervisor and blocks until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.Supervisor.Run(ctx)
}

// Serve runs one connection from handshake to close. It blocks until the
// transport fails, the peer closes, or the supervisor evicts it.
func (h *Hub) Serve(ctx context.Context, conn Transport, id Identity) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var client *Client
	client = NewClient(conn, h.opts, func() { h.Registry.TouchConn(id.UserID, client) }, h.logger)
	info := Connection{
		UserID:      id.UserID,
		Handle:      client,
		DisplayName: id.Username,
		Kind:        id.Kind,
	}

	go client.WritePump()

	if err := h.Lifecycle.Connect(connCtx, info); err != nil {
		h.logger.Warn("connect side effects failed", "user", id.UserID, "error", err)
	}

	sender := Sender{UserID: id.UserID, Name: id.Username, Conn: client}
	client.ReadPump(func(data []byte) {
		h.handleFrame(connCtx, sender, data)
	})

	client.Close()
	cancel()
	// The transport is recycled once Serve returns.
	<-client.stopped

	offCtx, offCancel := context.WithTimeout(context.WithoutCancel(ctx), offlineTimeout)
	defer offCancel()
	if _, err := h.Lifecycle.Disconnect(offCtx, info); err != nil {
		h.logger.Error("failed to announce offline", "user", id.UserID, "error", err)
	}
}

func (h *Hub) handleFrame(ctx context.Context, from Sender, data []byte) {
	ev, err := ParseInbound(data)
	if err != nil {
		h.logger.Warn("dropping malformed event", "user", from.UserID, "error", err)
		return
	}

	err = h.Router.Dispatch(ctx, from, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFriends), errors.Is(err, ErrNoPendingRequest),
		errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrInvalidEvent):
		h.logger.Info("event rejected", "user", from.UserID, "type", ev.Type(), "reason", err)
	default:
		h.logger.Error("event failed", "user", from.UserID, "type", ev.Type(), "error", err)
	}
}
