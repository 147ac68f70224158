package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pulse/server/internal/models"
	"pulse/server/internal/store"
	"pulse/server/internal/telemetry"
)

// Lifecycle drives one physical connection from Connecting to Active and
// from Active to Closed. Closed is terminal; a reconnect is a new connection.
type Lifecycle struct {
	registry *Registry
	presence *Presence
	store    store.Gateway
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	primaryKind       string
	notificationLimit int
}

// NewLifecycle creates the connect/disconnect state machine
func NewLifecycle(registry *Registry, presence *Presence, gateway store.Gateway, primaryKind string, notificationLimit int, logger *slog.Logger, metrics *telemetry.Metrics) *Lifecycle {
	return &Lifecycle{
		registry:          registry,
		presence:          presence,
		store:             gateway,
		logger:            logger,
		metrics:           metrics,
		primaryKind:       primaryKind,
		notificationLimit: notificationLimit,
	}
}

// IsPrimary reports whether kind is the connection kind that receives
// snapshots on connect. An empty kind counts as primary.
func (l *Lifecycle) IsPrimary(kind string) bool {
	return kind == "" || kind == l.primaryKind
}

// Connect activates c: it is registered, acknowledged, announced to online
// friends and, for primary connections, sent the presence snapshot and
// unread backlog. The connection stays active whatever error is returned.
func (l *Lifecycle) Connect(ctx context.Context, c Connection) error {
	l.registry.Register(c.UserID, c.Handle, c.DisplayName, c.Kind)
	l.registry.SendToConn(c.Handle, &Connected{
		UserID:         c.UserID,
		Username:       c.DisplayName,
		ConnectionKind: c.Kind,
	})

	var errs []error
	if _, err := l.presence.Announce(ctx, c.UserID, c.DisplayName, true); err != nil {
		errs = append(errs, err)
	}
	if l.IsPrimary(c.Kind) {
		if err := l.replay(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}

	l.logger.Info("client connected", "user", c.UserID, "conn", c.Handle.ID(), "kind", c.Kind)
	return errors.Join(errs...)
}

func (l *Lifecycle) replay(ctx context.Context, c Connection) error {
	friends, err := l.presence.OnlineFriends(ctx, c.UserID)
	if err != nil {
		return err
	}
	l.registry.SendToConn(c.Handle, &OnlineFriends{Friends: friends})

	notifications, err := l.store.FetchUnreadNotifications(ctx, c.UserID, l.notificationLimit)
	if err != nil {
		l.metrics.StoreError("fetch_notifications")
		return fmt.Errorf("replay notifications: %w", err)
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	l.registry.SendToConn(c.Handle, &Notifications{Notifications: notifications})

	ids := make([]int64, 0, len(notifications))
	for _, n := range notifications {
		ids = append(ids, n.ID)
	}
	if err := l.store.MarkNotificationsRead(ctx, c.UserID, ids); err != nil {
		l.metrics.StoreError("mark_notifications_read")
		return fmt.Errorf("replay notifications: %w", err)
	}

	messages, err := l.store.FetchUnreadMessages(ctx, c.UserID, l.notificationLimit)
	if err != nil {
		l.metrics.StoreError("fetch_messages")
		return fmt.Errorf("replay messages: %w", err)
	}
	if messages == nil {
		messages = []models.Message{}
	}
	l.registry.SendToConn(c.Handle, &UnreadMessages{Messages: messages})
	return nil
}

// Disconnect closes c. When it was the user's last connection the user's
// online friends are told they went offline, and offline is true. Calling
// Disconnect again for the same connection is a no-op.
func (l *Lifecycle) Disconnect(ctx context.Context, c Connection) (offline bool, err error) {
	remaining, removed := l.registry.Unregister(c.UserID, c.Handle)
	if !removed {
		return false, nil
	}

	l.logger.Info("client disconnected", "user", c.UserID, "conn", c.Handle.ID(), "remaining", remaining)
	if remaining > 0 {
		return false, nil
	}

	if _, err := l.presence.Announce(ctx, c.UserID, c.DisplayName, false); err != nil {
		return true, err
	}
	return true, nil
}
