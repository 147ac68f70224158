package websocket

import (
	"context"
	"fmt"
	"log/slog"

	"pulse/server/internal/store"
	"pulse/server/internal/telemetry"
)

// Presence pushes online/offline changes to a user's connected friends
type Presence struct {
	registry *Registry
	store    store.Gateway
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// NewPresence creates a friend-scoped presence notifier
func NewPresence(registry *Registry, gateway store.Gateway, logger *slog.Logger, metrics *telemetry.Metrics) *Presence {
	return &Presence{registry: registry, store: gateway, logger: logger, metrics: metrics}
}

// Announce tells every currently connected accepted friend of userID that
// the user went online or offline. Offline friends get nothing; presence is
// never queued. It returns the number of friends notified.
func (p *Presence) Announce(ctx context.Context, userID int64, displayName string, online bool) (int, error) {
	friendIDs, err := p.store.FetchAcceptedFriendIDs(ctx, userID)
	if err != nil {
		p.metrics.StoreError("fetch_friends")
		return 0, fmt.Errorf("announce presence for %d: %w", userID, err)
	}

	if !online && p.registry.IsOnline(userID) {
		// Reconnected while friends were loading; the new connection has
		// already announced itself.
		return 0, nil
	}

	notified := 0
	for _, friendID := range friendIDs {
		if !p.registry.IsOnline(friendID) {
			continue
		}
		ev := &FriendPresence{UserID: userID, Username: displayName, Online: online}
		if p.registry.SendTo(friendID, ev) > 0 {
			notified++
		}
	}

	p.logger.Debug("presence announced", "user", userID, "online", online, "friends", len(friendIDs), "notified", notified)
	return notified, nil
}

// OnlineFriends returns the snapshot of userID's accepted friends that are
// connected right now
func (p *Presence) OnlineFriends(ctx context.Context, userID int64) ([]FriendSummary, error) {
	friendIDs, err := p.store.FetchAcceptedFriendIDs(ctx, userID)
	if err != nil {
		p.metrics.StoreError("fetch_friends")
		return nil, fmt.Errorf("online friends for %d: %w", userID, err)
	}

	friends := make([]FriendSummary, 0, len(friendIDs))
	for _, friendID := range friendIDs {
		name, online := p.registry.DisplayName(friendID)
		if !online {
			continue
		}
		friends = append(friends, FriendSummary{UserID: friendID, Username: name})
	}
	return friends, nil
}
