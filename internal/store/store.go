// Package store is the durable side of the relay: messages, notifications
// and the friend graph.
package store

import (
	"context"
	"errors"
	"time"

	"pulse/server/internal/models"
)

// ErrInvalidUser is returned when a friend-graph operation names the same
// user on both sides or a non-positive id.
var ErrInvalidUser = errors.New("store: invalid user pair")

// Gateway is the persistence contract consumed by the websocket core.
// Implementations must be safe for concurrent use.
type Gateway interface {
	InsertMessage(ctx context.Context, senderID, receiverID int64, body string) (int64, time.Time, error)
	// MarkMessageRead flags the message read only when receiverID owns it.
	// It reports the original sender and whether a row was updated.
	MarkMessageRead(ctx context.Context, messageID, receiverID int64) (int64, bool, error)
	// FetchUnreadMessages returns unread messages for receiverID, newest first.
	FetchUnreadMessages(ctx context.Context, receiverID int64, limit int) ([]models.Message, error)

	InsertNotification(ctx context.Context, userID int64, kind models.NotificationKind, fromUserID int64, body string) (int64, error)
	// FetchUnreadNotifications returns unread notifications, newest first.
	FetchUnreadNotifications(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID int64, ids []int64) error

	FetchAcceptedFriendIDs(ctx context.Context, userID int64) ([]int64, error)
	AreFriends(ctx context.Context, a, b int64) (bool, error)
	// CreateFriendRequest inserts a pending row unless the pair already has one.
	CreateFriendRequest(ctx context.Context, from, to int64) (bool, error)
	// AcceptFriendRequest flips a pending request from requester to target.
	AcceptFriendRequest(ctx context.Context, requester, target int64) (bool, error)
	DeclineFriendRequest(ctx context.Context, requester, target int64) (bool, error)

	Close() error
}

func validPair(a, b int64) error {
	if a <= 0 || b <= 0 || a == b {
		return ErrInvalidUser
	}
	return nil
}
