package models

import "time"

// NotificationKind is the reason a notification was recorded
type NotificationKind string

const (
	NotificationMessage        NotificationKind = "message"
	NotificationFriendRequest  NotificationKind = "friend_request"
	NotificationFriendAccepted NotificationKind = "friend_accepted"
)

// Notification is a durable record of something a user should see on next connect
type Notification struct {
	ID         int64            `json:"id" db:"id"`
	UserID     int64            `json:"user_id" db:"user_id"`
	Kind       NotificationKind `json:"kind" db:"kind"`
	FromUserID int64            `json:"from_user_id" db:"from_user_id"`
	Body       string           `json:"body,omitempty" db:"body"`
	IsRead     bool             `json:"is_read" db:"is_read"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}
