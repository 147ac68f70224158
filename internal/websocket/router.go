package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pulse/server/internal/models"
	"pulse/server/internal/store"
	"pulse/server/internal/telemetry"
)

var (
	ErrInvalidEvent     = errors.New("invalid event")
	ErrNotFriends       = errors.New("users are not friends")
	ErrNoPendingRequest = errors.New("no pending friend request")
	ErrMessageNotFound  = errors.New("message not found for receiver")
)

// Sender identifies who an inbound event came from
type Sender struct {
	UserID int64
	Name   string
	// Conn is the connection the event arrived on
	Conn Handle
}

// Router dispatches inbound events. It keeps no state between events:
// every branch persists through the gateway, pushes through the registry,
// or both, always writing before notifying.
type Router struct {
	registry *Registry
	store    store.Gateway
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// NewRouter creates a router over the given registry and gateway
func NewRouter(registry *Registry, gateway store.Gateway, logger *slog.Logger, metrics *telemetry.Metrics) *Router {
	return &Router{registry: registry, store: gateway, logger: logger, metrics: metrics}
}

// Dispatch handles one event from sender. Unknown event types are ignored.
func (r *Router) Dispatch(ctx context.Context, from Sender, ev Inbound) error {
	r.metrics.Event(string(ev.Type()))

	switch ev := ev.(type) {
	case PrivateMessage:
		return r.privateMessage(ctx, from, ev)
	case FriendRequest:
		return r.friendRequest(ctx, from, ev)
	case FriendRequestResponse:
		return r.friendRequestResponse(ctx, from, ev)
	case Typing:
		return r.typing(from, ev)
	case ReadReceipt:
		return r.readReceipt(ctx, from, ev)
	case Ping:
		if from.Conn == nil {
			r.registry.Touch(from.UserID)
			return nil
		}
		r.registry.TouchConn(from.UserID, from.Conn)
		r.registry.SendToConn(from.Conn, &Pong{})
		return nil
	case Unknown:
		r.logger.Debug("ignoring unknown event", "user", from.UserID, "type", ev.Kind)
		return nil
	}
	return nil
}

func (r *Router) privateMessage(ctx context.Context, from Sender, ev PrivateMessage) error {
	if !validTarget(from, ev.ToUserID) || strings.TrimSpace(ev.Message) == "" {
		r.reject(from, CodeInvalidEvent, "to_user_id and message are required")
		return ErrInvalidEvent
	}

	friends, err := r.store.AreFriends(ctx, from.UserID, ev.ToUserID)
	if err != nil {
		r.metrics.StoreError("are_friends")
		r.reject(from, CodeMessageFailed, "failed to send message")
		return fmt.Errorf("private message: %w", err)
	}
	if !friends {
		r.reject(from, CodeNotFriends, "you can only message your friends")
		return ErrNotFriends
	}

	messageID, createdAt, err := r.store.InsertMessage(ctx, from.UserID, ev.ToUserID, ev.Message)
	if err != nil {
		r.metrics.StoreError("insert_message")
		r.reject(from, CodeMessageFailed, "failed to send message")
		return fmt.Errorf("private message: %w", err)
	}

	// The message is durable from here on, so a failed notification insert
	// must not hold back delivery.
	_, notifyErr := r.store.InsertNotification(ctx, ev.ToUserID, models.NotificationMessage, from.UserID, ev.Message)
	if notifyErr != nil {
		r.metrics.StoreError("insert_notification")
		r.logger.Error("failed to record message notification", "message", messageID, "error", notifyErr)
	}

	r.registry.SendTo(ev.ToUserID, &MessageDelivery{
		MessageID:    messageID,
		FromUserID:   from.UserID,
		FromUsername: from.Name,
		Message:      ev.Message,
		CreatedAt:    createdAt,
	})
	r.registry.SendTo(from.UserID, &MessageSent{
		MessageID: messageID,
		ToUserID:  ev.ToUserID,
		Message:   ev.Message,
		CreatedAt: createdAt,
	})

	if notifyErr != nil {
		return fmt.Errorf("private message notification: %w", notifyErr)
	}
	return nil
}

func (r *Router) friendRequest(ctx context.Context, from Sender, ev FriendRequest) error {
	if !validTarget(from, ev.ToUserID) {
		r.reject(from, CodeInvalidEvent, "to_user_id is required")
		return ErrInvalidEvent
	}

	friends, err := r.store.AreFriends(ctx, from.UserID, ev.ToUserID)
	if err != nil {
		r.metrics.StoreError("are_friends")
		return fmt.Errorf("friend request: %w", err)
	}
	if friends {
		return nil
	}

	created, err := r.store.CreateFriendRequest(ctx, from.UserID, ev.ToUserID)
	if err != nil {
		r.metrics.StoreError("create_friend_request")
		return fmt.Errorf("friend request: %w", err)
	}
	if !created {
		// A request between the pair is already pending.
		return nil
	}

	notificationID, err := r.store.InsertNotification(ctx, ev.ToUserID, models.NotificationFriendRequest, from.UserID, ev.Message)
	if err != nil {
		r.metrics.StoreError("insert_notification")
		return fmt.Errorf("friend request notification: %w", err)
	}

	r.registry.SendTo(ev.ToUserID, &FriendRequestNotice{
		NotificationID: notificationID,
		FromUserID:     from.UserID,
		FromUsername:   from.Name,
		Message:        ev.Message,
	})
	return nil
}

func (r *Router) friendRequestResponse(ctx context.Context, from Sender, ev FriendRequestResponse) error {
	if !validTarget(from, ev.ToUserID) {
		r.reject(from, CodeInvalidEvent, "to_user_id is required")
		return ErrInvalidEvent
	}
	requester := ev.ToUserID

	switch ev.Status {
	case ResponseAccepted:
		accepted, err := r.store.AcceptFriendRequest(ctx, requester, from.UserID)
		if err != nil {
			r.metrics.StoreError("accept_friend_request")
			return fmt.Errorf("accept friend request: %w", err)
		}
		if !accepted {
			r.reject(from, CodeNoPendingRequest, "no pending friend request from this user")
			return ErrNoPendingRequest
		}

		_, notifyErr := r.store.InsertNotification(ctx, requester, models.NotificationFriendAccepted, from.UserID, "")
		if notifyErr != nil {
			r.metrics.StoreError("insert_notification")
			r.logger.Error("failed to record friend accepted notification", "user", requester, "error", notifyErr)
		}

		requesterName, requesterOnline := r.registry.DisplayName(requester)
		r.registry.SendTo(requester, &FriendAdded{UserID: from.UserID, Username: from.Name})
		r.registry.SendTo(from.UserID, &FriendAdded{UserID: requester, Username: requesterName})

		if requesterOnline && r.registry.IsOnline(from.UserID) {
			r.registry.SendTo(requester, &FriendPresence{UserID: from.UserID, Username: from.Name, Online: true})
			r.registry.SendTo(from.UserID, &FriendPresence{UserID: requester, Username: requesterName, Online: true})
		}

		if notifyErr != nil {
			return fmt.Errorf("friend accepted notification: %w", notifyErr)
		}
		return nil

	case ResponseRejected:
		declined, err := r.store.DeclineFriendRequest(ctx, requester, from.UserID)
		if err != nil {
			r.metrics.StoreError("decline_friend_request")
			return fmt.Errorf("decline friend request: %w", err)
		}
		if !declined {
			r.reject(from, CodeNoPendingRequest, "no pending friend request from this user")
			return ErrNoPendingRequest
		}
		return nil

	default:
		r.reject(from, CodeInvalidEvent, "status must be accepted or rejected")
		return ErrInvalidEvent
	}
}

func (r *Router) typing(from Sender, ev Typing) error {
	if !validTarget(from, ev.ToUserID) {
		return ErrInvalidEvent
	}
	r.registry.SendTo(ev.ToUserID, &TypingNotice{
		FromUserID:   from.UserID,
		FromUsername: from.Name,
		IsTyping:     ev.IsTyping,
	})
	return nil
}

func (r *Router) readReceipt(ctx context.Context, from Sender, ev ReadReceipt) error {
	if ev.MessageID <= 0 {
		return ErrInvalidEvent
	}

	senderID, updated, err := r.store.MarkMessageRead(ctx, ev.MessageID, from.UserID)
	if err != nil {
		r.metrics.StoreError("mark_message_read")
		return fmt.Errorf("read receipt: %w", err)
	}
	if !updated {
		return ErrMessageNotFound
	}

	r.registry.SendTo(senderID, &ReadReceiptNotice{MessageID: ev.MessageID, ReadBy: from.UserID})
	return nil
}

func (r *Router) reject(from Sender, code, message string) {
	if from.Conn == nil {
		return
	}
	r.registry.SendToConn(from.Conn, &Error{Code: code, Message: message})
}

func validTarget(from Sender, target int64) bool {
	return target > 0 && target != from.UserID
}
