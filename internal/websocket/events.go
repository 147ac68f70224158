package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pulse/server/internal/models"
)

// EventType is the wire discriminator carried in every frame's "type" field
type EventType string

const (
	// Client and server events
	EventPrivateMessage EventType = "private_message"
	EventFriendRequest  EventType = "friend_request"
	EventReadReceipt    EventType = "read_receipt"
	EventTyping         EventType = "typing"

	// Client-only events
	EventFriendRequestResponse EventType = "friend_request_response"
	EventPing                  EventType = "ping"

	// Server-only events
	EventConnected      EventType = "connected"
	EventMessageSent    EventType = "message_sent"
	EventFriendAdded    EventType = "friend_added"
	EventFriendOnline   EventType = "friend_online"
	EventFriendOffline  EventType = "friend_offline"
	EventOnlineFriends  EventType = "online_friends"
	EventNotifications  EventType = "notifications"
	EventUnreadMessages EventType = "unread_messages"
	EventPong           EventType = "pong"
	EventError          EventType = "error"
)

// Friend request response statuses
const (
	ResponseAccepted = "accepted"
	ResponseRejected = "rejected"
)

// Error codes carried by Error events
const (
	CodeInvalidEvent     = "invalid_event"
	CodeNotFriends       = "not_friends"
	CodeMessageFailed    = "message_failed"
	CodeNoPendingRequest = "no_pending_request"
	CodeRequestFailed    = "request_failed"
)

// ErrMissingType is returned for frames without a "type" discriminator
var ErrMissingType = errors.New("event has no type")

// Inbound is an event received from a client. The set of implementations is
// closed to this package.
type Inbound interface {
	Type() EventType
	inbound()
}

// PrivateMessage sends Message to ToUserID
type PrivateMessage struct {
	ToUserID int64  `json:"to_user_id"`
	Message  string `json:"message"`
}

// FriendRequest asks ToUserID to become a friend
type FriendRequest struct {
	ToUserID int64  `json:"to_user_id"`
	Message  string `json:"message,omitempty"`
}

// FriendRequestResponse answers a request previously sent by ToUserID
type FriendRequestResponse struct {
	ToUserID int64  `json:"to_user_id"`
	Status   string `json:"status"`
}

// Typing toggles the typing indicator shown to ToUserID
type Typing struct {
	ToUserID int64 `json:"to_user_id"`
	IsTyping bool  `json:"is_typing"`
}

// ReadReceipt marks MessageID as read by the caller
type ReadReceipt struct {
	MessageID int64 `json:"message_id"`
}

// Ping is an application-level liveness probe
type Ping struct{}

// Unknown is any event type this server does not understand
type Unknown struct {
	Kind EventType
}

func (PrivateMessage) Type() EventType        { return EventPrivateMessage }
func (FriendRequest) Type() EventType         { return EventFriendRequest }
func (FriendRequestResponse) Type() EventType { return EventFriendRequestResponse }
func (Typing) Type() EventType                { return EventTyping }
func (ReadReceipt) Type() EventType           { return EventReadReceipt }
func (Ping) Type() EventType                  { return EventPing }
func (u Unknown) Type() EventType             { return u.Kind }

func (PrivateMessage) inbound()        {}
func (FriendRequest) inbound()         {}
func (FriendRequestResponse) inbound() {}
func (Typing) inbound()                {}
func (ReadReceipt) inbound()           {}
func (Ping) inbound()                  {}
func (Unknown) inbound()               {}

// ParseInbound decodes one client frame into its concrete event
func ParseInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type == "" {
		return nil, ErrMissingType
	}

	var ev Inbound
	var err error
	switch envelope.Type {
	case EventPrivateMessage:
		ev, err = decode[PrivateMessage](data)
	case EventFriendRequest:
		ev, err = decode[FriendRequest](data)
	case EventFriendRequestResponse:
		ev, err = decode[FriendRequestResponse](data)
	case EventTyping:
		ev, err = decode[Typing](data)
	case EventReadReceipt:
		ev, err = decode[ReadReceipt](data)
	case EventPing:
		ev = Ping{}
	default:
		ev = Unknown{Kind: envelope.Type}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	return ev, nil
}

func decode[T Inbound](data []byte) (T, error) {
	var ev T
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// Outbound is an event pushed to clients. Every outbound frame carries its
// type and the time it was encoded.
type Outbound interface {
	Type() EventType
	header() *Header
}

// Header is embedded in every outbound event
type Header struct {
	Kind      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Header) header() *Header { return h }

// Encode stamps ev with its type and at, then serializes it
func Encode(ev Outbound, at time.Time) ([]byte, error) {
	h := ev.header()
	h.Kind = ev.Type()
	h.Timestamp = at
	return json.Marshal(ev)
}

// Connected acknowledges a successful handshake
type Connected struct {
	Header
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	ConnectionKind string `json:"connection_kind"`
}

// MessageDelivery carries a direct message to its receiver
type MessageDelivery struct {
	Header
	MessageID    int64     `json:"message_id"`
	FromUserID   int64     `json:"from_user_id"`
	FromUsername string    `json:"from_username"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// MessageSent acknowledges a persisted direct message to its sender
type MessageSent struct {
	Header
	MessageID int64     `json:"message_id"`
	ToUserID  int64     `json:"to_user_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// FriendRequestNotice tells a user someone wants to be their friend
type FriendRequestNotice struct {
	Header
	NotificationID int64  `json:"notification_id"`
	FromUserID     int64  `json:"from_user_id"`
	FromUsername   string `json:"from_username"`
	Message        string `json:"message,omitempty"`
}

// FriendAdded tells a user a friendship with UserID is now accepted
type FriendAdded struct {
	Header
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// FriendPresence reports a friend going online or offline
type FriendPresence struct {
	Header
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Online   bool   `json:"-"`
}

// FriendSummary is one entry of an OnlineFriends snapshot
type FriendSummary struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// OnlineFriends is the presence snapshot sent on a primary connect
type OnlineFriends struct {
	Header
	Friends []FriendSummary `json:"friends"`
}

// Notifications replays unread notifications, newest first
type Notifications struct {
	Header
	Notifications []models.Notification `json:"notifications"`
}

// UnreadMessages replays unread direct messages, newest first
type UnreadMessages struct {
	Header
	Messages []models.Message `json:"messages"`
}

// TypingNotice forwards a typing indicator
type TypingNotice struct {
	Header
	FromUserID   int64  `json:"from_user_id"`
	FromUsername string `json:"from_username"`
	IsTyping     bool   `json:"is_typing"`
}

// ReadReceiptNotice tells a sender their message was read
type ReadReceiptNotice struct {
	Header
	MessageID int64 `json:"message_id"`
	ReadBy    int64 `json:"read_by"`
}

// Pong answers a Ping
type Pong struct {
	Header
}

// Error reports a rejected or failed event to the originating connection
type Error struct {
	Header
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (*Connected) Type() EventType           { return EventConnected }
func (*MessageDelivery) Type() EventType     { return EventPrivateMessage }
func (*MessageSent) Type() EventType         { return EventMessageSent }
func (*FriendRequestNotice) Type() EventType { return EventFriendRequest }
func (*FriendAdded) Type() EventType         { return EventFriendAdded }
func (*OnlineFriends) Type() EventType       { return EventOnlineFriends }
func (*Notifications) Type() EventType       { return EventNotifications }
func (*UnreadMessages) Type() EventType      { return EventUnreadMessages }
func (*TypingNotice) Type() EventType        { return EventTyping }
func (*ReadReceiptNotice) Type() EventType   { return EventReadReceipt }
func (*Pong) Type() EventType                { return EventPong }
func (*Error) Type() EventType               { return EventError }

func (p *FriendPresence) Type() EventType {
	if p.Online {
		return EventFriendOnline
	}
	return EventFriendOffline
}
