package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulse/server/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		sender_id BIGINT NOT NULL,
		receiver_id BIGINT NOT NULL,
		body TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, is_read)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		from_user_id BIGINT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read)`,
	`CREATE TABLE IF NOT EXISTS friendships (
		user_id BIGINT NOT NULL,
		friend_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_friendships_pair
		ON friendships (LEAST(user_id, friend_id), GREATEST(user_id, friend_id))`,
}

// Postgres is a Gateway backed by a pgx connection pool
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool and makes sure the tables exist
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	for _, query := range postgresSchema {
		if _, err := pool.Exec(ctx, query); err != nil {
			return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) InsertMessage(ctx context.Context, senderID, receiverID int64, body string) (int64, time.Time, error) {
	var id int64
	var createdAt time.Time
	err := p.pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, receiver_id, body, is_read, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
		RETURNING id, created_at
	`, senderID, receiverID, body, time.Now()).Scan(&id, &createdAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert message: %w", err)
	}
	return id, createdAt, nil
}

func (p *Postgres) MarkMessageRead(ctx context.Context, messageID, receiverID int64) (int64, bool, error) {
	var senderID int64
	err := p.pool.QueryRow(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE id = $1 AND receiver_id = $2
		RETURNING sender_id
	`, messageID, receiverID).Scan(&senderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("mark message read: %w", err)
	}
	return senderID, true, nil
}

func (p *Postgres) FetchUnreadMessages(ctx context.Context, receiverID int64, limit int) ([]models.Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, sender_id, receiver_id, body, is_read, created_at
		FROM messages
		WHERE receiver_id = $1 AND NOT is_read
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, receiverID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unread messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (p *Postgres) InsertNotification(ctx context.Context, userID int64, kind models.NotificationKind, fromUserID int64, body string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, kind, from_user_id, body, is_read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		RETURNING id
	`, userID, string(kind), fromUserID, body, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}

func (p *Postgres) FetchUnreadNotifications(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, kind, from_user_id, body, is_read, created_at
		FROM notifications
		WHERE user_id = $1 AND NOT is_read
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unread notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		var kind string
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.FromUserID, &n.Body, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Kind = models.NotificationKind(kind)
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (p *Postgres) MarkNotificationsRead(ctx context.Context, userID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE user_id = $1 AND id = ANY($2)
	`, userID, ids)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (p *Postgres) FetchAcceptedFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT friend_id FROM friendships WHERE user_id = $1 AND status = $2
		UNION
		SELECT user_id FROM friendships WHERE friend_id = $1 AND status = $2
	`, userID, string(models.FriendshipAccepted))
	if err != nil {
		return nil, fmt.Errorf("fetch friends: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan friend id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM friendships
			WHERE ((user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1))
			AND status = $3
		)
	`, a, b, string(models.FriendshipAccepted)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return exists, nil
}

func (p *Postgres) CreateFriendRequest(ctx context.Context, from, to int64) (bool, error) {
	if err := validPair(from, to); err != nil {
		return false, err
	}
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO friendships (user_id, friend_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT DO NOTHING
	`, from, to, string(models.FriendshipPending), time.Now())
	if err != nil {
		return false, fmt.Errorf("create friend request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) AcceptFriendRequest(ctx context.Context, requester, target int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE friendships SET status = $3, updated_at = $4
		WHERE user_id = $1 AND friend_id = $2 AND status = $5
	`, requester, target, string(models.FriendshipAccepted), time.Now(), string(models.FriendshipPending))
	if err != nil {
		return false, fmt.Errorf("accept friend request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) DeclineFriendRequest(ctx context.Context, requester, target int64) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM friendships
		WHERE user_id = $1 AND friend_id = $2 AND status = $3
	`, requester, target, string(models.FriendshipPending))
	if err != nil {
		return false, fmt.Errorf("decline friend request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
