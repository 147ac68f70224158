package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulse/server/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL,
		receiver_id INTEGER NOT NULL,
		body TEXT NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, is_read)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		from_user_id INTEGER NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		is_read BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read)`,
	`CREATE TABLE IF NOT EXISTS friendships (
		user_id INTEGER NOT NULL,
		friend_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_friendships_pair
		ON friendships (min(user_id, friend_id), max(user_id, friend_id))`,
}

// SQLite is a Gateway backed by a local SQLite file
type SQLite struct {
	conn *sql.DB
}

// NewSQLite opens (creating if needed) the database at path
func NewSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// A single writer keeps SQLITE_BUSY out of concurrent connection tasks.
	conn.SetMaxOpenConns(1)

	for _, query := range sqliteSchema {
		if _, err := conn.Exec(query); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return &SQLite{conn: conn}, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) InsertMessage(ctx context.Context, senderID, receiverID int64, body string) (int64, time.Time, error) {
	createdAt := time.Now().UTC()
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, body, is_read, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, senderID, receiverID, body, createdAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert message: %w", err)
	}
	return id, createdAt, nil
}

func (s *SQLite) MarkMessageRead(ctx context.Context, messageID, receiverID int64) (int64, bool, error) {
	var senderID int64
	err := s.conn.QueryRowContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE id = ? AND receiver_id = ?
		RETURNING sender_id
	`, messageID, receiverID).Scan(&senderID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("mark message read: %w", err)
	}
	return senderID, true, nil
}

func (s *SQLite) FetchUnreadMessages(ctx context.Context, receiverID int64, limit int) ([]models.Message, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, body, is_read, created_at
		FROM messages
		WHERE receiver_id = ? AND is_read = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?
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

func (s *SQLite) InsertNotification(ctx context.Context, userID int64, kind models.NotificationKind, fromUserID int64, body string) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO notifications (user_id, kind, from_user_id, body, is_read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, userID, string(kind), fromUserID, body, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLite) FetchUnreadNotifications(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, user_id, kind, from_user_id, body, is_read, created_at
		FROM notifications
		WHERE user_id = ? AND is_read = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?
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

func (s *SQLite) MarkNotificationsRead(ctx context.Context, userID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.conn.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE user_id = ? AND id IN ("+placeholders+")",
		args...)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (s *SQLite) FetchAcceptedFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT friend_id FROM friendships WHERE user_id = ?1 AND status = ?2
		UNION
		SELECT user_id FROM friendships WHERE friend_id = ?1 AND status = ?2
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

func (s *SQLite) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	var exists bool
	err := s.conn.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM friendships
			WHERE ((user_id = ?1 AND friend_id = ?2) OR (user_id = ?2 AND friend_id = ?1))
			AND status = ?3
		)
	`, a, b, string(models.FriendshipAccepted)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return exists, nil
}

func (s *SQLite) CreateFriendRequest(ctx context.Context, from, to int64) (bool, error) {
	if err := validPair(from, to); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	res, err := s.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO friendships (user_id, friend_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, from, to, string(models.FriendshipPending), now, now)
	if err != nil {
		return false, fmt.Errorf("create friend request: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLite) AcceptFriendRequest(ctx context.Context, requester, target int64) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE friendships SET status = ?, updated_at = ?
		WHERE user_id = ? AND friend_id = ? AND status = ?
	`, string(models.FriendshipAccepted), time.Now().UTC(), requester, target, string(models.FriendshipPending))
	if err != nil {
		return false, fmt.Errorf("accept friend request: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLite) DeclineFriendRequest(ctx context.Context, requester, target int64) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM friendships
		WHERE user_id = ? AND friend_id = ? AND status = ?
	`, requester, target, string(models.FriendshipPending))
	if err != nil {
		return false, fmt.Errorf("decline friend request: %w", err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
