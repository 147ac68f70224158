package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"pulse/server/internal/models"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteFriendRequestLifecycle(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()

	created, err := db.CreateFriendRequest(ctx, 1, 2)
	if err != nil || !created {
		t.Fatalf("CreateFriendRequest = %v, %v", created, err)
	}

	// Either direction counts as the same pair.
	created, err = db.CreateFriendRequest(ctx, 2, 1)
	if err != nil {
		t.Fatalf("reverse CreateFriendRequest err: %v", err)
	}
	if created {
		t.Fatal("a pending pair must not get a second request")
	}

	if ok, _ := db.AreFriends(ctx, 1, 2); ok {
		t.Fatal("pending request is not a friendship")
	}

	accepted, err := db.AcceptFriendRequest(ctx, 2, 1)
	if err != nil {
		t.Fatalf("AcceptFriendRequest err: %v", err)
	}
	if accepted {
		t.Fatal("only the target may accept")
	}

	accepted, err = db.AcceptFriendRequest(ctx, 1, 2)
	if err != nil || !accepted {
		t.Fatalf("AcceptFriendRequest = %v, %v", accepted, err)
	}

	for _, pair := range [][2]int64{{1, 2}, {2, 1}} {
		ok, err := db.AreFriends(ctx, pair[0], pair[1])
		if err != nil || !ok {
			t.Fatalf("AreFriends(%d, %d) = %v, %v", pair[0], pair[1], ok, err)
		}
	}

	ids, err := db.FetchAcceptedFriendIDs(ctx, 2)
	if err != nil {
		t.Fatalf("FetchAcceptedFriendIDs err: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("friends of 2 = %v, want [1]", ids)
	}

	if declined, _ := db.DeclineFriendRequest(ctx, 1, 2); declined {
		t.Fatal("an accepted friendship cannot be declined")
	}
}

func TestSQLiteDeclineAllowsNewRequest(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()

	db.CreateFriendRequest(ctx, 1, 2)
	declined, err := db.DeclineFriendRequest(ctx, 1, 2)
	if err != nil || !declined {
		t.Fatalf("DeclineFriendRequest = %v, %v", declined, err)
	}

	created, err := db.CreateFriendRequest(ctx, 2, 1)
	if err != nil || !created {
		t.Fatalf("request after decline = %v, %v", created, err)
	}
}

func TestSQLiteRejectsSelfFriendship(t *testing.T) {
	db := newTestSQLite(t)
	if _, err := db.CreateFriendRequest(context.Background(), 3, 3); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestSQLiteMessages(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()

	first, _, err := db.InsertMessage(ctx, 1, 2, "first")
	if err != nil {
		t.Fatalf("InsertMessage err: %v", err)
	}
	second, createdAt, err := db.InsertMessage(ctx, 1, 2, "second")
	if err != nil {
		t.Fatalf("InsertMessage err: %v", err)
	}
	if second <= first || createdAt.IsZero() {
		t.Fatalf("ids %d, %d and created_at %v", first, second, createdAt)
	}
	db.InsertMessage(ctx, 3, 4, "elsewhere")

	unread, err := db.FetchUnreadMessages(ctx, 2, 50)
	if err != nil {
		t.Fatalf("FetchUnreadMessages err: %v", err)
	}
	if len(unread) != 2 || unread[0].ID != second || unread[1].ID != first {
		t.Fatalf("unread = %+v, want newest first", unread)
	}

	// Only the receiver can mark a message read.
	if _, updated, err := db.MarkMessageRead(ctx, first, 1); err != nil || updated {
		t.Fatalf("sender MarkMessageRead = %v, %v", updated, err)
	}
	senderID, updated, err := db.MarkMessageRead(ctx, first, 2)
	if err != nil || !updated || senderID != 1 {
		t.Fatalf("MarkMessageRead = %d, %v, %v", senderID, updated, err)
	}
	if _, updated, _ := db.MarkMessageRead(ctx, 999, 2); updated {
		t.Fatal("unknown message must not update")
	}

	unread, _ = db.FetchUnreadMessages(ctx, 2, 50)
	if len(unread) != 1 || unread[0].ID != second {
		t.Fatalf("unread after read = %+v", unread)
	}

	limited, _ := db.FetchUnreadMessages(ctx, 2, 0)
	if len(limited) != 0 {
		t.Fatalf("limit 0 returned %d rows", len(limited))
	}
}

func TestSQLiteNotifications(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()

	a, err := db.InsertNotification(ctx, 2, models.NotificationMessage, 1, "hi")
	if err != nil {
		t.Fatalf("InsertNotification err: %v", err)
	}
	b, _ := db.InsertNotification(ctx, 2, models.NotificationFriendRequest, 3, "")
	other, _ := db.InsertNotification(ctx, 5, models.NotificationMessage, 1, "hi")

	got, err := db.FetchUnreadNotifications(ctx, 2, 50)
	if err != nil {
		t.Fatalf("FetchUnreadNotifications err: %v", err)
	}
	if len(got) != 2 || got[0].ID != b || got[1].ID != a {
		t.Fatalf("notifications = %+v", got)
	}
	if got[1].Kind != models.NotificationMessage || got[1].Body != "hi" || got[1].FromUserID != 1 {
		t.Fatalf("notification fields = %+v", got[1])
	}

	// Ids belonging to another user are left alone.
	if err := db.MarkNotificationsRead(ctx, 2, []int64{a, other}); err != nil {
		t.Fatalf("MarkNotificationsRead err: %v", err)
	}
	if err := db.MarkNotificationsRead(ctx, 2, nil); err != nil {
		t.Fatalf("MarkNotificationsRead(nil) err: %v", err)
	}

	got, _ = db.FetchUnreadNotifications(ctx, 2, 50)
	if len(got) != 1 || got[0].ID != b {
		t.Fatalf("unread after mark = %+v", got)
	}
	got, _ = db.FetchUnreadNotifications(ctx, 5, 50)
	if len(got) != 1 {
		t.Fatal("other user's notification must stay unread")
	}
}
