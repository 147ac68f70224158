package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pulse/server/internal/models"
	"pulse/server/internal/store"
	"pulse/server/internal/telemetry"
)

var handleSeq atomic.Int64

type fakeHandle struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.full {
		return false
	}
	h.frames = append(h.frames, data)
	return true
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) setFull(full bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.full = full
}

// events decodes every frame received so far
func (h *fakeHandle) events(t *testing.T) []map[string]any {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]map[string]any, 0, len(h.frames))
	for _, frame := range h.frames {
		var ev map[string]any
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("frame is not JSON: %v (%s)", err, frame)
		}
		out = append(out, ev)
	}
	return out
}

func (h *fakeHandle) ofType(t *testing.T, typ EventType) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ev := range h.events(t) {
		if ev["type"] == string(typ) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *fakeHandle) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = nil
}

type fakeFriendship struct {
	requester, target int64
	status            models.FriendshipStatus
}

// fakeGateway is an in-memory store.Gateway. Setting fail[op] makes that
// operation return the error.
type fakeGateway struct {
	mu            sync.Mutex
	nextID        int64
	messages      []models.Message
	notifications []models.Notification
	friendships   map[[2]int64]*fakeFriendship
	fail          map[string]error

	// beforeFriends runs at the start of FetchAcceptedFriendIDs, unlocked
	beforeFriends func(userID int64)
}

var _ store.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		friendships: make(map[[2]int64]*fakeFriendship),
		fail:        make(map[string]error),
	}
}

func pairKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

func (g *fakeGateway) befriend(a, b int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.friendships[pairKey(a, b)] = &fakeFriendship{requester: a, target: b, status: models.FriendshipAccepted}
}

func (g *fakeGateway) failing(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[op] = fmt.Errorf("%s: connection refused", op)
}

func (g *fakeGateway) err(op string) error {
	return g.fail[op]
}

func (g *fakeGateway) messageCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.messages)
}

func (g *fakeGateway) notificationsFor(userID int64) []models.Notification {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.Notification
	for _, n := range g.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (g *fakeGateway) InsertMessage(_ context.Context, senderID, receiverID int64, body string) (int64, time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("insert_message"); err != nil {
		return 0, time.Time{}, err
	}
	g.nextID++
	m := models.Message{ID: g.nextID, SenderID: senderID, ReceiverID: receiverID, Body: body, CreatedAt: time.Now()}
	g.messages = append(g.messages, m)
	return m.ID, m.CreatedAt, nil
}

func (g *fakeGateway) MarkMessageRead(_ context.Context, messageID, receiverID int64) (int64, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("mark_message_read"); err != nil {
		return 0, false, err
	}
	for i := range g.messages {
		if g.messages[i].ID == messageID && g.messages[i].ReceiverID == receiverID {
			g.messages[i].IsRead = true
			return g.messages[i].SenderID, true, nil
		}
	}
	return 0, false, nil
}

func (g *fakeGateway) FetchUnreadMessages(_ context.Context, receiverID int64, limit int) ([]models.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("fetch_messages"); err != nil {
		return nil, err
	}
	var out []models.Message
	for i := len(g.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if m := g.messages[i]; m.ReceiverID == receiverID && !m.IsRead {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *fakeGateway) InsertNotification(_ context.Context, userID int64, kind models.NotificationKind, fromUserID int64, body string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("insert_notification"); err != nil {
		return 0, err
	}
	g.nextID++
	g.notifications = append(g.notifications, models.Notification{
		ID: g.nextID, UserID: userID, Kind: kind, FromUserID: fromUserID, Body: body, CreatedAt: time.Now(),
	})
	return g.nextID, nil
}

func (g *fakeGateway) FetchUnreadNotifications(_ context.Context, userID int64, limit int) ([]models.Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("fetch_notifications"); err != nil {
		return nil, err
	}
	var out []models.Notification
	for i := len(g.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if n := g.notifications[i]; n.UserID == userID && !n.IsRead {
			out = append(out, n)
		}
	}
	return out, nil
}

func (g *fakeGateway) MarkNotificationsRead(_ context.Context, userID int64, ids []int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("mark_notifications_read"); err != nil {
		return err
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range g.notifications {
		if g.notifications[i].UserID == userID && want[g.notifications[i].ID] {
			g.notifications[i].IsRead = true
		}
	}
	return nil
}

func (g *fakeGateway) FetchAcceptedFriendIDs(_ context.Context, userID int64) ([]int64, error) {
	if g.beforeFriends != nil {
		g.beforeFriends(userID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("fetch_friends"); err != nil {
		return nil, err
	}
	var ids []int64
	for key, f := range g.friendships {
		if f.status != models.FriendshipAccepted {
			continue
		}
		switch userID {
		case key[0]:
			ids = append(ids, key[1])
		case key[1]:
			ids = append(ids, key[0])
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (g *fakeGateway) AreFriends(_ context.Context, a, b int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("are_friends"); err != nil {
		return false, err
	}
	f, ok := g.friendships[pairKey(a, b)]
	return ok && f.status == models.FriendshipAccepted, nil
}

func (g *fakeGateway) CreateFriendRequest(_ context.Context, from, to int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("create_friend_request"); err != nil {
		return false, err
	}
	key := pairKey(from, to)
	if _, ok := g.friendships[key]; ok {
		return false, nil
	}
	g.friendships[key] = &fakeFriendship{requester: from, target: to, status: models.FriendshipPending}
	return true, nil
}

func (g *fakeGateway) AcceptFriendRequest(_ context.Context, requester, target int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("accept_friend_request"); err != nil {
		return false, err
	}
	f, ok := g.friendships[pairKey(requester, target)]
	if !ok || f.status != models.FriendshipPending || f.requester != requester {
		return false, nil
	}
	f.status = models.FriendshipAccepted
	return true, nil
}

func (g *fakeGateway) DeclineFriendRequest(_ context.Context, requester, target int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.err("decline_friend_request"); err != nil {
		return false, err
	}
	key := pairKey(requester, target)
	f, ok := g.friendships[key]
	if !ok || f.status != models.FriendshipPending || f.requester != requester {
		return false, nil
	}
	delete(g.friendships, key)
	return true, nil
}

func (g *fakeGateway) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		PingInterval:      time.Hour,
		LivenessTimeout:   time.Minute,
		SweepInterval:     time.Hour,
		WriteTimeout:      time.Second,
		SendBuffer:        16,
		NotificationLimit: 50,
		PrimaryKind:       "global",
	}
}

func newTestHub(gateway store.Gateway) *Hub {
	return NewHub(gateway, testOptions(), discardLogger(), telemetry.Noop())
}

// connect activates a fake connection for userID through the lifecycle
func connect(t *testing.T, hub *Hub, userID int64, name, kind string) *fakeHandle {
	t.Helper()
	h := newFakeHandle(fmt.Sprintf("%d-%s-%d", userID, kind, handleSeq.Add(1)))
	if err := hub.Lifecycle.Connect(context.Background(), Connection{
		UserID: userID, Handle: h, DisplayName: name, Kind: kind,
	}); err != nil {
		t.Fatalf("Connect(%d) err: %v", userID, err)
	}
	return h
}

func disconnect(t *testing.T, hub *Hub, userID int64, h *fakeHandle, name string) bool {
	t.Helper()
	offline, err := hub.Lifecycle.Disconnect(context.Background(), Connection{
		UserID: userID, Handle: h, DisplayName: name,
	})
	if err != nil {
		t.Fatalf("Disconnect(%d) err: %v", userID, err)
	}
	return offline
}

func sender(userID int64, name string, h Handle) Sender {
	return Sender{UserID: userID, Name: name, Conn: h}
}

// number reads a JSON number field as int64
func number(t *testing.T, ev map[string]any, field string) int64 {
	t.Helper()
	v, ok := ev[field].(float64)
	if !ok {
		t.Fatalf("field %q missing or not a number in %v", field, ev)
	}
	return int64(v)
}
