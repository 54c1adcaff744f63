package wsloop_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/service/wsservice"
	"github.com/chatforge/realtime/internal/store"
	"github.com/chatforge/realtime/internal/wsloop"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeUserStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.User
}

func newFakeUserStore() *fakeUserStore { return &fakeUserStore{byID: map[uuid.UUID]*models.User{}} }
func (f *fakeUserStore) put(u *models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[u.ID] = u
}
func (f *fakeUserStore) Create(ctx context.Context, u *models.User) error { f.put(u); return nil }
func (f *fakeUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, errs.NotFound(errs.SubjectUser, "not found")
	}
	return u, nil
}
func (f *fakeUserStore) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := f.byID[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}
func (f *fakeUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return nil, errs.NotFound(errs.SubjectUser, "not found")
}
func (f *fakeUserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return false, nil
}
func (f *fakeUserStore) Update(ctx context.Context, u *models.User) error { f.put(u); return nil }
func (f *fakeUserStore) Delete(ctx context.Context, id uuid.UUID) error   { return nil }

type fakeRoomStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Room
}

func newFakeRoomStore() *fakeRoomStore { return &fakeRoomStore{byID: map[uuid.UUID]*models.Room{}} }
func (f *fakeRoomStore) put(r *models.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[r.ID] = r
}
func (f *fakeRoomStore) Create(ctx context.Context, r *models.Room) error { f.put(r); return nil }
func (f *fakeRoomStore) Get(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return nil, errs.NotFound(errs.SubjectRoom, "not found")
	}
	return r, nil
}
func (f *fakeRoomStore) ExistsByName(ctx context.Context, name string) (bool, error) { return false, nil }
func (f *fakeRoomStore) Update(ctx context.Context, r *models.Room) error            { f.put(r); return nil }
func (f *fakeRoomStore) Delete(ctx context.Context, id uuid.UUID) error              { return nil }
func (f *fakeRoomStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	return nil, nil
}
func (f *fakeRoomStore) ListTopPublic(ctx context.Context, limit int) ([]*models.Room, error) {
	return nil, nil
}
func (f *fakeRoomStore) Search(ctx context.Context, query string, limit int) ([]*models.Room, error) {
	return nil, nil
}
func (f *fakeRoomStore) IncrementParticipants(ctx context.Context, roomID uuid.UUID) error { return nil }
func (f *fakeRoomStore) DecrementParticipants(ctx context.Context, roomID uuid.UUID) error { return nil }

type membershipKey struct{ room, user uuid.UUID }

type fakeMembershipStore struct {
	mu    sync.Mutex
	items map[membershipKey]bool
}

func newFakeMembershipStore() *fakeMembershipStore {
	return &fakeMembershipStore{items: map[membershipKey]bool{}}
}
func (f *fakeMembershipStore) add(roomID, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[membershipKey{roomID, userID}] = true
}
func (f *fakeMembershipStore) Exists(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[membershipKey{roomID, userID}], nil
}
func (f *fakeMembershipStore) Save(ctx context.Context, m *models.RoomMembership) error {
	f.add(m.RoomID, m.UserID)
	return nil
}
func (f *fakeMembershipStore) Delete(ctx context.Context, roomID, userID uuid.UUID) error { return nil }
func (f *fakeMembershipStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.RoomMembership, error) {
	return nil, nil
}

type fakeWSSessionStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.WSSession
}

func newFakeWSSessionStore() *fakeWSSessionStore {
	return &fakeWSSessionStore{byID: map[uuid.UUID]*models.WSSession{}}
}
func (f *fakeWSSessionStore) Create(ctx context.Context, s *models.WSSession, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[s.ID] = s
	return nil
}
func (f *fakeWSSessionStore) Get(ctx context.Context, id uuid.UUID) (*models.WSSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}
func (f *fakeWSSessionStore) UpdatePing(ctx context.Context, id uuid.UUID, at time.Time, ttl time.Duration) error {
	return nil
}
func (f *fakeWSSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}
func (f *fakeWSSessionStore) exists(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byID[id]
	return ok
}
func (f *fakeWSSessionStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.WSSession, error) {
	return nil, nil
}
func (f *fakeWSSessionStore) ListForUserInRoom(ctx context.Context, userID, roomID uuid.UUID) ([]*models.WSSession, error) {
	return nil, nil
}

type fakePresenceStore struct {
	mu     sync.Mutex
	byRoom map[uuid.UUID]map[uuid.UUID]bool
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{byRoom: map[uuid.UUID]map[uuid.UUID]bool{}}
}
func (f *fakePresenceStore) AddUserToRoom(ctx context.Context, roomID, userID uuid.UUID, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byRoom[roomID] == nil {
		f.byRoom[roomID] = map[uuid.UUID]bool{}
	}
	f.byRoom[roomID][userID] = true
	return nil
}
func (f *fakePresenceStore) RemoveUserFromRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byRoom[roomID], userID)
	return nil
}
func (f *fakePresenceStore) RoomUsers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakePresenceStore) UserRooms(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakePresenceStore) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return false, nil
}

type fakeOutboxStore struct {
	mu    sync.Mutex
	dedup map[string]bool
}

func newFakeOutboxStore() *fakeOutboxStore { return &fakeOutboxStore{dedup: map[string]bool{}} }
func (f *fakeOutboxStore) Insert(ctx context.Context, e *models.OutboxEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dedup[e.DedupKey] {
		return false, nil
	}
	f.dedup[e.DedupKey] = true
	return true, nil
}
func (f *fakeOutboxStore) ClaimPending(ctx context.Context, limit int, leaseUntil time.Time) ([]*models.OutboxEntry, error) {
	return nil, nil
}
func (f *fakeOutboxStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error { return nil }
func (f *fakeOutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return nil
}
func (f *fakeOutboxStore) MarkRetry(ctx context.Context, id uuid.UUID, retries int, lastError string) error {
	return nil
}
func (f *fakeOutboxStore) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
func (f *fakeOutboxStore) ExistsByDedupKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	return nil, nil
}

type fakeBus struct{}

func (fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (fakeBus) Subscribe(ctx context.Context, channels ...string) (store.Subscription, error) {
	return nil, nil
}

type fakeTx struct{}

func (fakeTx) Run(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type fakeSubscription struct {
	ch     chan store.Message
	closed chan struct{}
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{ch: make(chan store.Message, 8), closed: make(chan struct{})}
}
func (s *fakeSubscription) Channel() <-chan store.Message { return s.ch }
func (s *fakeSubscription) Close() error {
	close(s.closed)
	return nil
}

// TestLoopTeardownOnClientClose verifies that closing the client side
// of the connection drives the loop to completion and tears the
// WSSession down.
func TestLoopTeardownOnClientClose(t *testing.T) {
	users := newFakeUserStore()
	rooms := newFakeRoomStore()
	memberships := newFakeMembershipStore()
	wsSessions := newFakeWSSessionStore()
	presence := newFakePresenceStore()

	owner := &models.User{ID: uuid.New(), Username: "owner"}
	users.put(owner)
	room := &models.Room{ID: uuid.New(), Name: "general", CreatedBy: owner.ID}
	rooms.put(room)
	memberships.add(room.ID, owner.ID)

	svc := wsservice.New(wsSessions, presence, memberships, rooms, users, fakeTx{}, fakeBus{}, newFakeOutboxStore(), logging.New("error"), time.Minute)

	sess := &models.WSSession{ID: uuid.New(), UserID: owner.ID, RoomID: room.ID}
	ctx := context.Background()
	_, err := svc.ConnectToRoom(ctx, sess)
	require.NoError(t, err)
	require.True(t, wsSessions.exists(sess.ID))

	upgrader := websocket.Upgrader{}
	serverDone := make(chan struct{})
	var serverConn *websocket.Conn
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = conn

		sub := newFakeSubscription()
		loop := wsloop.New(conn, sess, svc, sub, logging.New("error"))
		loop.Run(context.Background())
		close(serverDone)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.NoError(t, clientConn.WriteJSON(map[string]interface{}{
		"type":      "USER_TYPING",
		"is_typing": true,
		"username":  "owner",
	}))
	clientConn.Close()

	select {
	case <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not tear down after client close")
	}

	require.False(t, wsSessions.exists(sess.ID))
	_ = serverConn
}
