package wsservice_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/service/wsservice"
	"github.com/chatforge/realtime/internal/store"
	"github.com/google/uuid"
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
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.byID[id]; ok {
		s.LastPingAt = at
	}
	return nil
}
func (f *fakeWSSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}
func (f *fakeWSSessionStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.WSSession, error) {
	return nil, nil
}
func (f *fakeWSSessionStore) ListForUserInRoom(ctx context.Context, userID, roomID uuid.UUID) ([]*models.WSSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.WSSession
	for _, s := range f.byID {
		if s.UserID == userID && s.RoomID == roomID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakePresenceStore struct {
	mu      sync.Mutex
	byRoom  map[uuid.UUID]map[uuid.UUID]bool
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
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for u := range f.byRoom[roomID] {
		out = append(out, u)
	}
	return out, nil
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

func newTestService() (*wsservice.Service, *fakeUserStore, *fakeRoomStore, *fakeMembershipStore, *fakeWSSessionStore, *fakePresenceStore) {
	users := newFakeUserStore()
	rooms := newFakeRoomStore()
	memberships := newFakeMembershipStore()
	wsSessions := newFakeWSSessionStore()
	presence := newFakePresenceStore()
	svc := wsservice.New(wsSessions, presence, memberships, rooms, users, fakeTx{}, fakeBus{}, newFakeOutboxStore(), logging.New("error"), time.Minute)
	return svc, users, rooms, memberships, wsSessions, presence
}

func TestConnectAndDisconnect(t *testing.T) {
	svc, users, rooms, memberships, _, presence := newTestService()
	ctx := context.Background()

	owner := &models.User{ID: uuid.New(), Username: "owner"}
	users.put(owner)
	room := &models.Room{ID: uuid.New(), Name: "general", CreatedBy: owner.ID}
	rooms.put(room)
	memberships.add(room.ID, owner.ID)

	sess := &models.WSSession{ID: uuid.New(), UserID: owner.ID, RoomID: room.ID}
	channels, err := svc.ConnectToRoom(ctx, sess)
	require.NoError(t, err)
	require.Contains(t, channels, "ws:user:"+owner.ID.String())
	require.Contains(t, channels, "ws:room:"+room.ID.String())

	online, err := presence.RoomUsers(ctx, room.ID)
	require.NoError(t, err)
	require.Contains(t, online, owner.ID)

	err = svc.DisconnectFromRoom(ctx, sess.ID, owner.ID)
	require.NoError(t, err)

	online, err = presence.RoomUsers(ctx, room.ID)
	require.NoError(t, err)
	require.NotContains(t, online, owner.ID)
}

func TestDisconnectWrongOwner(t *testing.T) {
	svc, users, rooms, _, _, _ := newTestService()
	ctx := context.Background()

	owner := &models.User{ID: uuid.New(), Username: "owner"}
	other := &models.User{ID: uuid.New(), Username: "other"}
	users.put(owner)
	users.put(other)
	room := &models.Room{ID: uuid.New(), Name: "general", CreatedBy: owner.ID}
	rooms.put(room)

	sess := &models.WSSession{ID: uuid.New(), UserID: owner.ID, RoomID: room.ID}
	_, err := svc.ConnectToRoom(ctx, sess)
	require.NoError(t, err)

	err = svc.DisconnectFromRoom(ctx, sess.ID, other.ID)
	require.Error(t, err)
	require.Equal(t, errs.KindPermission, errs.KindOf(err))
}

func TestActiveUsersRequiresMembership(t *testing.T) {
	svc, users, rooms, _, _, _ := newTestService()
	ctx := context.Background()

	owner := &models.User{ID: uuid.New(), Username: "owner"}
	users.put(owner)
	room := &models.Room{ID: uuid.New(), Name: "general", CreatedBy: owner.ID}
	rooms.put(room)

	_, err := svc.ActiveUsersInRoom(ctx, room.ID, owner.ID)
	require.Error(t, err)
	require.Equal(t, errs.KindPermission, errs.KindOf(err))
}

func TestDisconnectUserFromRoomRequiresOwner(t *testing.T) {
	svc, users, rooms, _, _, _ := newTestService()
	ctx := context.Background()

	owner := &models.User{ID: uuid.New(), Username: "owner"}
	other := &models.User{ID: uuid.New(), Username: "other"}
	users.put(owner)
	users.put(other)
	room := &models.Room{ID: uuid.New(), Name: "general", CreatedBy: owner.ID}
	rooms.put(room)

	err := svc.DisconnectUserFromRoom(ctx, other.ID, room.ID, other.ID)
	require.Error(t, err)
	require.Equal(t, errs.KindPermission, errs.KindOf(err))
}
