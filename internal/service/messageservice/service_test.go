package messageservice_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/service/messageservice"
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

type membershipKey struct{ room, user uuid.UUID }

type fakeMembershipStore struct {
	mu    sync.Mutex
	items map[membershipKey]*models.RoomMembership
}

func newFakeMembershipStore() *fakeMembershipStore {
	return &fakeMembershipStore{items: map[membershipKey]*models.RoomMembership{}}
}
func (f *fakeMembershipStore) add(roomID, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[membershipKey{roomID, userID}] = &models.RoomMembership{RoomID: roomID, UserID: userID}
}
func (f *fakeMembershipStore) Exists(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[membershipKey{roomID, userID}]
	return ok, nil
}
func (f *fakeMembershipStore) Save(ctx context.Context, m *models.RoomMembership) error {
	f.add(m.RoomID, m.UserID)
	return nil
}
func (f *fakeMembershipStore) Delete(ctx context.Context, roomID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, membershipKey{roomID, userID})
	return nil
}
func (f *fakeMembershipStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]*models.RoomMembership, error) {
	return nil, nil
}

type fakeMessageStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{byID: map[uuid.UUID]*models.Message{}}
}
func (f *fakeMessageStore) Create(ctx context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.byID[m.ID] = &cp
	return nil
}
func (f *fakeMessageStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, errs.NotFound(errs.SubjectMessage, "not found")
	}
	cp := *m
	return &cp, nil
}
func (f *fakeMessageStore) Update(ctx context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.byID[m.ID] = &cp
	return nil
}
func (f *fakeMessageStore) Delete(ctx context.Context, id uuid.UUID, roomID, userID uuid.UUID, createdAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}
func (f *fakeMessageStore) ListByRoom(ctx context.Context, roomID uuid.UUID, limit int, before *time.Time) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, m := range f.byID {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (f *fakeMessageStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error) {
	return nil, nil
}
func (f *fakeMessageStore) ListGlobalRecent(ctx context.Context, limit int, cursor *store.GlobalCursor, windowStart time.Time) ([]*models.Message, error) {
	return nil, nil
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

type fakeBus struct {
	mu        sync.Mutex
	published []string
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel)
	return nil
}
func (b *fakeBus) Subscribe(ctx context.Context, channels ...string) (store.Subscription, error) {
	return nil, nil
}

type fakeTx struct{}

func (fakeTx) Run(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func newTestService() (*messageservice.Service, *fakeUserStore, *fakeMembershipStore, *fakeBus) {
	users := newFakeUserStore()
	memberships := newFakeMembershipStore()
	messages := newFakeMessageStore()
	bus := &fakeBus{}
	svc := messageservice.New(messages, memberships, users, fakeTx{}, bus, newFakeOutboxStore(), logging.New("error"))
	return svc, users, memberships, bus
}

func TestSendRequiresMembership(t *testing.T) {
	svc, users, _, _ := newTestService()
	ctx := context.Background()
	user := &models.User{ID: uuid.New(), Username: "alice"}
	users.put(user)

	_, err := svc.Send(ctx, uuid.New(), user.ID, "hi")
	require.Error(t, err)
	require.Equal(t, errs.KindPermission, errs.KindOf(err))
}

func TestSendBroadcasts(t *testing.T) {
	svc, users, memberships, bus := newTestService()
	ctx := context.Background()
	user := &models.User{ID: uuid.New(), Username: "alice"}
	users.put(user)
	roomID := uuid.New()
	memberships.add(roomID, user.ID)

	msg, err := svc.Send(ctx, roomID, user.ID, "hi")
	require.NoError(t, err)
	require.Equal(t, "hi", msg.Content)
	require.Len(t, bus.published, 1)
	require.Equal(t, "ws:room:"+roomID.String(), bus.published[0])
}

func TestEditPermission(t *testing.T) {
	svc, users, memberships, _ := newTestService()
	ctx := context.Background()
	author := &models.User{ID: uuid.New(), Username: "alice"}
	other := &models.User{ID: uuid.New(), Username: "bob"}
	users.put(author)
	users.put(other)
	roomID := uuid.New()
	memberships.add(roomID, author.ID)
	memberships.add(roomID, other.ID)

	msg, err := svc.Send(ctx, roomID, author.ID, "hi")
	require.NoError(t, err)

	_, err = svc.Edit(ctx, msg.ID, other.ID, "edited")
	require.Error(t, err)
	require.Equal(t, errs.KindPermission, errs.KindOf(err))

	edited, err := svc.Edit(ctx, msg.ID, author.ID, "edited")
	require.NoError(t, err)
	require.True(t, edited.Edited)
}

func TestGetRecentClampsLimit(t *testing.T) {
	svc, users, memberships, _ := newTestService()
	ctx := context.Background()
	user := &models.User{ID: uuid.New(), Username: "alice"}
	users.put(user)
	roomID := uuid.New()
	memberships.add(roomID, user.ID)

	_, err := svc.Send(ctx, roomID, user.ID, "hi")
	require.NoError(t, err)

	recent, err := svc.GetRecent(ctx, roomID, user.ID, 9999, nil)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "alice", recent[0].Username)
}
