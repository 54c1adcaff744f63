package userservice_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/service/userservice"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeUserStore struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*models.User
	byUsr map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: map[uuid.UUID]*models.User{}, byUsr: map[string]*models.User{}}
}

func (f *fakeUserStore) Create(ctx context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.byID[u.ID] = &cp
	f.byUsr[u.Username] = &cp
	return nil
}
func (f *fakeUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, errs.NotFound(errs.SubjectUser, "not found")
	}
	cp := *u
	return &cp, nil
}
func (f *fakeUserStore) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := f.byID[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}
func (f *fakeUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byUsr[username]
	if !ok {
		return nil, errs.NotFound(errs.SubjectUser, "not found")
	}
	cp := *u
	return &cp, nil
}
func (f *fakeUserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byUsr[username]
	return ok, nil
}
func (f *fakeUserStore) Update(ctx context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.byID[u.ID] = &cp
	f.byUsr[u.Username] = &cp
	return nil
}
func (f *fakeUserStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		delete(f.byUsr, u.Username)
	}
	delete(f.byID, id)
	return nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*models.UserSession
	byUser   map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{byID: map[uuid.UUID]*models.UserSession{}, byUser: map[uuid.UUID]map[uuid.UUID]bool{}}
}
func (f *fakeSessionStore) Create(ctx context.Context, s *models.UserSession, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[s.ID] = s
	if f.byUser[s.UserID] == nil {
		f.byUser[s.UserID] = map[uuid.UUID]bool{}
	}
	f.byUser[s.UserID][s.ID] = true
	return nil
}
func (f *fakeSessionStore) Get(ctx context.Context, id uuid.UUID, ttl, refreshThreshold time.Duration) (*models.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}
func (f *fakeSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.byID[id]; ok {
		delete(f.byUser[s.UserID], id)
	}
	delete(f.byID, id)
	return nil
}
func (f *fakeSessionStore) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.byUser[userID] {
		delete(f.byID, id)
	}
	delete(f.byUser, userID)
	return nil
}
func (f *fakeSessionStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for id := range f.byUser[userID] {
		out = append(out, id)
	}
	return out, nil
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
func (f *fakeWSSessionStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.WSSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.WSSession
	for _, s := range f.byID {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeWSSessionStore) ListForUserInRoom(ctx context.Context, userID, roomID uuid.UUID) ([]*models.WSSession, error) {
	all, _ := f.ListForUser(ctx, userID)
	var out []*models.WSSession
	for _, s := range all {
		if s.RoomID == roomID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeNotificationStore struct{}

func (fakeNotificationStore) Create(ctx context.Context, n *models.Notification) error { return nil }
func (fakeNotificationStore) Get(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	return nil, errs.NotFound(errs.SubjectNotification, "not found")
}
func (fakeNotificationStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	return nil, nil
}
func (fakeNotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error       { return nil }
func (fakeNotificationStore) MarkAllRead(ctx context.Context, userID uuid.UUID) error { return nil }
func (fakeNotificationStore) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return 0, nil
}
func (fakeNotificationStore) Delete(ctx context.Context, id uuid.UUID) error             { return nil }
func (fakeNotificationStore) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error { return nil }

type fakeOutboxStore struct {
	mu      sync.Mutex
	dedup   map[string]bool
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

type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }
func (fakeHasher) Verify(hash, password string) bool     { return hash == "hashed:"+password }

type fakeTx struct{}

func (fakeTx) Run(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func newTestService() (*userservice.Service, *fakeUserStore, *fakeSessionStore) {
	users := newFakeUserStore()
	sessions := newFakeSessionStore()
	ws := newFakeWSSessionStore()
	svc := userservice.New(users, sessions, ws, fakeNotificationStore{}, fakeHasher{}, fakeTx{},
		newFakeOutboxStore(), logging.New("error"), time.Hour, 10*time.Minute)
	return svc, users, sessions
}

func TestRegister(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)

	_, err = svc.Register(ctx, "alice", "other")
	require.Error(t, err)
	require.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestLoginLogout(t *testing.T) {
	svc, _, sessions := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob", "hunter2")
	require.NoError(t, err)

	sessionID, err := svc.Login(ctx, "bob", "hunter2")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, sessionID)

	_, ok := sessions.byID[sessionID]
	require.True(t, ok)

	err = svc.Logout(ctx, sessionID)
	require.NoError(t, err)
	_, ok = sessions.byID[sessionID]
	require.False(t, ok)
}

func TestLoginInvalidCredentials(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Register(ctx, "carol", "hunter2")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "carol", "wrong")
	require.Error(t, err)
	require.Equal(t, errs.KindAuth, errs.KindOf(err))
}

func TestResolveSession(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Register(ctx, "dave", "hunter2")
	require.NoError(t, err)
	sessionID, err := svc.Login(ctx, "dave", "hunter2")
	require.NoError(t, err)

	u, err := svc.ResolveSession(ctx, sessionID.String())
	require.NoError(t, err)
	require.Equal(t, "dave", u.Username)

	_, err = svc.ResolveSession(ctx, "not-a-uuid")
	require.Error(t, err)
	require.Equal(t, errs.KindAuth, errs.KindOf(err))
}
