package notifyservice_test

import (
	"context"
	"sync"
	"testing"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/service/notifyservice"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeNotificationStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Notification
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{byID: map[uuid.UUID]*models.Notification{}}
}
func (f *fakeNotificationStore) put(n *models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[n.ID] = n
}
func (f *fakeNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	f.put(n)
	return nil
}
func (f *fakeNotificationStore) Get(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.byID[id]
	if !ok {
		return nil, errs.NotFound(errs.SubjectNotification, "not found")
	}
	return n, nil
}
func (f *fakeNotificationStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Notification
	for _, n := range f.byID {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}
func (f *fakeNotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.byID[id]; ok {
		n.Read = true
	}
	return nil
}
func (f *fakeNotificationStore) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.byID {
		if n.UserID == userID {
			n.Read = true
		}
	}
	return nil
}
func (f *fakeNotificationStore) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.byID {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}
func (f *fakeNotificationStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}
func (f *fakeNotificationStore) DeleteAllForUser(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, n := range f.byID {
		if n.UserID == userID {
			delete(f.byID, id)
		}
	}
	return nil
}

func TestMarkReadIdempotent(t *testing.T) {
	notifs := newFakeNotificationStore()
	svc := notifyservice.New(notifs)
	ctx := context.Background()

	userID := uuid.New()
	n := &models.Notification{ID: uuid.New(), UserID: userID, Type: models.NotificationSystem}
	notifs.put(n)

	require.NoError(t, svc.MarkRead(ctx, n.ID, userID))
	require.True(t, n.Read)
	require.NoError(t, svc.MarkRead(ctx, n.ID, userID))
	require.True(t, n.Read)
}

func TestMarkReadWrongOwner(t *testing.T) {
	notifs := newFakeNotificationStore()
	svc := notifyservice.New(notifs)
	ctx := context.Background()

	owner := uuid.New()
	n := &models.Notification{ID: uuid.New(), UserID: owner, Type: models.NotificationSystem}
	notifs.put(n)

	err := svc.MarkRead(ctx, n.ID, uuid.New())
	require.Error(t, err)
	require.Equal(t, errs.KindPermission, errs.KindOf(err))
}

func TestCountUnread(t *testing.T) {
	notifs := newFakeNotificationStore()
	svc := notifyservice.New(notifs)
	ctx := context.Background()

	userID := uuid.New()
	notifs.put(&models.Notification{ID: uuid.New(), UserID: userID, Type: models.NotificationSystem})
	notifs.put(&models.Notification{ID: uuid.New(), UserID: userID, Type: models.NotificationSystem, Read: true})

	count, err := svc.CountUnread(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, svc.MarkAllRead(ctx, userID))
	count, err = svc.CountUnread(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
