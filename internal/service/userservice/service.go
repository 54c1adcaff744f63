// Package userservice implements registration, login, logout,
// deletion, and session resolution (spec §4.2).
package userservice

import (
	"context"
	"fmt"
	"time"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/outbox"
	"github.com/chatforge/realtime/internal/store"
	"github.com/google/uuid"
)

// Service implements the user registration/session lifecycle.
type Service struct {
	users      store.UserStore
	sessions   store.UserSessionStore
	wsSessions store.WSSessionStore
	notifs     store.NotificationStore
	hasher     store.PasswordHasher
	tx         store.TransactionRunner
	outbox     *outbox.Writer
	logger     *logging.Logger

	sessionTTL       time.Duration
	refreshThreshold time.Duration
}

// New builds a Service.
func New(
	users store.UserStore,
	sessions store.UserSessionStore,
	wsSessions store.WSSessionStore,
	notifs store.NotificationStore,
	hasher store.PasswordHasher,
	tx store.TransactionRunner,
	outboxStore store.OutboxStore,
	logger *logging.Logger,
	sessionTTL, refreshThreshold time.Duration,
) *Service {
	return &Service{
		users:            users,
		sessions:         sessions,
		wsSessions:       wsSessions,
		notifs:           notifs,
		hasher:           hasher,
		tx:               tx,
		outbox:           outbox.New(outboxStore),
		logger:           logger,
		sessionTTL:       sessionTTL,
		refreshThreshold: refreshThreshold,
	}
}

// Register creates a new User, failing with a Conflict error if the
// username is taken.
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	exists, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.Conflict(errs.SubjectUser, "username already exists")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		LastActive:   now,
		LastLogin:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsUserRegistered, user.ID, uuid.Nil,
			map[string]string{"username": username},
			outbox.DedupKey("user_register", user.ID.String()))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user registered user_id=%s", user.ID)
	return user, nil
}

// Login verifies credentials and opens a new UserSession.
func (s *Service) Login(ctx context.Context, username, password string) (uuid.UUID, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return uuid.Nil, errs.New(errs.KindAuth, errs.SubjectUser, "invalid credentials")
		}
		return uuid.Nil, err
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		return uuid.Nil, errs.New(errs.KindAuth, errs.SubjectUser, "invalid credentials")
	}

	now := time.Now().UTC()
	sess := &models.UserSession{ID: uuid.New(), UserID: user.ID, ConnectedAt: now}

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		user.LastLogin = now
		user.LastActive = now
		user.UpdatedAt = now
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsUserLoggedIn, user.ID, uuid.Nil,
			map[string]string{"username": username},
			outbox.DedupKey("user_login", user.ID.String(), outbox.NanoTimestamp(now.UnixNano())))
	})
	if err != nil {
		return uuid.Nil, err
	}

	// The session KV write is outside the domain transaction: it lives
	// in a different store and is reconcilable (a session that fails to
	// persist simply never validates on resolve).
	if err := s.sessions.Create(ctx, sess, s.sessionTTL); err != nil {
		return uuid.Nil, err
	}

	s.logger.Info(ctx, "user logged in user_id=%s", user.ID)
	return sess.ID, nil
}

// Logout ends a UserSession, tearing down every WS-session for the user.
func (s *Service) Logout(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.sessions.Get(ctx, sessionID, s.sessionTTL, s.refreshThreshold)
	if err != nil {
		return err
	}
	if sess == nil {
		return errs.New(errs.KindAuth, errs.SubjectSession, "session not found")
	}

	now := time.Now().UTC()
	err = s.tx.Run(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByID(ctx, sess.UserID)
		if err != nil {
			return err
		}
		user.LastActive = now
		user.UpdatedAt = now
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsUserLoggedOut, sess.UserID, uuid.Nil,
			nil, outbox.DedupKey("user_logout", sessionID.String()))
	})
	if err != nil {
		return err
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	wsSessions, err := s.wsSessions.ListForUser(ctx, sess.UserID)
	if err != nil {
		return err
	}
	for _, ws := range wsSessions {
		if err := s.wsSessions.Delete(ctx, ws.ID); err != nil {
			s.logger.Error(ctx, "failed to delete ws session during logout: %v", err)
		}
	}

	s.logger.Info(ctx, "user logged out user_id=%s", sess.UserID)
	return nil
}

// DeleteUser cascades notifications, sessions, and WS-sessions.
func (s *Service) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	err = s.tx.Run(ctx, func(ctx context.Context) error {
		if err := s.notifs.DeleteAllForUser(ctx, userID); err != nil {
			return err
		}
		if err := s.users.Delete(ctx, userID); err != nil {
			return err
		}
		return s.outbox.Analytics(ctx, models.AnalyticsUserDeleted, userID, uuid.Nil,
			map[string]string{"username": user.Username},
			outbox.DedupKey("user_deleted", userID.String()))
	})
	if err != nil {
		return err
	}

	if err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		s.logger.Error(ctx, "failed to delete sessions during user deletion: %v", err)
	}
	wsSessions, err := s.wsSessions.ListForUser(ctx, userID)
	if err == nil {
		for _, ws := range wsSessions {
			if err := s.wsSessions.Delete(ctx, ws.ID); err != nil {
				s.logger.Error(ctx, "failed to delete ws session during user deletion: %v", err)
			}
		}
	}

	s.logger.Info(ctx, "user deleted user_id=%s", userID)
	return nil
}

// ResolveSession decodes cookie as a session id and loads the owning
// User, refreshing the session's sliding TTL on read.
func (s *Service) ResolveSession(ctx context.Context, cookie string) (*models.User, error) {
	sessionID, err := uuid.Parse(cookie)
	if err != nil {
		return nil, errs.New(errs.KindAuth, errs.SubjectSession, "invalid session")
	}

	sess, err := s.sessions.Get(ctx, sessionID, s.sessionTTL, s.refreshThreshold)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errs.New(errs.KindAuth, errs.SubjectSession, "session not found")
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return user, nil
}
