package pgmessage

import (
	"context"
	"errors"
	"time"

	"github.com/chatforge/realtime/internal/errs"
	"github.com/chatforge/realtime/internal/models"
	"github.com/chatforge/realtime/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MessageStore implements store.MessageStore across the four message
// tables. Each write fans out to all four inside a single Postgres
// transaction — the four paths are never observably inconsistent
// within this adapter, though the outbox repair job still exists to
// reconcile the analytics side against them (see §4.7 of the spec
// this implements).
type MessageStore struct {
	p *Pool
}

// NewMessageStore returns a Postgres-backed MessageStore.
func NewMessageStore(p *Pool) *MessageStore {
	return &MessageStore{p: p}
}

func (s *MessageStore) Create(ctx context.Context, m *models.Message) error {
	tx, err := s.p.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages_by_id (id, room_id, user_id, content, edited, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.RoomID, m.UserID, m.Content, m.Edited, m.CreatedAt, m.UpdatedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages_by_room (room_id, created_at, id, user_id, content, edited, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.RoomID, m.CreatedAt, m.ID, m.UserID, m.Content, m.Edited, m.UpdatedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages_by_user (user_id, created_at, id, room_id, content, edited, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.UserID, m.CreatedAt, m.ID, m.RoomID, m.Content, m.Edited, m.UpdatedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages_global_recent (created_at, id, room_id, user_id, content, edited, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.CreatedAt, m.ID, m.RoomID, m.UserID, m.Content, m.Edited, m.UpdatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *MessageStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	row := s.p.queryRow(ctx, "messages.get_by_id",
		`SELECT id, room_id, user_id, content, edited, created_at, updated_at FROM messages_by_id WHERE id=$1`, id)
	var m models.Message
	if err := row.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.Edited, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound(errs.SubjectMessage, "message not found")
		}
		return nil, err
	}
	return &m, nil
}

func (s *MessageStore) Update(ctx context.Context, m *models.Message) error {
	tx, err := s.p.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE messages_by_id SET content=$1, edited=$2, updated_at=$3 WHERE id=$4`,
		m.Content, m.Edited, m.UpdatedAt, m.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE messages_by_room SET content=$1, edited=$2, updated_at=$3 WHERE room_id=$4 AND created_at=$5 AND id=$6`,
		m.Content, m.Edited, m.UpdatedAt, m.RoomID, m.CreatedAt, m.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE messages_by_user SET content=$1, edited=$2, updated_at=$3 WHERE user_id=$4 AND created_at=$5 AND id=$6`,
		m.Content, m.Edited, m.UpdatedAt, m.UserID, m.CreatedAt, m.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE messages_global_recent SET content=$1, edited=$2, updated_at=$3 WHERE created_at=$4 AND id=$5`,
		m.Content, m.Edited, m.UpdatedAt, m.CreatedAt, m.ID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *MessageStore) Delete(ctx context.Context, id uuid.UUID, roomID, userID uuid.UUID, createdAt time.Time) error {
	tx, err := s.p.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages_by_id WHERE id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM messages_by_room WHERE room_id=$1 AND created_at=$2 AND id=$3`, roomID, createdAt, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM messages_by_user WHERE user_id=$1 AND created_at=$2 AND id=$3`, userID, createdAt, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM messages_global_recent WHERE created_at=$1 AND id=$2`, createdAt, id); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *MessageStore) ListByRoom(ctx context.Context, roomID uuid.UUID, limit int, before *time.Time) ([]*models.Message, error) {
	var rows pgx.Rows
	var err error
	if before != nil {
		rows, err = s.p.query(ctx, "messages.list_by_room",
			`SELECT id, room_id, user_id, content, edited, created_at, updated_at
			 FROM messages_by_room WHERE room_id=$1 AND created_at < $2
			 ORDER BY created_at DESC, id DESC LIMIT $3`, roomID, *before, limit)
	} else {
		rows, err = s.p.query(ctx, "messages.list_by_room",
			`SELECT id, room_id, user_id, content, edited, created_at, updated_at
			 FROM messages_by_room WHERE room_id=$1
			 ORDER BY created_at DESC, id DESC LIMIT $2`, roomID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *MessageStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error) {
	rows, err := s.p.query(ctx, "messages.list_by_user",
		`SELECT id, room_id, user_id, content, edited, created_at, updated_at
		 FROM messages_by_user WHERE user_id=$1
		 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListGlobalRecent pages the global-recent feed by a (created_at, id)
// keyset cursor, restricted to windowStart..now. Used only by the
// outbox repair job.
func (s *MessageStore) ListGlobalRecent(ctx context.Context, limit int, cursor *store.GlobalCursor, windowStart time.Time) ([]*models.Message, error) {
	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = s.p.query(ctx, "messages.list_global_recent",
			`SELECT id, room_id, user_id, content, edited, created_at, updated_at
			 FROM messages_global_recent
			 WHERE created_at >= $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC LIMIT $4`,
			windowStart, cursor.CreatedAt, cursor.ID, limit)
	} else {
		rows, err = s.p.query(ctx, "messages.list_global_recent",
			`SELECT id, room_id, user_id, content, edited, created_at, updated_at
			 FROM messages_global_recent
			 WHERE created_at >= $1
			 ORDER BY created_at DESC, id DESC LIMIT $2`,
			windowStart, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.Edited, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
