package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	FindByID(ctx context.Context, id string) (*Notification, error)
	// FindByUser lists userID's notifications, newest first. An empty
	// status matches all.
	FindByUser(ctx context.Context, userID string, status Status) ([]Notification, error)
	// UpdateStatus writes n's status and sentAt if the stored status is
	// still from, and returns ErrInvalidTransition otherwise.
	UpdateStatus(ctx context.Context, n *Notification, from Status) error
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, userID string, status Status) (int, error)
	// MarkAllRead moves every PENDING notification of userID to READ and
	// returns how many changed.
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var columns = []string{
	"id", "user_id", "type", "title", "message", "status", "metadata", "created_at", "sent_at",
}

// PGStore is the Postgres Repository.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Create(ctx context.Context, n *Notification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query, args, err := psql.
		Insert("notifications").
		Columns(columns...).
		Values(n.ID, n.UserID, n.Type, n.Title, n.Message, n.Status, meta, n.CreatedAt, n.SentAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query, args, err := psql.Select(columns...).From("notifications").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	n, err := scanNotification(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification %s: %w", id, err)
	}
	return n, nil
}

func (s *PGStore) FindByUser(ctx context.Context, userID string, status Status) ([]Notification, error) {
	query, args, err := findByUserQuery(userID, status)
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateStatus(ctx context.Context, n *Notification, from Status) error {
	query, args, err := updateStatusQuery(n, from)
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update notification %s: %w", n.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is no longer %s", ErrInvalidTransition, n.ID, from)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete("notifications").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CountByStatus(ctx context.Context, userID string, status Status) (int, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("notifications").
		Where(squirrel.Eq{"user_id": userID, "status": status}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

func (s *PGStore) MarkAllRead(ctx context.Context, userID string) (int, error) {
	query, args, err := psql.
		Update("notifications").
		Set("status", StatusRead).
		Where(squirrel.Eq{"user_id": userID, "status": StatusPending}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func findByUserQuery(userID string, status Status) (string, []interface{}, error) {
	q := psql.Select(columns...).From("notifications").Where(squirrel.Eq{"user_id": userID})
	if status != "" {
		q = q.Where(squirrel.Eq{"status": status})
	}
	return q.OrderBy("created_at DESC").ToSql()
}

func updateStatusQuery(n *Notification, from Status) (string, []interface{}, error) {
	return psql.
		Update("notifications").
		Set("status", n.Status).
		Set("sent_at", n.SentAt).
		Where(squirrel.Eq{"id": n.ID, "status": from}).
		ToSql()
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n    Notification
		meta []byte
	)
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Status, &meta, &n.CreatedAt, &n.SentAt)
	if err != nil {
		return nil, err
	}
	n.Metadata = map[string]interface{}{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &n, nil
}
