// Package users looks up the accounts tasks and notifications belong to.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store reads and writes the users table.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	query, args, err := findByIDQuery(id)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var u User
	err = s.pool.QueryRow(ctx, query, args...).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return &u, nil
}

// Create inserts a user with a server-generated id.
func (s *Store) Create(ctx context.Context, email, name string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("create user: email is required")
	}

	query, args, err := squirrel.
		Insert("users").
		Columns("email", "name").
		Values(email, name).
		Suffix("RETURNING id, email, name, created_at").
		PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var u User
	err = s.pool.QueryRow(ctx, query, args...).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, fmt.Errorf("%w: %s", ErrExists, email)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

func findByIDQuery(id string) (string, []interface{}, error) {
	return squirrel.
		Select("id", "email", "name", "created_at").
		From("users").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).ToSql()
}
