package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists tasks and their subtasks.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	FindByID(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f Filter) ([]Task, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
	ToggleSubtask(ctx context.Context, taskID, subtaskID string) (*Subtask, error)
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var taskColumns = []string{
	"id", "title", "description", "status", "priority",
	"due_date", "user_id", "category_id", "created_at", "updated_at",
}

// PGStore is the Postgres Repository.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Create inserts t and its subtasks in one transaction.
func (s *PGStore) Create(ctx context.Context, t *Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	query, args, err := psql.
		Insert("tasks").
		Columns(taskColumns...).
		Values(t.ID, t.Title, t.Description, t.Status, t.Priority,
			t.DueDate, t.UserID, t.CategoryID, t.CreatedAt, t.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	if len(t.Subtasks) > 0 {
		query, args, err := subtaskInsert(t)
		if err != nil {
			return fmt.Errorf("build subtask insert: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert subtasks: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query, args, err := psql.Select(taskColumns...).From("tasks").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	t, err := scanTask(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task %s: %w", id, err)
	}

	tasks := []Task{*t}
	if err := s.loadSubtasks(ctx, tasks); err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

// List returns the matching tasks, newest first.
func (s *PGStore) List(ctx context.Context, f Filter) ([]Task, error) {
	query, args, err := listQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	if err := s.loadSubtasks(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *PGStore) Update(ctx context.Context, t *Task) error {
	query, args, err := psql.
		Update("tasks").
		SetMap(map[string]interface{}{
			"title":       t.Title,
			"description": t.Description,
			"status":      t.Status,
			"priority":    t.Priority,
			"due_date":    t.DueDate,
			"updated_at":  t.UpdatedAt,
		}).
		Where(squirrel.Eq{"id": t.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the task; subtasks go with it through the foreign key.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete("tasks").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ToggleSubtask(ctx context.Context, taskID, subtaskID string) (*Subtask, error) {
	if _, err := uuid.Parse(subtaskID); err != nil {
		return nil, ErrNotFound
	}

	query, args, err := psql.
		Update("subtasks").
		Set("completed", squirrel.Expr("NOT completed")).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": subtaskID, "task_id": taskID}).
		Suffix("RETURNING id, title, completed, task_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	var st Subtask
	err = s.pool.QueryRow(ctx, query, args...).Scan(&st.ID, &st.Title, &st.Completed, &st.TaskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toggle subtask %s: %w", subtaskID, err)
	}
	return &st, nil
}

// loadSubtasks fills Subtasks for every task with one query.
func (s *PGStore) loadSubtasks(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	index := make(map[string]int, len(tasks))
	ids := make([]string, 0, len(tasks))
	for i := range tasks {
		tasks[i].Subtasks = []Subtask{}
		index[tasks[i].ID] = i
		ids = append(ids, tasks[i].ID)
	}

	query, args, err := psql.
		Select("id", "title", "completed", "task_id").
		From("subtasks").
		Where(squirrel.Eq{"task_id": ids}).
		OrderBy("position", "created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build subtask select: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("load subtasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st Subtask
		if err := rows.Scan(&st.ID, &st.Title, &st.Completed, &st.TaskID); err != nil {
			return fmt.Errorf("scan subtask: %w", err)
		}
		if i, ok := index[st.TaskID]; ok {
			tasks[i].Subtasks = append(tasks[i].Subtasks, st)
		}
	}
	return rows.Err()
}

func listQuery(f Filter) (string, []interface{}, error) {
	q := psql.Select(taskColumns...).From("tasks").Where(squirrel.Eq{"user_id": f.UserID})
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": f.Status})
	}
	if f.CategoryID != "" {
		q = q.Where(squirrel.Eq{"category_id": f.CategoryID})
	}
	return q.OrderBy("created_at DESC").ToSql()
}

func subtaskInsert(t *Task) (string, []interface{}, error) {
	q := psql.Insert("subtasks").Columns("id", "task_id", "title", "completed", "position", "created_at", "updated_at")
	for i, st := range t.Subtasks {
		q = q.Values(st.ID, t.ID, st.Title, st.Completed, i, t.CreatedAt, t.CreatedAt)
	}
	return q.ToSql()
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.DueDate, &t.UserID, &t.CategoryID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
