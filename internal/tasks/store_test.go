package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListQuery(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "user only",
			filter:   Filter{UserID: "u1"},
			wantSQL:  "SELECT id, title, description, status, priority, due_date, user_id, category_id, created_at, updated_at FROM tasks WHERE user_id = $1 ORDER BY created_at DESC",
			wantArgs: []interface{}{"u1"},
		},
		{
			name:     "status and category",
			filter:   Filter{UserID: "u1", Status: StatusPending, CategoryID: "c1"},
			wantSQL:  "SELECT id, title, description, status, priority, due_date, user_id, category_id, created_at, updated_at FROM tasks WHERE user_id = $1 AND status = $2 AND category_id = $3 ORDER BY created_at DESC",
			wantArgs: []interface{}{"u1", StatusPending, "c1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := listQuery(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestSubtaskInsert(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	task := &Task{
		ID:        "t1",
		CreatedAt: now,
		Subtasks: []Subtask{
			{ID: "s1", Title: "a"},
			{ID: "s2", Title: "b"},
		},
	}

	sql, args, err := subtaskInsert(task)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO subtasks (id,task_id,title,completed,position,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7),($8,$9,$10,$11,$12,$13,$14)", sql)
	assert.Equal(t, []interface{}{
		"s1", "t1", "a", false, 0, now, now,
		"s2", "t1", "b", false, 1, now, now,
	}, args)
}

func TestFindByIDRejectsMalformedIDs(t *testing.T) {
	s := NewPGStore(nil)
	_, err := s.FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ToggleSubtask(context.Background(), "t1", "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}
