package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/events"
)

// ListCache is the advisory cache the service reads lists through.
// *cache.Service satisfies it.
type ListCache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) bool
	SetJSON(ctx context.Context, key string, value interface{})
	DelByPrefix(ctx context.Context, prefix string)
}

// EventPublisher sends domain events. *events.Publisher satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, pattern string, data interface{}) error
}

type Service struct {
	repo      Repository
	cache     ListCache
	publisher EventPublisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, cache ListCache, publisher EventPublisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With().Str("component", "tasks").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*Task, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	due, err := parseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &Task{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: blankToNil(in.Description),
		Status:      in.Status,
		Priority:    in.Priority,
		DueDate:     due,
		UserID:      userID,
		CategoryID:  blankToNil(in.CategoryID),
		Subtasks:    make([]Subtask, 0, len(in.Subtasks)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	for _, title := range in.Subtasks {
		t.Subtasks = append(t.Subtasks, Subtask{ID: uuid.NewString(), Title: title, TaskID: t.ID})
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.cache.DelByPrefix(ctx, UserPrefix(userID))
	s.publish(ctx, events.PatternTaskCreated, t.ID, events.TaskCreated{
		TaskID:    t.ID,
		UserID:    t.UserID,
		Title:     t.Title,
		DueDate:   t.DueDate,
		CreatedAt: t.CreatedAt,
	})
	return t, nil
}

// Get returns a task owned by userID.
func (s *Service) Get(ctx context.Context, id, userID string) (*Task, error) {
	return s.owned(ctx, id, userID)
}

// List reads through the cache. A cache failure falls back to the store.
func (s *Service) List(ctx context.Context, f Filter) ([]Task, error) {
	key := ListKey(f.UserID, f.Status, f.CategoryID)

	var cached []Task
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	tasks, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []Task{}
	}
	s.cache.SetJSON(ctx, key, tasks)
	return tasks, nil
}

func (s *Service) Update(ctx context.Context, id, userID string, in UpdateInput) (*Task, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	t, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = blankToNil(in.Description)
	}
	if in.Status != nil {
		t.Status = *in.Status
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.DueDate != nil {
		due, err := parseDueDate(in.DueDate)
		if err != nil {
			return nil, err
		}
		t.DueDate = due
	}
	t.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	s.cache.DelByPrefix(ctx, UserPrefix(userID))
	s.publish(ctx, events.PatternTaskUpdated, t.ID, events.TaskUpdated{
		TaskID:    t.ID,
		UserID:    t.UserID,
		Title:     t.Title,
		Status:    string(t.Status),
		DueDate:   t.DueDate,
		UpdatedAt: t.UpdatedAt,
	})
	return t, nil
}

func (s *Service) Delete(ctx context.Context, id, userID string) error {
	t, err := s.owned(ctx, id, userID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.cache.DelByPrefix(ctx, UserPrefix(userID))
	s.publish(ctx, events.PatternTaskDeleted, t.ID, events.TaskDeleted{
		TaskID:    t.ID,
		UserID:    t.UserID,
		Title:     t.Title,
		DeletedAt: s.now(),
	})
	return nil
}

// ToggleSubtask flips a subtask's completed flag. It publishes no event.
func (s *Service) ToggleSubtask(ctx context.Context, taskID, subtaskID, userID string) (*Subtask, error) {
	if _, err := s.owned(ctx, taskID, userID); err != nil {
		return nil, err
	}

	st, err := s.repo.ToggleSubtask(ctx, taskID, subtaskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("toggle subtask: %w", err)
	}
	s.cache.DelByPrefix(ctx, UserPrefix(userID))
	return st, nil
}

func (s *Service) owned(ctx context.Context, id, userID string) (*Task, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find task: %w", err)
	}
	if t.UserID != userID {
		return nil, ErrForbidden
	}
	return t, nil
}

// publish never fails the mutation: the task is already committed.
func (s *Service) publish(ctx context.Context, pattern, taskID string, data interface{}) {
	if err := s.publisher.Publish(ctx, pattern, data); err != nil {
		s.logger.Warn().Err(err).Str("pattern", pattern).Str("task_id", taskID).Msg("event not published")
	}
}
