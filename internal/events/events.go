// Package events defines the broker wire contract between the task service
// and its consumers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event patterns.
const (
	PatternTaskCreated    = "task.created"
	PatternTaskUpdated    = "task.updated"
	PatternTaskDeleted    = "task.deleted"
	PatternTaskDueSoon    = "task.due_soon"
	PatternTaskOverdue    = "task.overdue"
	PatternUserRegistered = "user.registered"
	PatternNotifySend     = "notification.send"
)

// Durable queue names.
const (
	QueueTasks         = "tasks_queue"
	QueueNotifications = "notifications_queue"
	QueueUsers         = "users_queue"
	QueueDefault       = "default_queue"
)

// TimestampLayout is the envelope timestamp format: ISO-8601 UTC with
// millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	ErrUnknownPattern = errors.New("events: unknown pattern")
	ErrMalformed      = errors.New("events: malformed envelope")
)

// Envelope wraps every message put on a queue.
type Envelope struct {
	Pattern   string          `json:"pattern"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// NewEnvelope marshals data and stamps it with now.
func NewEnvelope(pattern string, data interface{}, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", pattern, err)
	}
	return Envelope{
		Pattern:   pattern,
		Data:      raw,
		Timestamp: now.UTC().Format(TimestampLayout),
	}, nil
}

// ParseEnvelope decodes a message body.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Pattern == "" {
		return Envelope{}, fmt.Errorf("%w: missing pattern", ErrMalformed)
	}
	return env, nil
}

// TaskEvent is one of TaskCreated, TaskUpdated or TaskDeleted.
type TaskEvent interface {
	Pattern() string
	Owner() string
	taskEvent()
}

type TaskCreated struct {
	TaskID    string     `json:"taskId"`
	UserID    string     `json:"userId"`
	Title     string     `json:"title"`
	DueDate   *time.Time `json:"dueDate"`
	CreatedAt time.Time  `json:"createdAt"`
}

type TaskUpdated struct {
	TaskID    string     `json:"taskId"`
	UserID    string     `json:"userId"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	DueDate   *time.Time `json:"dueDate"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type TaskDeleted struct {
	TaskID    string    `json:"taskId"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	DeletedAt time.Time `json:"deletedAt"`
}

func (TaskCreated) Pattern() string { return PatternTaskCreated }
func (TaskUpdated) Pattern() string { return PatternTaskUpdated }
func (TaskDeleted) Pattern() string { return PatternTaskDeleted }

func (e TaskCreated) Owner() string { return e.UserID }
func (e TaskUpdated) Owner() string { return e.UserID }
func (e TaskDeleted) Owner() string { return e.UserID }

func (TaskCreated) taskEvent() {}
func (TaskUpdated) taskEvent() {}
func (TaskDeleted) taskEvent() {}

// DecodeTaskEvent turns an envelope into its task event variant. Patterns
// outside the task event set return ErrUnknownPattern.
func DecodeTaskEvent(env Envelope) (TaskEvent, error) {
	var (
		ev  TaskEvent
		err error
	)
	switch env.Pattern {
	case PatternTaskCreated:
		var e TaskCreated
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case PatternTaskUpdated:
		var e TaskUpdated
		err = json.Unmarshal(env.Data, &e)
		ev = e
	case PatternTaskDeleted:
		var e TaskDeleted
		err = json.Unmarshal(env.Data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, env.Pattern)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformed, env.Pattern, err)
	}
	if ev.Owner() == "" {
		return nil, fmt.Errorf("%w: %s data has no userId", ErrMalformed, env.Pattern)
	}
	return ev, nil
}
