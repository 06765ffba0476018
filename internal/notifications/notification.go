// Package notifications materializes task events into per-user
// notifications and serves them back to their owners.
package notifications

import (
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	TypeTaskCreated  Type = "TASK_CREATED"
	TypeTaskUpdated  Type = "TASK_UPDATED"
	TypeTaskDeleted  Type = "TASK_DELETED"
	TypeTaskDueSoon  Type = "TASK_DUE_SOON"
	TypeTaskOverdue  Type = "TASK_OVERDUE"
	TypeDailySummary Type = "DAILY_SUMMARY"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusRead    Status = "READ"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRead, StatusSent, StatusFailed:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned for missing notifications and for
	// notifications owned by another user alike.
	ErrNotFound          = errors.New("notification not found")
	ErrInvalidTransition = errors.New("invalid notification status transition")
	ErrInvalidStatus     = errors.New("invalid notification status")
)

// Notification is a message for one user about one of their tasks.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"userId"`
	Type      Type                   `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Status    Status                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"createdAt"`
	SentAt    *time.Time             `json:"sentAt"`
}

// MarkRead moves a PENDING notification to READ. Status only ever leaves
// PENDING; every other status is final.
func (n *Notification) MarkRead() error {
	return n.transition(StatusRead)
}

func (n *Notification) MarkSent(at time.Time) error {
	if err := n.transition(StatusSent); err != nil {
		return err
	}
	n.SentAt = &at
	return nil
}

func (n *Notification) MarkFailed() error {
	return n.transition(StatusFailed)
}

func (n *Notification) transition(to Status) error {
	if n.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, to)
	}
	n.Status = to
	return nil
}

// metaString returns metadata[key] when it is a non-empty string.
func (n *Notification) metaString(key string) string {
	s, _ := n.Metadata[key].(string)
	return s
}
