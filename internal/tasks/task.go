// Package tasks implements the task aggregate and the producer side of the
// notification pipeline: every mutation persists, invalidates the user's
// cached lists, then publishes an event.
package tasks

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

var (
	ErrNotFound  = errors.New("task not found")
	ErrForbidden = errors.New("task belongs to another user")
)

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	UserID      string     `json:"userId"`
	CategoryID  *string    `json:"categoryId"`
	Subtasks    []Subtask  `json:"subtasks"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Subtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	TaskID    string `json:"taskId"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	UserID     string
	Status     Status
	CategoryID string
}

type CreateInput struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description *string  `json:"description"`
	Status      Status   `json:"status" validate:"omitempty,oneof=PENDING IN_PROGRESS COMPLETED CANCELLED"`
	Priority    Priority `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	DueDate     *string  `json:"dueDate"`
	CategoryID  *string  `json:"categoryId"`
	Subtasks    []string `json:"subtasks" validate:"dive,required,max=200"`
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Title       *string   `json:"title" validate:"omitnil,min=1,max=200"`
	Description *string   `json:"description"`
	Status      *Status   `json:"status" validate:"omitnil,oneof=PENDING IN_PROGRESS COMPLETED CANCELLED"`
	Priority    *Priority `json:"priority" validate:"omitnil,oneof=LOW MEDIUM HIGH URGENT"`
	DueDate     *string   `json:"dueDate"`
}

// ValidationError reports invalid input. Fields maps the JSON field name to
// the failed rule.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, rule := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, rule))
	}
	return "invalid task: " + strings.Join(parts, ", ")
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out.Fields[fe.Field()] = rule
	}
	return out
}

// parseDueDate accepts RFC 3339 timestamps and bare YYYY-MM-DD dates. An
// empty string clears the date.
func parseDueDate(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, &ValidationError{Fields: map[string]string{"dueDate": "datetime"}}
}

// blankToNil turns empty or whitespace-only strings into nil.
func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
