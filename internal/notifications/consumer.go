package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/broker"
	"github.com/darkden-lab/taskflow/internal/events"
	"github.com/darkden-lab/taskflow/internal/metrics"
)

// Subscriber registers queue handlers. *broker.Client satisfies it.
type Subscriber interface {
	Consume(queue string, handler broker.Handler)
}

// PostCommitHook runs after a notification has been persisted. Its error
// is only logged; it never changes whether the message is acked.
type PostCommitHook interface {
	Name() string
	AfterCreate(ctx context.Context, n *Notification) error
}

// Consumer turns task events from the tasks queue into notifications.
type Consumer struct {
	repo    Repository
	hooks   []PostCommitHook
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

func NewConsumer(repo Repository, logger zerolog.Logger, m *metrics.Metrics, hooks ...PostCommitHook) *Consumer {
	return &Consumer{
		repo:    repo,
		hooks:   hooks,
		logger:  logger.With().Str("component", "consumer").Logger(),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Register subscribes the consumer to the tasks queue.
func (c *Consumer) Register(sub Subscriber) {
	sub.Consume(events.QueueTasks, c.Handle)
}

// Handle processes one message body. Unknown patterns are acked without
// effect. Malformed messages and store failures return an error so the
// message is nacked.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	env, err := events.ParseEnvelope(body)
	if err != nil {
		return err
	}

	ev, err := events.DecodeTaskEvent(env)
	if errors.Is(err, events.ErrUnknownPattern) {
		c.logger.Warn().Str("pattern", env.Pattern).Msg("unknown pattern, ignoring message")
		return nil
	}
	if err != nil {
		return err
	}

	n := Build(ev, c.newID(), c.now())
	if err := c.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("%s: store notification: %w", env.Pattern, err)
	}
	c.metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	c.logger.Info().
		Str("pattern", env.Pattern).
		Str("notification", n.ID).
		Str("user", n.UserID).
		Msg("notification created")

	for _, h := range c.hooks {
		c.runHook(ctx, h, n)
	}
	return nil
}

// runHook isolates hook failures and panics from the delivery outcome.
func (c *Consumer) runHook(ctx context.Context, h PostCommitHook, n *Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str("hook", h.Name()).Str("notification", n.ID).Msgf("hook panic: %v", r)
		}
	}()
	if err := h.AfterCreate(ctx, n); err != nil {
		c.logger.Warn().Err(err).Str("hook", h.Name()).Str("notification", n.ID).Msg("post-commit hook failed")
	}
}

// Build materializes the notification for ev. The switch is exhaustive
// over the sealed task event set.
func Build(ev events.TaskEvent, id string, now time.Time) *Notification {
	n := &Notification{
		ID:        id,
		UserID:    ev.Owner(),
		Status:    StatusPending,
		CreatedAt: now,
	}

	switch e := ev.(type) {
	case events.TaskCreated:
		n.Type = TypeTaskCreated
		n.Title = "Task Created: " + e.Title
		n.Message = "Your task has been created successfully."
		n.Metadata = map[string]interface{}{
			"taskId":  e.TaskID,
			"dueDate": formatTime(e.DueDate),
		}
	case events.TaskUpdated:
		n.Type = TypeTaskUpdated
		n.Title = "Task Updated: " + e.Title
		n.Message = "Your task has been updated. New status: " + e.Status
		n.Metadata = map[string]interface{}{
			"taskId":  e.TaskID,
			"status":  e.Status,
			"dueDate": formatTime(e.DueDate),
		}
	case events.TaskDeleted:
		n.Type = TypeTaskDeleted
		n.Title = "Task Deleted: " + e.Title
		n.Message = "Your task has been deleted."
		n.Metadata = map[string]interface{}{
			"taskId":    e.TaskID,
			"deletedAt": formatTime(&e.DeletedAt),
		}
	default:
		panic(fmt.Sprintf("notifications: unhandled task event %T", ev))
	}
	return n
}

// formatTime keeps metadata timestamps as strings so they look the same
// before and after a round trip through the store.
func formatTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
