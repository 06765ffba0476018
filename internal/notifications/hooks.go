package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/email"
	"github.com/darkden-lab/taskflow/internal/users"
)

// UserLookup resolves a user's address. *users.Store satisfies it.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*users.User, error)
}

// TaskMailer sends task notification emails. *email.Mailer satisfies it.
type TaskMailer interface {
	SendTaskNotification(ctx context.Context, to string, tm email.TaskMail) bool
}

// EmailHook emails the owner of every new notification. With trackStatus
// the notification moves to SENT or FAILED after the attempt; otherwise
// it stays PENDING.
type EmailHook struct {
	users       UserLookup
	mailer      TaskMailer
	repo        Repository
	trackStatus bool
	logger      zerolog.Logger
	now         func() time.Time
}

func NewEmailHook(lookup UserLookup, mailer TaskMailer, repo Repository, trackStatus bool, logger zerolog.Logger) *EmailHook {
	return &EmailHook{
		users:       lookup,
		mailer:      mailer,
		repo:        repo,
		trackStatus: trackStatus,
		logger:      logger.With().Str("component", "email_hook").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (h *EmailHook) Name() string { return "email" }

func (h *EmailHook) AfterCreate(ctx context.Context, n *Notification) error {
	u, err := h.users.FindByID(ctx, n.UserID)
	if errors.Is(err, users.ErrNotFound) {
		h.logger.Warn().Str("user", n.UserID).Msg("user not found, skipping email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up user %s: %w", n.UserID, err)
	}

	sent := h.mailer.SendTaskNotification(ctx, u.Email, taskMail(n))
	if !h.trackStatus {
		return nil
	}

	from := n.Status
	if sent {
		err = n.MarkSent(h.now())
	} else {
		err = n.MarkFailed()
	}
	if err != nil {
		return err
	}
	return h.repo.UpdateStatus(ctx, n, from)
}

func taskMail(n *Notification) email.TaskMail {
	tm := email.TaskMail{
		Title:   n.Title,
		Message: n.Message,
		TaskID:  n.metaString("taskId"),
		Status:  n.metaString("status"),
	}
	if raw := n.metaString("dueDate"); raw != "" {
		if due, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			tm.DueDate = &due
		}
	}
	return tm
}

// Pusher delivers a payload to a user's live connections. *ws.Hub
// satisfies it.
type Pusher interface {
	SendToUser(userID string, v interface{}) error
}

// PushHook streams new notifications to connected clients.
type PushHook struct {
	pusher Pusher
}

func NewPushHook(p Pusher) *PushHook {
	return &PushHook{pusher: p}
}

func (h *PushHook) Name() string { return "push" }

func (h *PushHook) AfterCreate(_ context.Context, n *Notification) error {
	return h.pusher.SendToUser(n.UserID, n)
}
