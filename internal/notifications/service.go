package notifications

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Service holds the read and lifecycle use cases. Every operation is scoped
// to the calling user.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// List returns userID's notifications, newest first, optionally filtered
// by status.
func (s *Service) List(ctx context.Context, userID string, status Status) ([]Notification, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.repo.FindByUser(ctx, userID, status)
}

// UnreadCount counts userID's PENDING notifications.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountByStatus(ctx, userID, StatusPending)
}

// MarkRead moves a PENDING notification to READ. Marking an already read
// notification again is a no-op.
func (s *Service) MarkRead(ctx context.Context, id, userID string) (*Notification, error) {
	n, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n.Status == StatusRead {
		return n, nil
	}

	from := n.Status
	if err := n.MarkRead(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, n, from); err != nil {
		return nil, err
	}
	return n, nil
}

// MarkAllRead moves every PENDING notification of userID to READ.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// owned loads id and hides notifications of other users behind
// ErrNotFound.
func (s *Service) owned(ctx context.Context, id, userID string) (*Notification, error) {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		s.logger.Debug().Str("notification", id).Str("user", userID).Msg("notification owned by another user")
		return nil, ErrNotFound
	}
	return n, nil
}
