package notice

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for notices.
// It is append-only; there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, n Notice) error
	Recent(ctx context.Context, limit int) ([]Notice, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidNotice = errors.New("notice: invalid notice")

func (s *Service) Append(ctx context.Context, n Notice) (Notice, error) {
	if s.repo == nil {
		return Notice{}, errors.New("notice: repository not configured")
	}
	if n.Kind == "" || n.Message == "" {
		return Notice{}, ErrInvalidNotice
	}
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock().UTC()
	}
	if err := s.repo.Append(ctx, n); err != nil {
		return Notice{}, err
	}
	return n, nil
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Notice, error) {
	return s.repo.Recent(ctx, limit)
}
