package users

import (
	"context"
	"fmt"

	"github.com/atrium-hq/atrium/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, limit, offset int) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	SetTier(ctx context.Context, userID int64, tierID *int64) error
	SetActive(ctx context.Context, userID int64, active bool) error
}

// Invalidator schedules permission-cache invalidation after mutations.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
}

// Service handles user business logic.
type Service struct {
	repo        RepositoryPort
	audit       *shared.AuditLogger
	invalidator Invalidator
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, invalidator Invalidator) *Service {
	return &Service{repo: repo, audit: audit, invalidator: invalidator}
}

// ListUsers returns one page of users plus pagination metadata.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) ([]User, shared.Pagination, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	users, total, err := s.repo.ListUsers(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(page, perPage, total), nil
}

// GetUser fetches a single user.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// AssignTier moves a user onto a tier (nil clears it) and invalidates every
// membership the change can affect: the user's own, and those of every
// organization the user owns, whose ceiling just moved.
func (s *Service) AssignTier(ctx context.Context, actorID, userID int64, tierID *int64) error {
	if err := s.repo.SetTier(ctx, userID, tierID); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "user.tier_assigned",
			Entity:   "user",
			EntityID: fmt.Sprintf("%d", userID),
			Meta:     map[string]any{"tier_id": tierID},
		})
	}
	if s.invalidator != nil {
		return s.invalidator.InvalidateUser(ctx, userID)
	}
	return nil
}

// SetActive enables or disables an account.
func (s *Service) SetActive(ctx context.Context, actorID, userID int64, active bool) error {
	if err := s.repo.SetActive(ctx, userID, active); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "user.set_active",
			Entity:   "user",
			EntityID: fmt.Sprintf("%d", userID),
			Meta:     map[string]any{"active": active},
		})
	}
	return nil
}
