package tiers

import (
	"context"
	"fmt"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/shared"
)

// RepositoryPort defines data access methods for tiers.
type RepositoryPort interface {
	ListTiers(ctx context.Context) ([]Tier, error)
	GetTier(ctx context.Context, id int64) (*Tier, error)
	CreateTier(ctx context.Context, tier Tier) (Tier, error)
	UpdateTier(ctx context.Context, tier Tier) (Tier, error)
	TierHolders(ctx context.Context, tierID int64) ([]int64, error)
}

// Invalidator schedules permission-cache invalidation after mutations.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
}

// Service handles tier business logic.
type Service struct {
	repo        RepositoryPort
	audit       *shared.AuditLogger
	invalidator Invalidator
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, invalidator Invalidator) *Service {
	return &Service{repo: repo, audit: audit, invalidator: invalidator}
}

// ListTiers returns all tiers.
func (s *Service) ListTiers(ctx context.Context) ([]Tier, error) {
	return s.repo.ListTiers(ctx)
}

// GetTier fetches a single tier.
func (s *Service) GetTier(ctx context.Context, id int64) (*Tier, error) {
	return s.repo.GetTier(ctx, id)
}

// CreateTier validates and inserts a tier. The registry rule that only the
// staff tier may carry system bits is enforced here, at write time, so
// resolution never needs to re-check it.
func (s *Service) CreateTier(ctx context.Context, actorID int64, tier Tier) (Tier, error) {
	if err := perm.ValidateTierBase(tier.BasePermissions, tier.IsStaff); err != nil {
		return Tier{}, err
	}
	created, err := s.repo.CreateTier(ctx, tier)
	if err != nil {
		return Tier{}, err
	}
	s.record(ctx, actorID, "tier.created", created.ID, nil)
	return created, nil
}

// UpdateTier validates and applies tier changes, then invalidates the cached
// permissions of every holder: their base grant moved, and so did the
// ceiling of every organization they own. IsStaff is immutable after
// creation, so the staff designation cannot drift through edits.
func (s *Service) UpdateTier(ctx context.Context, actorID int64, tier Tier) (Tier, error) {
	existing, err := s.repo.GetTier(ctx, tier.ID)
	if err != nil {
		return Tier{}, err
	}
	tier.IsStaff = existing.IsStaff
	if err := perm.ValidateTierBase(tier.BasePermissions, tier.IsStaff); err != nil {
		return Tier{}, err
	}
	updated, err := s.repo.UpdateTier(ctx, tier)
	if err != nil {
		return Tier{}, err
	}

	holders, err := s.repo.TierHolders(ctx, tier.ID)
	if err != nil {
		return Tier{}, err
	}
	if s.invalidator != nil {
		for _, userID := range holders {
			if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
				return Tier{}, err
			}
		}
	}
	s.record(ctx, actorID, "tier.updated", updated.ID, map[string]any{"holders": len(holders)})
	return updated, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, tierID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "tier",
		EntityID: fmt.Sprintf("%d", tierID),
		Meta:     meta,
	})
}
