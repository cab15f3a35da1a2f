package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/atrium-hq/atrium/internal/observability"
	"github.com/atrium-hq/atrium/internal/perm"
)

const (
	// TaskTypeInvalidate marks cached permission masks stale.
	TaskTypeInvalidate = "perm:invalidate"
	// TaskTypeOverrideSweep purges expired overrides and stales their holders.
	TaskTypeOverrideSweep = "perm:override-sweep"
)

// Invalidation triggers. The trigger names also label the invalidation
// counter, so changing one changes the metric series.
const (
	TriggerMembership = "membership"
	TriggerRole       = "role"
	TriggerOrg        = "org"
	TriggerUser       = "user"
)

// InvalidatePayload names the stale scope. Trigger picks the fan-out shape;
// ID is the membership, role, organization, or user the trigger refers to.
type InvalidatePayload struct {
	Trigger string `json:"trigger"`
	ID      int64  `json:"id"`
}

// NewInvalidateTask constructs an Asynq task marking cached masks stale.
func NewInvalidateTask(payload InvalidatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeInvalidate, data), nil
}

// NewInvalidateHandler returns the handler processing TaskTypeInvalidate.
// Invalidation is idempotent, so a redelivered task is harmless.
func NewInvalidateHandler(cache *perm.Cache, metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload InvalidatePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		var (
			count int64
			err   error
		)
		switch payload.Trigger {
		case TriggerMembership:
			count, err = cache.InvalidateMembership(ctx, payload.ID)
		case TriggerRole:
			count, err = cache.InvalidateRole(ctx, payload.ID)
		case TriggerOrg:
			count, err = cache.InvalidateOrg(ctx, payload.ID)
		case TriggerUser:
			count, err = cache.InvalidateUser(ctx, payload.ID)
		default:
			logger.Warn("unknown invalidation trigger", slog.String("trigger", payload.Trigger))
			return asynq.SkipRetry
		}
		if err != nil {
			return fmt.Errorf("invalidate %s %d: %w", payload.Trigger, payload.ID, err)
		}
		if metrics != nil {
			metrics.Invalidations(payload.Trigger, count)
		}
		logger.Info("permissions invalidated",
			slog.String("trigger", payload.Trigger),
			slog.Int64("id", payload.ID),
			slog.Int64("memberships", count))
		return nil
	}
}

// OverrideSweeper purges expired overrides. The orgs service implements it.
type OverrideSweeper interface {
	SweepExpiredOverrides(ctx context.Context, now time.Time) (int, error)
}

// NewOverrideSweepTask constructs the cron task removing expired overrides.
func NewOverrideSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeOverrideSweep, nil)
}

// NewOverrideSweepHandler returns the handler processing the override sweep.
func NewOverrideSweepHandler(sweeper OverrideSweeper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		purged, err := sweeper.SweepExpiredOverrides(ctx, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("sweep expired overrides: %w", err)
		}
		if purged > 0 {
			logger.Info("expired overrides purged", slog.Int("count", purged))
		}
		return nil
	}
}
