package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/atrium-hq/atrium/internal/observability"
	"github.com/atrium-hq/atrium/internal/perm"
)

// Enqueuer pushes invalidations and mail onto the queue instead of running
// them inline. It satisfies the Invalidator ports of the domain services and
// the auth Mailer, keeping HTTP handlers off the slow paths.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer wraps an Asynq client.
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) InvalidateMembership(ctx context.Context, membershipID int64) error {
	return e.invalidate(ctx, TriggerMembership, membershipID)
}

func (e *Enqueuer) InvalidateRole(ctx context.Context, roleID int64) error {
	return e.invalidate(ctx, TriggerRole, roleID)
}

func (e *Enqueuer) InvalidateOrg(ctx context.Context, orgID int64) error {
	return e.invalidate(ctx, TriggerOrg, orgID)
}

func (e *Enqueuer) InvalidateUser(ctx context.Context, userID int64) error {
	return e.invalidate(ctx, TriggerUser, userID)
}

func (e *Enqueuer) invalidate(ctx context.Context, trigger string, id int64) error {
	task, err := NewInvalidateTask(InvalidatePayload{Trigger: trigger, ID: id})
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Queue(QueueCritical)); err != nil {
		return fmt.Errorf("enqueue %s invalidation: %w", trigger, err)
	}
	return nil
}

// SendLoginCode queues the login code mail.
func (e *Enqueuer) SendLoginCode(ctx context.Context, email, code string) error {
	task, err := NewSendEmailTask(SendEmailPayload{
		To:      email,
		Subject: "Your Atrium login code",
		Body:    fmt.Sprintf("Your login code is %s. It expires shortly.", code),
	})
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault)); err != nil {
		return fmt.Errorf("enqueue login mail: %w", err)
	}
	return nil
}

// DirectInvalidator clears the cache synchronously. The worker uses it so
// its own jobs do not re-enter the queue.
type DirectInvalidator struct {
	cache   *perm.Cache
	metrics *observability.Metrics
}

// NewDirectInvalidator wraps the computed-permission cache.
func NewDirectInvalidator(cache *perm.Cache, metrics *observability.Metrics) *DirectInvalidator {
	return &DirectInvalidator{cache: cache, metrics: metrics}
}

func (d *DirectInvalidator) InvalidateMembership(ctx context.Context, membershipID int64) error {
	count, err := d.cache.InvalidateMembership(ctx, membershipID)
	d.observe(TriggerMembership, count, err)
	return err
}

func (d *DirectInvalidator) InvalidateRole(ctx context.Context, roleID int64) error {
	count, err := d.cache.InvalidateRole(ctx, roleID)
	d.observe(TriggerRole, count, err)
	return err
}

func (d *DirectInvalidator) InvalidateOrg(ctx context.Context, orgID int64) error {
	count, err := d.cache.InvalidateOrg(ctx, orgID)
	d.observe(TriggerOrg, count, err)
	return err
}

func (d *DirectInvalidator) InvalidateUser(ctx context.Context, userID int64) error {
	count, err := d.cache.InvalidateUser(ctx, userID)
	d.observe(TriggerUser, count, err)
	return err
}

func (d *DirectInvalidator) observe(trigger string, count int64, err error) {
	if err != nil || d.metrics == nil {
		return
	}
	d.metrics.Invalidations(trigger, count)
}
