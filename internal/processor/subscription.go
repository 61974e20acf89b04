package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/messaging"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	"go.uber.org/zap"
)

type subscriptionProcessor struct {
	deps Deps
}

func newSubscriptionProcessor(deps Deps) *subscriptionProcessor {
	return &subscriptionProcessor{deps: deps}
}

func (p *subscriptionProcessor) Process(ctx context.Context, job *domain.BulkJob, item domain.WorkItem) (domain.RowOutcome, error) {
	row := item.Row
	identifier := row.Identifier()
	logger := observability.JobLogger(p.deps.Logger, item)

	email := strings.ToLower(strings.TrimSpace(row.Email))
	phone := domain.NormalizePhone(row.Phone)
	if email == "" && phone == "" {
		return domain.RowFailed(identifier, "email or phone is required"), nil
	}

	tierID := firstNonEmpty(row.TierID, job.Config.DefaultTierID)
	if tierID == "" {
		return domain.RowFailed(identifier, "tier id is required"), nil
	}
	duration := firstPositive(row.DurationDays, job.Config.DefaultDurationDays)
	if duration <= 0 {
		return domain.RowFailed(identifier, "duration days must be greater than zero"), nil
	}

	now := p.deps.Now().UTC()
	user, created, err := p.deps.Users.FindOrCreate(ctx, &domain.User{
		ID:        uuid.NewString(),
		FullName:  strings.TrimSpace(row.Name),
		Email:     optional(email),
		Phone:     optional(phone),
		CreatedAt: now,
	})
	if err != nil {
		return domain.RowOutcome{}, fmt.Errorf("find or create user: %w", err)
	}
	if created {
		logger.Debug("user created for subscription", zap.String("userId", user.ID))
	}

	existing, err := p.deps.Subscriptions.GetByUserID(ctx, user.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.RowOutcome{}, fmt.Errorf("load subscription: %w", err)
	}
	if existing != nil && existing.TierID == tierID &&
		existing.AssignedByJobID != nil && *existing.AssignedByJobID == job.ID {
		return domain.RowSucceeded(identifier), nil
	}

	jobID := job.ID
	sub, err := p.deps.Subscriptions.Upsert(ctx, &domain.Subscription{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		TierID:          tierID,
		StartDate:       now,
		EndDate:         now.AddDate(0, 0, duration),
		IsActive:        true,
		AutoActivate:    job.Config.AutoActivate,
		AssignedByJobID: &jobID,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return domain.RowOutcome{}, fmt.Errorf("upsert subscription: %w", err)
	}

	if job.Config.SendNotification && phone != "" {
		_, err := p.deps.Messages.Dispatch(ctx, messaging.Message{
			Channel:   domain.ChannelSMS,
			To:        phone,
			Body:      subscriptionMessage(job.Config, row.Name, tierID, sub),
			OwnerID:   job.OwnerID,
			Reference: reference(item),
		})
		if err != nil {
			// The subscription is in place; the row stands.
			logger.Warn("subscription notification failed", zap.String("userId", user.ID), zap.Error(err))
		}
	}

	return domain.RowSucceeded(identifier), nil
}

func subscriptionMessage(cfg domain.JobConfig, name, tierID string, sub *domain.Subscription) string {
	greeting := "Hello"
	if name = strings.TrimSpace(name); name != "" {
		greeting = "Hello " + name
	}
	return fmt.Sprintf("%s, %s assigned you the %s subscription, valid until %s.",
		greeting, senderName(cfg), tierID, sub.EndDate.Format("2006-01-02"))
}
