package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/messaging"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	"go.uber.org/zap"
)

const invitationTTL = 7 * 24 * time.Hour

type invitationProcessor struct {
	kind domain.InvitationKind
	deps Deps
}

func newInvitationProcessor(kind domain.InvitationKind, deps Deps) *invitationProcessor {
	return &invitationProcessor{kind: kind, deps: deps}
}

func (p *invitationProcessor) Process(ctx context.Context, job *domain.BulkJob, item domain.WorkItem) (domain.RowOutcome, error) {
	row := item.Row
	identifier := row.Identifier()
	channel := job.Config.Channel()

	email := strings.ToLower(strings.TrimSpace(row.Email))
	phone := domain.NormalizePhone(row.Phone)
	name := strings.TrimSpace(row.Name)

	codeCount := 1
	switch p.kind {
	case domain.InvitationKindDealer:
		if name == "" {
			return domain.RowFailed(identifier, "dealer name is required"), nil
		}
		if email == "" && phone == "" {
			return domain.RowFailed(identifier, "email or phone is required"), nil
		}
		codeCount = firstPositive(row.CodeCount, job.Config.DefaultCodeCount)
		if codeCount <= 0 {
			return domain.RowFailed(identifier, "code count must be greater than zero"), nil
		}
	case domain.InvitationKindFarmer:
		if phone == "" {
			return domain.RowFailed(identifier, "phone number is required"), nil
		}
	}

	recipient := ""
	switch {
	case channel.UsesPhone():
		if phone == "" {
			return domain.RowFailed(identifier, fmt.Sprintf("phone number is required for %s", channel)), nil
		}
		recipient = phone
	case channel == domain.ChannelEmail:
		if email == "" {
			return domain.RowFailed(identifier, "email is required for EMAIL"), nil
		}
		recipient = email
	}

	now := p.deps.Now().UTC()
	inv, err := p.deps.Invitations.CreateForRow(ctx, &domain.Invitation{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		RowNumber: item.RowNumber,
		OwnerID:   job.OwnerID,
		Kind:      p.kind,
		Name:      name,
		Email:     optional(email),
		Phone:     optional(phone),
		CodeCount: codeCount,
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:    domain.InvitationStatusPending,
		Channel:   channel,
		ExpiresAt: now.Add(invitationTTL),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.RowOutcome{}, fmt.Errorf("create invitation: %w", err)
	}

	if channel == domain.ChannelNone || inv.LinkSent() {
		return domain.RowSucceeded(identifier), nil
	}

	link := fmt.Sprintf("%s/invitations/%s", p.deps.RedeemBaseURL, inv.Token)
	reason, err := send(ctx, p.deps.Messages, messaging.Message{
		Channel:   channel,
		To:        recipient,
		Subject:   p.subject(job.Config),
		Body:      p.body(job.Config, name, codeCount, link),
		OwnerID:   job.OwnerID,
		Reference: reference(item),
	})
	if err != nil {
		return domain.RowOutcome{}, err
	}
	if reason != "" {
		observability.JobLogger(p.deps.Logger, item).Warn("invitation not delivered",
			zap.String("invitationId", inv.ID),
			zap.String("reason", reason),
		)
		return domain.RowFailed(identifier, reason), nil
	}

	if err := p.deps.Invitations.MarkSent(ctx, inv.ID, p.deps.Now().UTC()); err != nil {
		return domain.RowOutcome{}, fmt.Errorf("mark invitation sent: %w", err)
	}
	return domain.RowSucceeded(identifier), nil
}

func (p *invitationProcessor) subject(cfg domain.JobConfig) string {
	if p.kind == domain.InvitationKindDealer {
		return fmt.Sprintf("%s invited you as a dealer", senderName(cfg))
	}
	return fmt.Sprintf("%s invited you", senderName(cfg))
}

func (p *invitationProcessor) body(cfg domain.JobConfig, name string, codeCount int, link string) string {
	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	if p.kind == domain.InvitationKindDealer {
		return fmt.Sprintf("%s, %s invited you to distribute %d sponsorship codes. Accept the invitation: %s",
			greeting, senderName(cfg), codeCount, link)
	}
	return fmt.Sprintf("%s, %s sent you a sponsorship invitation. Accept it here: %s",
		greeting, senderName(cfg), link)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
