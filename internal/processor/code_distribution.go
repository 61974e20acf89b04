package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/messaging"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	"go.uber.org/zap"
)

type codeDistributionProcessor struct {
	deps Deps
}

func newCodeDistributionProcessor(deps Deps) *codeDistributionProcessor {
	return &codeDistributionProcessor{deps: deps}
}

func (p *codeDistributionProcessor) Process(ctx context.Context, job *domain.BulkJob, item domain.WorkItem) (domain.RowOutcome, error) {
	row := item.Row
	identifier := row.Identifier()
	logger := observability.JobLogger(p.deps.Logger, item)

	purchaseID := firstNonEmpty(row.PurchaseID, job.Config.PurchaseID)
	if purchaseID == "" {
		return domain.RowFailed(identifier, "purchase id is required"), nil
	}

	sendSMS := job.Config.SendNotification
	phone := domain.NormalizePhone(row.Phone)
	if sendSMS && phone == "" {
		return domain.RowFailed(identifier, "phone number is required when SMS is enabled"), nil
	}

	code, err := p.claim(ctx, purchaseID, job.ID, item.RowNumber)
	if errors.Is(err, domain.ErrNoCodesAvailable) {
		return domain.RowFailed(identifier, fmt.Sprintf("no available codes for purchase %s", purchaseID)), nil
	}
	if err != nil {
		return domain.RowOutcome{}, err
	}
	if code.Distributed() {
		return domain.RowSucceeded(identifier), nil
	}

	link := fmt.Sprintf("%s/redeem/%s", p.deps.RedeemBaseURL, code.Code)
	channel := domain.ChannelNone

	if sendSMS {
		channel = domain.ChannelSMS
		reason, err := send(ctx, p.deps.Messages, messaging.Message{
			Channel:   domain.ChannelSMS,
			To:        phone,
			Body:      codeMessage(job.Config, row.Name, code.Code, link),
			OwnerID:   job.OwnerID,
			Reference: reference(item),
		})
		if err != nil {
			return domain.RowOutcome{}, err
		}
		if reason != "" {
			// Hand the code back to the pool; the row is final.
			if err := p.deps.Codes.Release(ctx, code.ID); err != nil && !errors.Is(err, domain.ErrConflict) {
				return domain.RowOutcome{}, fmt.Errorf("release code: %w", err)
			}
			logger.Warn("code not delivered, claim released",
				zap.String("codeId", code.ID),
				zap.String("reason", reason),
			)
			return domain.RowFailed(identifier, reason), nil
		}
	}

	err = p.deps.Codes.MarkDistributed(ctx, code.ID, domain.CodeDistribution{
		RecipientName:  row.Name,
		RecipientPhone: phone,
		RedemptionLink: link,
		Channel:        channel,
		DistributedAt:  p.deps.Now().UTC(),
	})
	if err != nil {
		return domain.RowOutcome{}, fmt.Errorf("mark code distributed: %w", err)
	}

	logger.Debug("code distributed", zap.String("codeId", code.ID), zap.String("channel", channel.String()))
	return domain.RowSucceeded(identifier), nil
}

// claim returns the code held by (job, row), claiming a fresh one only when
// the row has none yet.
func (p *codeDistributionProcessor) claim(ctx context.Context, purchaseID, jobID string, rowNumber int) (*domain.SponsorshipCode, error) {
	code, err := p.deps.Codes.FindClaimedByRow(ctx, jobID, rowNumber)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find claimed code: %w", err)
	}

	code, err = p.deps.Codes.ClaimNext(ctx, purchaseID, jobID, rowNumber, p.deps.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrNoCodesAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("claim code: %w", err)
	}
	return code, nil
}

func codeMessage(cfg domain.JobConfig, name, code, link string) string {
	greeting := "Hello"
	if name != "" {
		greeting = "Hello " + name
	}
	return fmt.Sprintf("%s, %s gifted you a sponsorship package.\nYour code: %s\nRedeem now: %s",
		greeting, senderName(cfg), code, link)
}
