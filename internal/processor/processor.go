package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/messaging"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"go.uber.org/zap"
)

// RowProcessor performs the business action for one row. Business problems
// come back as a failed RowOutcome; an error means the row should be retried.
// Processing the same (job, row) twice must not repeat its side effects.
type RowProcessor interface {
	Process(ctx context.Context, job *domain.BulkJob, item domain.WorkItem) (domain.RowOutcome, error)
}

// MessageDispatcher sends one outbound message.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, msg messaging.Message) (*messaging.Receipt, error)
}

// Registry maps every job type to its processor. It is built once at startup
// and read-only afterwards.
type Registry struct {
	processors map[domain.JobType]RowProcessor
}

func NewRegistry(processors map[domain.JobType]RowProcessor) (*Registry, error) {
	registered := make(map[domain.JobType]RowProcessor, len(processors))
	for _, jobType := range domain.JobTypes() {
		p, ok := processors[jobType]
		if !ok || p == nil {
			return nil, fmt.Errorf("no processor registered for job type %s", jobType)
		}
		registered[jobType] = p
	}
	return &Registry{processors: registered}, nil
}

func (r *Registry) Lookup(jobType domain.JobType) (RowProcessor, error) {
	p, ok := r.processors[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: no processor for job type %q", domain.ErrValidation, jobType)
	}
	return p, nil
}

// Deps carries what the built-in processors need.
type Deps struct {
	Codes         repository.CodeRepository
	Invitations   repository.InvitationRepository
	Users         repository.UserRepository
	Subscriptions repository.SubscriptionRepository
	Messages      MessageDispatcher
	RedeemBaseURL string
	Logger        *zap.Logger
	Now           func() time.Time
}

func (d Deps) validate() error {
	switch {
	case d.Codes == nil:
		return fmt.Errorf("code repository is required")
	case d.Invitations == nil:
		return fmt.Errorf("invitation repository is required")
	case d.Users == nil:
		return fmt.Errorf("user repository is required")
	case d.Subscriptions == nil:
		return fmt.Errorf("subscription repository is required")
	case d.Messages == nil:
		return fmt.Errorf("message dispatcher is required")
	}
	return nil
}

// NewDefaultRegistry wires the processor of every supported job type.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.RedeemBaseURL = strings.TrimRight(strings.TrimSpace(deps.RedeemBaseURL), "/")

	return NewRegistry(map[domain.JobType]RowProcessor{
		domain.JobTypeDealerInvitation:       newInvitationProcessor(domain.InvitationKindDealer, deps),
		domain.JobTypeFarmerInvitation:       newInvitationProcessor(domain.InvitationKindFarmer, deps),
		domain.JobTypeCodeDistribution:       newCodeDistributionProcessor(deps),
		domain.JobTypeSubscriptionAssignment: newSubscriptionProcessor(deps),
	})
}

// send dispatches msg. A failure that belongs to the row comes back as a
// reason; anything else is returned as an error.
func send(ctx context.Context, messages MessageDispatcher, msg messaging.Message) (string, error) {
	if _, err := messages.Dispatch(ctx, msg); err != nil {
		if messaging.IsRowFailure(err) {
			return messaging.FailureReason(err), nil
		}
		return "", err
	}
	return "", nil
}

func senderName(cfg domain.JobConfig) string {
	if name := strings.TrimSpace(cfg.SenderName); name != "" {
		return name
	}
	return "Your sponsor"
}

func reference(item domain.WorkItem) string {
	return fmt.Sprintf("%s:%d", item.JobID, item.RowNumber)
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
