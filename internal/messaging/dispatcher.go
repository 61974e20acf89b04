package messaging

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/ratelimit"
	"go.uber.org/zap"
)

// FlagSource exposes the current messaging feature flags. ok is false until
// the flags have been loaded at least once.
type FlagSource interface {
	Current() (flags domain.MessagingFlags, ok bool)
}

// Dispatcher gates messages on feature flags, paces them through the shared
// throttle and hands them to the gateway.
type Dispatcher struct {
	sender  Sender
	limiter ratelimit.RateLimiter
	flags   FlagSource
	logger  *zap.Logger
}

func NewDispatcher(sender Sender, limiter ratelimit.RateLimiter, flags FlagSource, logger *zap.Logger) (*Dispatcher, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if flags == nil {
		return nil, fmt.Errorf("flag source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		sender:  sender,
		limiter: limiter,
		flags:   flags,
		logger:  logger,
	}, nil
}

// Dispatch sends msg. Disabled channels fail with ErrChannelDisabled without
// consuming throttle budget. Unloaded flags fail with ErrFlagsUnavailable so
// the row is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (*Receipt, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	flags, ok := d.flags.Current()
	if !ok {
		return nil, fmt.Errorf("%w: cannot decide whether %s is enabled", ErrFlagsUnavailable, msg.Channel)
	}
	if !flags.Enabled(msg.Channel) {
		return nil, fmt.Errorf("%w: %s", ErrChannelDisabled, msg.Channel)
	}

	if err := d.limiter.Wait(ctx, msg.Channel.String()); err != nil {
		return nil, fmt.Errorf("send throttle: %w", err)
	}

	receipt, err := d.sender.Send(ctx, msg)
	if err != nil {
		d.logger.Warn("message send failed",
			zap.String("channel", msg.Channel.String()),
			zap.String("reference", msg.Reference),
			zap.Bool("transient", IsTransient(err)),
			zap.Error(err),
		)
		return nil, err
	}

	d.logger.Debug("message sent",
		zap.String("channel", msg.Channel.String()),
		zap.String("reference", msg.Reference),
		zap.String("messageId", receipt.MessageID),
	)
	return receipt, nil
}
