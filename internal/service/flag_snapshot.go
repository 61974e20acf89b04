package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"go.uber.org/zap"
)

const defaultFlagRefreshInterval = time.Minute

// FlagLoader reads the persisted messaging flags.
type FlagLoader interface {
	Load(ctx context.Context) (domain.MessagingFlags, error)
}

// FlagListener delivers out-of-band reload signals.
type FlagListener interface {
	Listen(ctx context.Context, onSignal func()) error
}

// FlagSnapshot serves an immutable copy of the messaging flags. Readers never
// block; a refresh swaps the whole snapshot.
type FlagSnapshot struct {
	loader   FlagLoader
	listener FlagListener
	interval time.Duration
	logger   *zap.Logger

	current atomic.Pointer[domain.MessagingFlags]
	reload  chan struct{}
}

func NewFlagSnapshot(loader FlagLoader, listener FlagListener, interval time.Duration, logger *zap.Logger) (*FlagSnapshot, error) {
	if loader == nil {
		return nil, fmt.Errorf("flag loader is required")
	}
	if interval <= 0 {
		interval = defaultFlagRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FlagSnapshot{
		loader:   loader,
		listener: listener,
		interval: interval,
		logger:   logger,
		reload:   make(chan struct{}, 1),
	}, nil
}

// Current returns the latest snapshot. ok is false until the first
// successful load; callers must not treat that as every channel being off.
func (s *FlagSnapshot) Current() (domain.MessagingFlags, bool) {
	if flags := s.current.Load(); flags != nil {
		return *flags, true
	}
	return domain.MessagingFlags{}, false
}

// Refresh loads the flags and swaps the snapshot.
func (s *FlagSnapshot) Refresh(ctx context.Context) error {
	flags, err := s.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load messaging flags: %w", err)
	}
	s.current.Store(&flags)
	return nil
}

// Signal asks the refresh loop to reload as soon as possible.
func (s *FlagSnapshot) Signal() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Start keeps the snapshot fresh until ctx ends.
func (s *FlagSnapshot) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial messaging flag load failed", zap.Error(err))
	}

	if s.listener != nil {
		go s.listen(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.reload:
		}

		if err := s.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("messaging flag refresh failed", zap.Error(err))
			continue
		}
		flags, _ := s.Current()
		s.logger.Debug("messaging flags refreshed",
			zap.Bool("sms", flags.SMS),
			zap.Bool("whatsapp", flags.WhatsApp),
			zap.Bool("email", flags.Email),
		)
	}
}

func (s *FlagSnapshot) listen(ctx context.Context) {
	for {
		err := s.listener.Listen(ctx, s.Signal)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("flag invalidation listener stopped, resubscribing",
			zap.Error(err),
			zap.Duration("retryIn", s.interval),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}
