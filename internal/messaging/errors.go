package messaging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
)

var (
	// ErrChannelDisabled is returned when the channel's feature flag is off.
	ErrChannelDisabled = errors.New("messaging channel disabled")
	// ErrFlagsUnavailable is returned while no flag snapshot has been loaded.
	// It is an outage, not a property of the row.
	ErrFlagsUnavailable = errors.New("messaging flags not loaded")
)

// SendError classifies gateway failures as transient or permanent.
type SendError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "messaging gateway error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a send should be retried later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// IsRowFailure reports whether err means the row itself cannot be delivered,
// as opposed to an outage worth retrying.
func IsRowFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChannelDisabled) || errors.Is(err, domain.ErrValidation) {
		return true
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return !sendErr.Transient
	}
	return false
}

// FailureReason renders err for a row's error summary.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrChannelDisabled):
		return "messaging channel is disabled"
	case errors.Is(err, domain.ErrValidation):
		return strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) && strings.TrimSpace(sendErr.Message) != "" {
		return "send failed: " + sendErr.Message
	}
	return "send failed: " + err.Error()
}
