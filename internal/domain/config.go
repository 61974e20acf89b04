package domain

import (
	"fmt"
	"strings"
)

// JobConfig is the immutable type-specific configuration captured at submission.
type JobConfig struct {
	DeliveryChannel     DeliveryChannel `json:"deliveryChannel,omitempty"`
	SendNotification    bool            `json:"sendNotification"`
	PurchaseID          string          `json:"purchaseId,omitempty"`
	SenderName          string          `json:"senderName,omitempty"`
	DefaultCodeCount    int             `json:"defaultCodeCount,omitempty"`
	DefaultTierID       string          `json:"defaultTierId,omitempty"`
	DefaultDurationDays int             `json:"defaultDurationDays,omitempty"`
	AutoActivate        bool            `json:"autoActivate"`
}

// Channel returns the delivery channel, treating an unset channel as none.
func (c JobConfig) Channel() DeliveryChannel {
	if c.DeliveryChannel == "" {
		return ChannelNone
	}
	return c.DeliveryChannel
}

func (c JobConfig) Validate(jobType JobType) error {
	if !c.Channel().IsValid() {
		return fmt.Errorf("%w: invalid delivery channel %q", ErrValidation, c.DeliveryChannel)
	}
	if c.DefaultCodeCount < 0 {
		return fmt.Errorf("%w: default code count must not be negative", ErrValidation)
	}
	if c.DefaultDurationDays < 0 {
		return fmt.Errorf("%w: default duration days must not be negative", ErrValidation)
	}

	switch jobType {
	case JobTypeCodeDistribution:
		if c.SendNotification && c.Channel() != ChannelSMS && c.Channel() != ChannelNone {
			return fmt.Errorf("%w: code distribution only notifies over SMS", ErrValidation)
		}
	case JobTypeSubscriptionAssignment:
		if strings.TrimSpace(c.DefaultTierID) == "" {
			return fmt.Errorf("%w: default tier id is required", ErrValidation)
		}
		if c.DefaultDurationDays == 0 {
			return fmt.Errorf("%w: default duration days is required", ErrValidation)
		}
	}
	return nil
}
