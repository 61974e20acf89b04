package domain

import "time"

// SponsorshipCode is a redeemable code from a purchase's pool.
type SponsorshipCode struct {
	ID                  string
	Code                string
	PurchaseID          string
	OwnerID             string
	IsUsed              bool
	IsActive            bool
	ExpiryDate          time.Time
	ClaimedJobID        *string
	ClaimedRow          *int
	ClaimedAt           *time.Time
	RecipientName       *string
	RecipientPhone      *string
	RedemptionLink      *string
	DistributionChannel *string
	DistributedAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Distributed reports whether the code has already been handed to its recipient.
func (c *SponsorshipCode) Distributed() bool {
	return c.DistributedAt != nil
}

// CodeDistribution holds what is recorded once a claimed code reaches its recipient.
type CodeDistribution struct {
	RecipientName  string
	RecipientPhone string
	RedemptionLink string
	Channel        DeliveryChannel
	DistributedAt  time.Time
}
