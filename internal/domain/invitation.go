package domain

import "time"

type InvitationKind string

const (
	InvitationKindDealer InvitationKind = "DEALER"
	InvitationKindFarmer InvitationKind = "FARMER"
)

type InvitationStatus string

const (
	InvitationStatusPending InvitationStatus = "PENDING"
	InvitationStatusSent    InvitationStatus = "SENT"
)

// Invitation is created once per (job, row) and carries the link token.
type Invitation struct {
	ID         string
	JobID      string
	RowNumber  int
	OwnerID    string
	Kind       InvitationKind
	Name       string
	Email      *string
	Phone      *string
	CodeCount  int
	Token      string
	Status     InvitationStatus
	Channel    DeliveryChannel
	LinkSentAt *time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (i *Invitation) LinkSent() bool {
	return i.LinkSentAt != nil
}
