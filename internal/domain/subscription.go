package domain

import "time"

type User struct {
	ID        string
	FullName  string
	Email     *string
	Phone     *string
	CreatedAt time.Time
}

// Subscription is the single active subscription a user holds.
type Subscription struct {
	ID              string
	UserID          string
	TierID          string
	StartDate       time.Time
	EndDate         time.Time
	IsActive        bool
	AutoActivate    bool
	AssignedByJobID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
