package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"gorm.io/datatypes"
)

// BulkJobModel is the persistence model for the bulk_jobs table.
type BulkJobModel struct {
	ID             string                               `gorm:"type:uuid;primaryKey"`
	OwnerID        string                               `gorm:"type:varchar(64);not null"`
	JobType        domain.JobType                       `gorm:"type:varchar(32);not null"`
	Config         datatypes.JSONType[domain.JobConfig] `gorm:"type:jsonb;not null"`
	TotalItems     int                                  `gorm:"not null"`
	ProcessedItems int                                  `gorm:"not null;default:0"`
	SuccessCount   int                                  `gorm:"not null;default:0"`
	FailureCount   int                                  `gorm:"not null;default:0"`
	Status         domain.JobStatus                     `gorm:"type:varchar(20);not null"`
	ErrorSummary   datatypes.JSON                       `gorm:"type:jsonb;not null;default:'[]'"`
	ResultFileURL  *string                              `gorm:"type:text"`
	StartedAt      *time.Time                           `gorm:"type:timestamptz"`
	CompletedAt    *time.Time                           `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BulkJobModel) TableName() string {
	return "bulk_jobs"
}

// BulkJobRowModel marks a row as recorded. Its primary key makes progress
// updates idempotent under redelivery.
type BulkJobRowModel struct {
	JobID        string  `gorm:"type:uuid;primaryKey"`
	RowNumber    int     `gorm:"primaryKey"`
	Success      bool    `gorm:"not null"`
	Identifier   string  `gorm:"type:varchar(255);not null;default:''"`
	ErrorMessage *string `gorm:"type:text"`
	CreatedAt    time.Time
}

func (BulkJobRowModel) TableName() string {
	return "bulk_job_rows"
}

// SponsorshipCodeModel is the persistence model for sponsorship_codes.
type SponsorshipCodeModel struct {
	ID                  string     `gorm:"type:uuid;primaryKey"`
	Code                string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	PurchaseID          string     `gorm:"type:varchar(64);not null"`
	OwnerID             string     `gorm:"type:varchar(64);not null"`
	IsUsed              bool       `gorm:"not null;default:false"`
	IsActive            bool       `gorm:"not null;default:true"`
	ExpiryDate          time.Time  `gorm:"type:timestamptz;not null"`
	ClaimedJobID        *string    `gorm:"type:uuid"`
	ClaimedRow          *int       `gorm:"type:int"`
	ClaimedAt           *time.Time `gorm:"type:timestamptz"`
	RecipientName       *string    `gorm:"type:varchar(255)"`
	RecipientPhone      *string    `gorm:"type:varchar(32)"`
	RedemptionLink      *string    `gorm:"type:text"`
	DistributionChannel *string    `gorm:"type:varchar(20)"`
	DistributedAt       *time.Time `gorm:"type:timestamptz"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (SponsorshipCodeModel) TableName() string {
	return "sponsorship_codes"
}

// InvitationModel is the persistence model for invitations.
type InvitationModel struct {
	ID         string                  `gorm:"type:uuid;primaryKey"`
	JobID      string                  `gorm:"type:uuid;not null"`
	RowNumber  int                     `gorm:"not null"`
	OwnerID    string                  `gorm:"type:varchar(64);not null"`
	Kind       domain.InvitationKind   `gorm:"type:varchar(10);not null"`
	Name       string                  `gorm:"type:varchar(255);not null;default:''"`
	Email      *string                 `gorm:"type:varchar(255)"`
	Phone      *string                 `gorm:"type:varchar(32)"`
	CodeCount  int                     `gorm:"not null;default:0"`
	Token      string                  `gorm:"type:varchar(64);not null;uniqueIndex"`
	Status     domain.InvitationStatus `gorm:"type:varchar(20);not null"`
	Channel    domain.DeliveryChannel  `gorm:"type:varchar(20);not null"`
	LinkSentAt *time.Time              `gorm:"type:timestamptz"`
	ExpiresAt  time.Time               `gorm:"type:timestamptz;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (InvitationModel) TableName() string {
	return "invitations"
}

type UserModel struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	FullName  string  `gorm:"type:varchar(255);not null;default:''"`
	Email     *string `gorm:"type:varchar(255)"`
	Phone     *string `gorm:"type:varchar(32)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

type SubscriptionModel struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	UserID          string    `gorm:"type:uuid;not null;uniqueIndex"`
	TierID          string    `gorm:"type:varchar(64);not null"`
	StartDate       time.Time `gorm:"type:timestamptz;not null"`
	EndDate         time.Time `gorm:"type:timestamptz;not null"`
	IsActive        bool      `gorm:"not null"`
	AutoActivate    bool      `gorm:"not null;default:false"`
	AssignedByJobID *string   `gorm:"type:uuid"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// MessagingFeatureModel holds the on/off switch for one outbound channel.
type MessagingFeatureModel struct {
	Channel   domain.DeliveryChannel `gorm:"type:varchar(20);primaryKey"`
	Enabled   bool                   `gorm:"not null"`
	UpdatedAt time.Time
}

func (MessagingFeatureModel) TableName() string {
	return "messaging_features"
}

func bulkJobModelFromDomain(j *domain.BulkJob) (*BulkJobModel, error) {
	if j == nil {
		return nil, nil
	}

	summary := j.ErrorSummary
	if summary == nil {
		summary = []domain.RowError{}
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}

	return &BulkJobModel{
		ID:             j.ID,
		OwnerID:        j.OwnerID,
		JobType:        j.JobType,
		Config:         datatypes.NewJSONType(j.Config),
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		SuccessCount:   j.SuccessCount,
		FailureCount:   j.FailureCount,
		Status:         j.Status,
		ErrorSummary:   datatypes.JSON(raw),
		ResultFileURL:  j.ResultFileURL,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}, nil
}

func bulkJobModelToDomain(m *BulkJobModel) (*domain.BulkJob, error) {
	if m == nil {
		return nil, nil
	}

	var summary []domain.RowError
	if len(m.ErrorSummary) > 0 {
		if err := json.Unmarshal(m.ErrorSummary, &summary); err != nil {
			return nil, err
		}
	}
	if summary == nil {
		summary = []domain.RowError{}
	}

	return &domain.BulkJob{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		JobType:        m.JobType,
		Config:         m.Config.Data(),
		TotalItems:     m.TotalItems,
		ProcessedItems: m.ProcessedItems,
		SuccessCount:   m.SuccessCount,
		FailureCount:   m.FailureCount,
		Status:         m.Status,
		ErrorSummary:   summary,
		ResultFileURL:  m.ResultFileURL,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func codeModelToDomain(m *SponsorshipCodeModel) *domain.SponsorshipCode {
	if m == nil {
		return nil
	}

	return &domain.SponsorshipCode{
		ID:                  m.ID,
		Code:                m.Code,
		PurchaseID:          m.PurchaseID,
		OwnerID:             m.OwnerID,
		IsUsed:              m.IsUsed,
		IsActive:            m.IsActive,
		ExpiryDate:          m.ExpiryDate,
		ClaimedJobID:        m.ClaimedJobID,
		ClaimedRow:          m.ClaimedRow,
		ClaimedAt:           m.ClaimedAt,
		RecipientName:       m.RecipientName,
		RecipientPhone:      m.RecipientPhone,
		RedemptionLink:      m.RedemptionLink,
		DistributionChannel: m.DistributionChannel,
		DistributedAt:       m.DistributedAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func invitationModelFromDomain(i *domain.Invitation) *InvitationModel {
	if i == nil {
		return nil
	}

	return &InvitationModel{
		ID:         i.ID,
		JobID:      i.JobID,
		RowNumber:  i.RowNumber,
		OwnerID:    i.OwnerID,
		Kind:       i.Kind,
		Name:       i.Name,
		Email:      i.Email,
		Phone:      i.Phone,
		CodeCount:  i.CodeCount,
		Token:      i.Token,
		Status:     i.Status,
		Channel:    i.Channel,
		LinkSentAt: i.LinkSentAt,
		ExpiresAt:  i.ExpiresAt,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}

func invitationModelToDomain(m *InvitationModel) *domain.Invitation {
	if m == nil {
		return nil
	}

	return &domain.Invitation{
		ID:         m.ID,
		JobID:      m.JobID,
		RowNumber:  m.RowNumber,
		OwnerID:    m.OwnerID,
		Kind:       m.Kind,
		Name:       m.Name,
		Email:      m.Email,
		Phone:      m.Phone,
		CodeCount:  m.CodeCount,
		Token:      m.Token,
		Status:     m.Status,
		Channel:    m.Channel,
		LinkSentAt: m.LinkSentAt,
		ExpiresAt:  m.ExpiresAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func userModelFromDomain(u *domain.User) *UserModel {
	if u == nil {
		return nil
	}

	return &UserModel{
		ID:        u.ID,
		FullName:  u.FullName,
		Email:     u.Email,
		Phone:     u.Phone,
		CreatedAt: u.CreatedAt,
	}
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	return &domain.User{
		ID:        m.ID,
		FullName:  m.FullName,
		Email:     m.Email,
		Phone:     m.Phone,
		CreatedAt: m.CreatedAt,
	}
}

func subscriptionModelFromDomain(s *domain.Subscription) *SubscriptionModel {
	if s == nil {
		return nil
	}

	return &SubscriptionModel{
		ID:              s.ID,
		UserID:          s.UserID,
		TierID:          s.TierID,
		StartDate:       s.StartDate,
		EndDate:         s.EndDate,
		IsActive:        s.IsActive,
		AutoActivate:    s.AutoActivate,
		AssignedByJobID: s.AssignedByJobID,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func subscriptionModelToDomain(m *SubscriptionModel) *domain.Subscription {
	if m == nil {
		return nil
	}

	return &domain.Subscription{
		ID:              m.ID,
		UserID:          m.UserID,
		TierID:          m.TierID,
		StartDate:       m.StartDate,
		EndDate:         m.EndDate,
		IsActive:        m.IsActive,
		AutoActivate:    m.AutoActivate,
		AssignedByJobID: m.AssignedByJobID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
