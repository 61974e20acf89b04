package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	// FindByContact looks a user up by email first, then by phone.
	FindByContact(ctx context.Context, email, phone string) (*domain.User, error)
	// FindOrCreate returns the existing user for the contact details or
	// creates one. The bool reports whether a new user was created.
	FindOrCreate(ctx context.Context, u *domain.User) (*domain.User, bool, error)
}

type SubscriptionRepository interface {
	GetByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
	// Upsert replaces the user's single subscription.
	Upsert(ctx context.Context, s *domain.Subscription) (*domain.Subscription, error)
}

type GormUserRepo struct {
	db *gorm.DB
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) FindByContact(ctx context.Context, email, phone string) (*domain.User, error) {
	lookups := []struct {
		column string
		value  string
	}{
		{column: "email", value: email},
		{column: "phone", value: phone},
	}

	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		var model UserModel
		err := r.db.WithContext(ctx).Where(l.column+" = ?", l.value).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return userModelToDomain(&model), nil
	}
	return nil, domain.ErrNotFound
}

func (r *GormUserRepo) FindOrCreate(ctx context.Context, u *domain.User) (*domain.User, bool, error) {
	email, phone := deref(u.Email), deref(u.Phone)

	existing, err := r.FindByContact(ctx, email, phone)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	model := userModelFromDomain(u)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return userModelToDomain(model), true, nil
	}

	// Lost a race with another row carrying the same contact details.
	existing, err = r.FindByContact(ctx, email, phone)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

type GormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) *GormSubscriptionRepo {
	return &GormSubscriptionRepo{db: db}
}

func (r *GormSubscriptionRepo) GetByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subscriptionModelToDomain(&model), nil
}

func (r *GormSubscriptionRepo) Upsert(ctx context.Context, s *domain.Subscription) (*domain.Subscription, error) {
	model := subscriptionModelFromDomain(s)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tier_id", "start_date", "end_date", "is_active",
				"auto_activate", "assigned_by_job_id", "updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, s.UserID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
