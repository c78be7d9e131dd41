package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReferralCode parameterizes an enrollment-time discount. It never changes the
// access state machine after creation.
type ReferralCode struct {
	ID              uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Code            string          `gorm:"column:code;not null;unique"`
	OwnerUserID     uuid.UUID       `gorm:"column:owner_user_id;type:uuid;not null;index"`
	DiscountPercent decimal.Decimal `gorm:"column:discount_percent;type:numeric(5,2);not null;default:0"`
	Active          bool            `gorm:"column:active;not null;default:true"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// ReferralHistory records a referral code being redeemed against an enrollment.
type ReferralHistory struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ReferralCodeID uuid.UUID `gorm:"column:referral_code_id;type:uuid;not null;index"`
	ReferredUserID uuid.UUID `gorm:"column:referred_user_id;type:uuid;not null;index"`
	EnrollmentID   uuid.UUID `gorm:"column:enrollment_id;type:uuid;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
