package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnexity/learnexity-backend/pkg/enums"
)

// Notification is the durable record of an outbound message to a student.
// Delivery itself is best-effort; this row is the audit trail.
type Notification struct {
	ID           uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	EnrollmentID *uuid.UUID             `gorm:"column:enrollment_id;type:uuid;index"`
	Type         enums.NotificationType `gorm:"column:type;type:notification_type;not null"`
	Subject      string                 `gorm:"column:subject;not null"`
	Body         string                 `gorm:"column:body;not null"`
	SentAt       *time.Time             `gorm:"column:sent_at"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
}
