package messaging

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnexity/learnexity-backend/pkg/db/models"
)

// Repository resolves broadcast recipients.
type Repository interface {
	// ListRecipients loads the named users, or every user when ids is empty.
	ListRecipients(ctx context.Context, ids []uuid.UUID) ([]models.User, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) ListRecipients(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	query := r.db.WithContext(ctx).Order("created_at ASC")
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
