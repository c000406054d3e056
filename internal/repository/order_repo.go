package repository

import (
	"context"

	"github.com/vwinv/backend-almadina/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderRepository is the ledger's narrow view of the order subsystem.
type OrderRepository interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type orderRepo struct{ db *gorm.DB }

func NewOrderRepository(db *gorm.DB) OrderRepository { return &orderRepo{db: db} }

func (r *orderRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", id).Count(&n).Error
	if err != nil {
		return false, translate(err)
	}
	return n > 0, nil
}
