package repository

import (
	"context"
	"time"

	"github.com/vwinv/backend-almadina/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegisterFilter narrows register listings. From/To are business dates,
// both inclusive; nil means unbounded.
type RegisterFilter struct {
	From      *time.Time
	To        *time.Time
	Status    model.RegisterStatus // empty = any
	Ascending bool                 // order by business_date ASC instead of DESC
}

// CashRegisterRepository is the single typed gateway to cash_registers and
// cash_register_transactions. Transactions are append-only: there is no
// update or delete for them.
type CashRegisterRepository interface {
	// Transaction runs fn inside one database transaction. The repository
	// handed to fn is bound to that transaction; fn returning an error rolls
	// everything back.
	Transaction(ctx context.Context, fn func(tx CashRegisterRepository) error) error

	// LockManager reads the manager's user row FOR UPDATE, serializing
	// concurrent opens for the same manager.
	LockManager(ctx context.Context, managerID uuid.UUID) (*model.User, error)

	Create(ctx context.Context, r *model.CashRegister) error
	Update(ctx context.Context, r *model.CashRegister) error
	CreateTransaction(ctx context.Context, t *model.CashRegisterTransaction) error

	// FindByID loads the register with its transactions (oldest first).
	FindByID(ctx context.Context, id uuid.UUID) (*model.CashRegister, error)
	// FindByIDForUpdate is FindByID with a row lock on the register.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.CashRegister, error)
	FindOpenByManager(ctx context.Context, managerID uuid.UUID) (*model.CashRegister, error)
	FindByManagerAndDate(ctx context.Context, managerID uuid.UUID, businessDate time.Time) (*model.CashRegister, error)
	// FindLatestClosedByManager returns the CLOSED register with the most
	// recent business date, ties broken by creation time.
	FindLatestClosedByManager(ctx context.Context, managerID uuid.UUID) (*model.CashRegister, error)
	CountByManager(ctx context.Context, managerID uuid.UUID) (int64, error)
	// ListByManager returns registers with their transactions (oldest first).
	ListByManager(ctx context.Context, managerID uuid.UUID, filter RegisterFilter) ([]model.CashRegister, error)
	// ListOpenBefore returns ids of OPEN registers dated strictly before businessDate.
	ListOpenBefore(ctx context.Context, businessDate time.Time) ([]uuid.UUID, error)
}

type cashRegisterRepo struct{ db *gorm.DB }

func NewCashRegisterRepository(db *gorm.DB) CashRegisterRepository {
	return &cashRegisterRepo{db: db}
}

func (r *cashRegisterRepo) Transaction(ctx context.Context, fn func(tx CashRegisterRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&cashRegisterRepo{db: tx})
	})
}

func (r *cashRegisterRepo) LockManager(ctx context.Context, managerID uuid.UUID) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", managerID).
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *cashRegisterRepo) Create(ctx context.Context, reg *model.CashRegister) error {
	return translate(r.db.WithContext(ctx).Omit(clause.Associations).Create(reg).Error)
}

func (r *cashRegisterRepo) Update(ctx context.Context, reg *model.CashRegister) error {
	// Omit associations so Save never upserts the transaction log.
	return translate(r.db.WithContext(ctx).Omit(clause.Associations).Save(reg).Error)
}

func (r *cashRegisterRepo) CreateTransaction(ctx context.Context, t *model.CashRegisterTransaction) error {
	return translate(r.db.WithContext(ctx).Create(t).Error)
}

func (r *cashRegisterRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.CashRegister, error) {
	var reg model.CashRegister
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reg).Error; err != nil {
		return nil, translate(err)
	}
	if err := r.loadTransactions(ctx, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *cashRegisterRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.CashRegister, error) {
	var reg model.CashRegister
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&reg).Error
	if err != nil {
		return nil, translate(err)
	}
	if err := r.loadTransactions(ctx, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *cashRegisterRepo) FindOpenByManager(ctx context.Context, managerID uuid.UUID) (*model.CashRegister, error) {
	var reg model.CashRegister
	err := r.db.WithContext(ctx).
		Where("manager_id = ? AND status = ?", managerID, model.RegisterOpen).
		First(&reg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &reg, nil
}

func (r *cashRegisterRepo) FindByManagerAndDate(ctx context.Context, managerID uuid.UUID, businessDate time.Time) (*model.CashRegister, error) {
	var reg model.CashRegister
	err := r.db.WithContext(ctx).
		Where("manager_id = ? AND business_date = ?", managerID, businessDate).
		First(&reg).Error
	if err != nil {
		return nil, translate(err)
	}
	if err := r.loadTransactions(ctx, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *cashRegisterRepo) FindLatestClosedByManager(ctx context.Context, managerID uuid.UUID) (*model.CashRegister, error) {
	var reg model.CashRegister
	err := r.db.WithContext(ctx).
		Where("manager_id = ? AND status = ?", managerID, model.RegisterClosed).
		Order("business_date DESC").
		Order("created_at DESC").
		Take(&reg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &reg, nil
}

func (r *cashRegisterRepo) CountByManager(ctx context.Context, managerID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.CashRegister{}).
		Where("manager_id = ?", managerID).
		Count(&n).Error
	return n, translate(err)
}

func (r *cashRegisterRepo) ListByManager(ctx context.Context, managerID uuid.UUID, filter RegisterFilter) ([]model.CashRegister, error) {
	q := r.db.WithContext(ctx).Where("manager_id = ?", managerID)
	if filter.From != nil {
		q = q.Where("business_date >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("business_date <= ?", *filter.To)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Ascending {
		q = q.Order("business_date ASC")
	} else {
		q = q.Order("business_date DESC")
	}

	var regs []model.CashRegister
	err := q.Preload("Transactions", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	}).Find(&regs).Error
	return regs, translate(err)
}

func (r *cashRegisterRepo) ListOpenBefore(ctx context.Context, businessDate time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.CashRegister{}).
		Where("status = ? AND business_date < ?", model.RegisterOpen, businessDate).
		Order("business_date ASC").
		Pluck("id", &ids).Error
	return ids, translate(err)
}

func (r *cashRegisterRepo) loadTransactions(ctx context.Context, reg *model.CashRegister) error {
	var txs []model.CashRegisterTransaction
	err := r.db.WithContext(ctx).
		Where("cash_register_id = ?", reg.ID).
		Order("created_at ASC").
		Find(&txs).Error
	if err != nil {
		return translate(err)
	}
	reg.Transactions = txs
	return nil
}
