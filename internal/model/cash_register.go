package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RegisterStatus is the two-state lifecycle of a cash register.
type RegisterStatus string

const (
	RegisterOpen   RegisterStatus = "OPEN"
	RegisterClosed RegisterStatus = "CLOSED"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxOpening        TransactionType = "OPENING"
	TxCashSale       TransactionType = "CASH_SALE"
	TxCashReturn     TransactionType = "CASH_RETURN"
	TxCashIn         TransactionType = "CASH_IN"
	TxCashOut        TransactionType = "CASH_OUT"
	TxClosing        TransactionType = "CLOSING"
	TxReconciliation TransactionType = "RECONCILIATION"
)

// IsSnapshot reports whether t records a balance at a point in time rather
// than a movement of cash. Snapshot entries never enter the expected-balance sum.
func (t TransactionType) IsSnapshot() bool {
	switch t {
	case TxOpening, TxClosing, TxReconciliation:
		return true
	}
	return false
}

// IsFlow reports whether t moves cash in or out of the till.
func (t TransactionType) IsFlow() bool {
	switch t {
	case TxCashSale, TxCashReturn, TxCashIn, TxCashOut:
		return true
	}
	return false
}

// CashRegister is one manager's drawer for one business day.
// At most one register per (manager, business date); at most one OPEN per manager.
type CashRegister struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ManagerID      uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_cash_registers_manager_date,priority:1"`
	BusinessDate   time.Time       `gorm:"type:date;not null;uniqueIndex:idx_cash_registers_manager_date,priority:2;index"`
	Status         RegisterStatus  `gorm:"type:varchar(10);not null;index"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	OpenedAt       time.Time       `gorm:"not null"`
	ClosedAt       *time.Time
	// ExpectedBalance is a snapshot taken at close; live reads recompute it.
	ExpectedBalance *decimal.Decimal `gorm:"type:decimal(14,2)"`
	ActualBalance   *decimal.Decimal `gorm:"type:decimal(14,2)"`
	ClosingBalance  *decimal.Decimal `gorm:"type:decimal(14,2)"`
	Difference      *decimal.Decimal `gorm:"type:decimal(14,2)"`
	Notes           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Transactions []CashRegisterTransaction `gorm:"foreignKey:CashRegisterID;constraint:OnDelete:CASCADE"`
}

func (r *CashRegister) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (r *CashRegister) IsOpen() bool { return r.Status == RegisterOpen }

// CashRegisterTransaction is an immutable entry in a register's ledger.
// Entries are never updated or deleted.
type CashRegisterTransaction struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	CashRegisterID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Type           TransactionType `gorm:"type:varchar(20);not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Description    string          `gorm:"type:text;not null;default:''"`
	// OrderID links CASH_SALE / CASH_RETURN entries to the originating order.
	OrderID   *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt time.Time  `gorm:"not null"`
}

func (t *CashRegisterTransaction) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
