package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is owned by the order subsystem. The ledger only checks existence
// before linking a CASH_SALE or CASH_RETURN to it.
// PaymentMethod: "CASH" | "CARD" | "MOBILE_MONEY" | ...
type Order struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Total         decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	PaymentMethod string          `gorm:"type:varchar(20)"`
	Status        string          `gorm:"type:varchar(20);not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
