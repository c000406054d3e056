package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

// OpenCashRegisterRequest: a nil OpeningBalance carries the previous closing
// balance forward.
type OpenCashRegisterRequest struct {
	OpeningBalance *decimal.Decimal `json:"opening_balance" validate:"omitempty,min=0,money"`
}

type CloseCashRegisterRequest struct {
	ActualBalance  *decimal.Decimal `json:"actual_balance"  validate:"omitempty,min=0,money"`
	ClosingBalance *decimal.Decimal `json:"closing_balance" validate:"omitempty,min=0,money"`
}

// ReconcileCashRegisterRequest: ActualBalance is mandatory; it is a pointer so
// that an explicit zero count is distinguishable from a missing field.
type ReconcileCashRegisterRequest struct {
	ActualBalance *decimal.Decimal `json:"actual_balance" validate:"omitempty,min=0,money"`
	Notes         *string          `json:"notes"          validate:"omitempty,max=1000"`
}

type AddCashTransactionRequest struct {
	Type        string          `json:"type"        validate:"required,oneof=CASH_SALE CASH_RETURN CASH_IN CASH_OUT"`
	Amount      decimal.Decimal `json:"amount"      validate:"required,money"`
	Description *string         `json:"description" validate:"omitempty,max=500"`
	OrderID     *string         `json:"order_id"    validate:"omitempty,uuid"`
}

// ProvisionCashRegisterRequest seeds a manager's first (CLOSED) register.
type ProvisionCashRegisterRequest struct {
	OpeningBalance decimal.Decimal `json:"opening_balance" validate:"min=0,money"`
}

type UpdateOpeningBalanceRequest struct {
	OpeningBalance decimal.Decimal `json:"opening_balance" validate:"min=0,money"`
}

// DateRangeQuery binds ?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD.
type DateRangeQuery struct {
	StartDate string `form:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `form:"end_date"   validate:"omitempty,datetime=2006-01-02"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type CashTransactionResponse struct {
	ID             string          `json:"id"`
	CashRegisterID string          `json:"cash_register_id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	OrderID        *string         `json:"order_id"`
	CreatedAt      string          `json:"created_at"`
}

type CashRegisterResponse struct {
	ID              string           `json:"id"`
	ManagerID       string           `json:"manager_id"`
	BusinessDate    string           `json:"business_date"`
	Status          string           `json:"status"`
	OpeningBalance  decimal.Decimal  `json:"opening_balance"`
	OpenedAt        string           `json:"opened_at"`
	ClosedAt        *string          `json:"closed_at"`
	ExpectedBalance *decimal.Decimal `json:"expected_balance"`
	ActualBalance   *decimal.Decimal `json:"actual_balance"`
	ClosingBalance  *decimal.Decimal `json:"closing_balance"`
	Difference      *decimal.Decimal `json:"difference"`
	// CurrentExpectedBalance is recomputed from the ledger; only set while OPEN.
	CurrentExpectedBalance *decimal.Decimal          `json:"current_expected_balance,omitempty"`
	Notes                  *string                   `json:"notes"`
	Transactions           []CashTransactionResponse `json:"transactions"`
}

type ManagerSummary struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Name     string  `json:"name"`
	Email    *string `json:"email"`
}

type ReportPeriod struct {
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
}

// ReconciliationTotals carries every amount as a fixed two-decimal string.
type ReconciliationTotals struct {
	OpeningBalance string `json:"opening_balance"`
	ClosingBalance string `json:"closing_balance"`
	Difference     string `json:"difference"`
	CashIn         string `json:"cash_in"`
	CashOut        string `json:"cash_out"`
	CashSales      string `json:"cash_sales"`
}

type ReconciliationReportResponse struct {
	Manager       ManagerSummary         `json:"manager"`
	Period        ReportPeriod           `json:"period"`
	Totals        ReconciliationTotals   `json:"totals"`
	CashRegisters []CashRegisterResponse `json:"cash_registers"`
}

type AutoCloseResult struct {
	ClosedCount int      `json:"closed_count"`
	FailedCount int      `json:"failed_count"`
	ClosedIDs   []string `json:"closed_ids"`
}

// ─── Ledger events ───────────────────────────────────────────────────────────

const (
	EventRegisterOpened     = "cash_register.opened"
	EventRegisterClosed     = "cash_register.closed"
	EventRegisterReconciled = "cash_register.reconciled"
	EventRegisterAutoClosed = "cash_register.auto_closed"
	EventTransactionAdded   = "cash_register.transaction_added"
)

// LedgerEvent is published after a ledger mutation commits.
type LedgerEvent struct {
	Type           string    `json:"type"`
	CashRegisterID string    `json:"cash_register_id"`
	ManagerID      string    `json:"manager_id"`
	BusinessDate   string    `json:"business_date"`
	OccurredAt     time.Time `json:"occurred_at"`
}
