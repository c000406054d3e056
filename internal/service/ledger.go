package service

import (
	"time"

	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/model"

	"github.com/shopspring/decimal"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339
	// historyTxLimit caps the transactions embedded in each history entry.
	historyTxLimit = 5
)

// ExpectedBalance folds a register's ledger into the cash that should be in
// the drawer: the opening balance plus the signed amount of every flow entry.
// Snapshot entries (OPENING, CLOSING, RECONCILIATION) are ignored. Callers
// supply signs; nothing here flips them.
func ExpectedBalance(opening decimal.Decimal, txs []model.CashRegisterTransaction) decimal.Decimal {
	total := opening
	for _, t := range txs {
		if t.Type.IsFlow() {
			total = total.Add(t.Amount)
		}
	}
	return total
}

// maxAmount is the smallest magnitude a decimal(14,2) column cannot hold.
var maxAmount = decimal.New(1, 12)

// IsMoney reports whether d is stored as-is by a decimal(14,2) column: no
// more than two decimal places and a magnitude below 10^12.
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(2)) && d.Abs().LessThan(maxAmount)
}

// carryForwardBalance is closing ?? actual ?? opening of a prior register.
// Nil checks, not zero checks: a register closed at 0 carries 0.
func carryForwardBalance(r *model.CashRegister) decimal.Decimal {
	switch {
	case r == nil:
		return decimal.Zero
	case r.ClosingBalance != nil:
		return *r.ClosingBalance
	case r.ActualBalance != nil:
		return *r.ActualBalance
	default:
		return r.OpeningBalance
	}
}

// BusinessDay returns the calendar day of t in loc, encoded as UTC midnight,
// which is how business_date values are stored and compared.
func BusinessDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseBusinessDate parses a YYYY-MM-DD query value.
func ParseBusinessDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

func transactionLabel(t model.TransactionType) string {
	switch t {
	case model.TxCashSale:
		return "Cash sale"
	case model.TxCashReturn:
		return "Cash return"
	case model.TxCashIn:
		return "Cash in"
	case model.TxCashOut:
		return "Cash out"
	}
	return string(t)
}

// ── Mapping ───────────────────────────────────────────────────────────────────

func toTransactionResponse(t model.CashRegisterTransaction) dto.CashTransactionResponse {
	resp := dto.CashTransactionResponse{
		ID:             t.ID.String(),
		CashRegisterID: t.CashRegisterID.String(),
		Type:           string(t.Type),
		Amount:         t.Amount,
		Description:    t.Description,
		CreatedAt:      t.CreatedAt.UTC().Format(timestampLayout),
	}
	if t.OrderID != nil {
		id := t.OrderID.String()
		resp.OrderID = &id
	}
	return resp
}

// toRegisterResponse maps r with its transactions newest first, keeping at
// most limit of them (limit <= 0 keeps all).
func toRegisterResponse(r *model.CashRegister, limit int) dto.CashRegisterResponse {
	resp := dto.CashRegisterResponse{
		ID:              r.ID.String(),
		ManagerID:       r.ManagerID.String(),
		BusinessDate:    r.BusinessDate.Format(dateLayout),
		Status:          string(r.Status),
		OpeningBalance:  r.OpeningBalance,
		OpenedAt:        r.OpenedAt.UTC().Format(timestampLayout),
		ExpectedBalance: r.ExpectedBalance,
		ActualBalance:   r.ActualBalance,
		ClosingBalance:  r.ClosingBalance,
		Difference:      r.Difference,
		Notes:           r.Notes,
		Transactions:    make([]dto.CashTransactionResponse, 0, len(r.Transactions)),
	}
	if r.ClosedAt != nil {
		t := r.ClosedAt.UTC().Format(timestampLayout)
		resp.ClosedAt = &t
	}
	if r.IsOpen() {
		live := ExpectedBalance(r.OpeningBalance, r.Transactions)
		resp.CurrentExpectedBalance = &live
	}
	for i := len(r.Transactions) - 1; i >= 0; i-- {
		if limit > 0 && len(resp.Transactions) == limit {
			break
		}
		resp.Transactions = append(resp.Transactions, toTransactionResponse(r.Transactions[i]))
	}
	return resp
}
