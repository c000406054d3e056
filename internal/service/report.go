package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vwinv/backend-almadina/internal/apierror"
	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/model"
	"github.com/vwinv/backend-almadina/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ── Reconciliation report ─────────────────────────────────────────────────────

func (s *cashRegisterService) GetReconciliationReport(ctx context.Context, caller Caller, managerID uuid.UUID, from, to *time.Time) (*dto.ReconciliationReportResponse, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, apierror.BadRequest("end_date is before start_date")
	}

	period := dto.ReportPeriod{StartDate: formatDate(from), EndDate: formatDate(to)}
	key := reportKey(period)
	cacheVer := int64(-1)
	if s.reports != nil {
		data, ver, ok := s.reports.Get(ctx, managerID, key)
		cacheVer = ver
		if ok {
			var cached dto.ReconciliationReportResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	mgr, err := s.users.FindByID(ctx, managerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}

	regs, err := s.repo.ListByManager(ctx, managerID, repository.RegisterFilter{
		From:      from,
		To:        to,
		Status:    model.RegisterClosed,
		Ascending: true,
	})
	if err != nil {
		return nil, err
	}

	report := &dto.ReconciliationReportResponse{
		Manager: dto.ManagerSummary{
			ID:       mgr.ID.String(),
			Username: mgr.Username,
			Name:     mgr.Name,
			Email:    mgr.Email,
		},
		Period:        period,
		Totals:        ReconciliationTotals(regs),
		CashRegisters: make([]dto.CashRegisterResponse, 0, len(regs)),
	}
	for i := range regs {
		resp := toRegisterResponse(&regs[i], 0)
		// Reports read chronologically.
		reverse(resp.Transactions)
		report.CashRegisters = append(report.CashRegisters, resp)
	}

	if s.reports != nil {
		if data, err := json.Marshal(report); err == nil {
			s.reports.Set(ctx, managerID, cacheVer, key, data)
		} else {
			log.Warn().Err(err).Msg("reconciliation report not cached")
		}
	}
	return report, nil
}

// ReconciliationTotals aggregates CLOSED registers. Amounts are rendered with
// exactly two decimals so equal totals always serialize identically.
func ReconciliationTotals(regs []model.CashRegister) dto.ReconciliationTotals {
	var opening, closing, diff, cashIn, cashOut, sales decimal.Decimal
	for _, r := range regs {
		opening = opening.Add(r.OpeningBalance)
		switch {
		case r.ClosingBalance != nil:
			closing = closing.Add(*r.ClosingBalance)
		case r.ActualBalance != nil:
			closing = closing.Add(*r.ActualBalance)
		}
		if r.Difference != nil {
			diff = diff.Add(*r.Difference)
		}
		for _, t := range r.Transactions {
			switch t.Type {
			case model.TxCashIn:
				cashIn = cashIn.Add(t.Amount)
			case model.TxCashOut:
				cashOut = cashOut.Add(t.Amount.Abs())
			case model.TxCashSale:
				sales = sales.Add(t.Amount)
			}
		}
	}
	return dto.ReconciliationTotals{
		OpeningBalance: opening.StringFixed(2),
		ClosingBalance: closing.StringFixed(2),
		Difference:     diff.StringFixed(2),
		CashIn:         cashIn.StringFixed(2),
		CashOut:        cashOut.StringFixed(2),
		CashSales:      sales.StringFixed(2),
	}
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func reportKey(p dto.ReportPeriod) string {
	start, end := "-", "-"
	if p.StartDate != nil {
		start = *p.StartDate
	}
	if p.EndDate != nil {
		end = *p.EndDate
	}
	return start + ":" + end
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
