package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vwinv/backend-almadina/internal/dto"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CacheInvalidator drops a manager's cached reconciliation reports.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, managerID uuid.UUID) error
}

// LedgerEventHandlers maps every ledger event type to the handler that keeps
// derived state (the report cache) in step with the ledger.
func LedgerEventHandlers(cache CacheInvalidator) map[string]Handler {
	h := ledgerEventHandler(cache)
	return map[string]Handler{
		dto.EventRegisterOpened:     h,
		dto.EventRegisterClosed:     h,
		dto.EventRegisterReconciled: h,
		dto.EventRegisterAutoClosed: h,
		dto.EventTransactionAdded:   h,
	}
}

func ledgerEventHandler(cache CacheInvalidator) Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var ev dto.LedgerEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode ledger event: %w", err)
		}
		managerID, err := uuid.Parse(ev.ManagerID)
		if err != nil {
			return fmt.Errorf("ledger event manager_id: %w", err)
		}
		if err := cache.Invalidate(ctx, managerID); err != nil {
			return fmt.Errorf("invalidate report cache: %w", err)
		}
		log.Info().
			Str("event", ev.Type).
			Str("cash_register_id", ev.CashRegisterID).
			Str("manager_id", ev.ManagerID).
			Str("business_date", ev.BusinessDate).
			Msg("ledger event processed")
		return nil
	}
}
