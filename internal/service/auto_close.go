package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vwinv/backend-almadina/internal/apierror"
	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/model"
	"github.com/vwinv/backend-almadina/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	autoCloseDescription  = "Automatic close at end of business day"
	forceCloseDescription = "Forced close by operator"
)

// ── Auto-close sweep ──────────────────────────────────────────────────────────

func (s *cashRegisterService) RunAutoCloseSweep(ctx context.Context) dto.AutoCloseResult {
	result := dto.AutoCloseResult{ClosedIDs: []string{}}
	today := s.today()

	ids, err := s.repo.ListOpenBefore(ctx, today)
	if err != nil {
		log.Error().Err(err).Msg("auto-close: listing open registers failed")
		return result
	}

	for _, id := range ids {
		closed, err := s.autoCloseOne(ctx, id, today)
		if err != nil {
			result.FailedCount++
			log.Error().Err(err).Str("cash_register_id", id.String()).Msg("auto-close: register skipped")
			continue
		}
		if closed {
			result.ClosedCount++
			result.ClosedIDs = append(result.ClosedIDs, id.String())
		}
	}

	log.Info().
		Int("closed", result.ClosedCount).
		Int("failed", result.FailedCount).
		Str("business_date", today.Format(dateLayout)).
		Msg("auto-close sweep finished")
	return result
}

// autoCloseOne closes a single register in its own transaction. A register
// closed or reopened by someone else since it was listed is left alone.
func (s *cashRegisterService) autoCloseOne(ctx context.Context, id uuid.UUID, today time.Time) (closed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			closed, err = false, fmt.Errorf("panic: %v", r)
		}
	}()

	var reg *model.CashRegister
	err = s.repo.Transaction(ctx, func(tx repository.CashRegisterRepository) error {
		var err error
		reg, err = tx.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !reg.IsOpen() || !reg.BusinessDate.Before(today) {
			return nil
		}
		closed = true
		return s.applyClose(ctx, tx, reg, nil, nil, autoCloseDescription)
	})
	if err != nil {
		return false, err
	}
	if closed {
		s.publish(ctx, dto.EventRegisterAutoClosed, reg)
	}
	return closed, nil
}

// ForceClose closes whatever register the manager has open, today's included.
// It is the operator escape hatch behind the cronjob binary.
func (s *cashRegisterService) ForceClose(ctx context.Context, managerID uuid.UUID) (*dto.CashRegisterResponse, error) {
	open, err := s.repo.FindOpenByManager(ctx, managerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.NotFound("manager has no open cash register")
	}
	if err != nil {
		return nil, err
	}

	var reg *model.CashRegister
	err = s.repo.Transaction(ctx, func(tx repository.CashRegisterRepository) error {
		var err error
		reg, err = tx.FindByIDForUpdate(ctx, open.ID)
		if err != nil {
			return err
		}
		if !reg.IsOpen() {
			return apierror.BadRequest("cash register is already closed")
		}
		return s.applyClose(ctx, tx, reg, nil, nil, forceCloseDescription)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, dto.EventRegisterClosed, reg)
	resp := toRegisterResponse(reg, 0)
	return &resp, nil
}
