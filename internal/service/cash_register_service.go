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
	"github.com/shopspring/decimal"
)

// EventPublisher receives ledger events after the mutation has committed.
// Publishing is best effort; a failure never undoes the mutation.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev dto.LedgerEvent) error
}

// ReportCache stores rendered reconciliation reports per manager. Get hands
// out the cache version it read; Set stores under that version so a report
// computed before an Invalidate never becomes visible after it.
type ReportCache interface {
	Get(ctx context.Context, managerID uuid.UUID, key string) (data []byte, version int64, ok bool)
	Set(ctx context.Context, managerID uuid.UUID, version int64, key string, data []byte)
	Invalidate(ctx context.Context, managerID uuid.UUID) error
}

type CashRegisterService interface {
	Open(ctx context.Context, caller Caller, req dto.OpenCashRegisterRequest) (*dto.CashRegisterResponse, error)
	Close(ctx context.Context, caller Caller, registerID uuid.UUID, req dto.CloseCashRegisterRequest) (*dto.CashRegisterResponse, error)
	Reconcile(ctx context.Context, caller Caller, registerID uuid.UUID, req dto.ReconcileCashRegisterRequest) (*dto.CashRegisterResponse, error)
	AddTransaction(ctx context.Context, caller Caller, registerID uuid.UUID, req dto.AddCashTransactionRequest) (*dto.CashTransactionResponse, error)

	// GetToday returns nil, nil when the caller has no register for today.
	GetToday(ctx context.Context, caller Caller) (*dto.CashRegisterResponse, error)
	GetRegister(ctx context.Context, caller Caller, registerID uuid.UUID) (*dto.CashRegisterResponse, error)
	GetHistory(ctx context.Context, caller Caller, managerID uuid.UUID, from, to *time.Time) ([]dto.CashRegisterResponse, error)
	GetReconciliationReport(ctx context.Context, caller Caller, managerID uuid.UUID, from, to *time.Time) (*dto.ReconciliationReportResponse, error)

	Provision(ctx context.Context, caller Caller, managerID uuid.UUID, req dto.ProvisionCashRegisterRequest) (*dto.CashRegisterResponse, error)
	UpdateOpeningBalance(ctx context.Context, caller Caller, managerID, registerID uuid.UUID, req dto.UpdateOpeningBalanceRequest) (*dto.CashRegisterResponse, error)

	// RunAutoCloseSweep closes every OPEN register dated before today. It
	// never returns an error; per-register failures are counted and logged.
	RunAutoCloseSweep(ctx context.Context) dto.AutoCloseResult
	// ForceClose closes the manager's open register regardless of its date.
	ForceClose(ctx context.Context, managerID uuid.UUID) (*dto.CashRegisterResponse, error)

	OrderLedgerBridge
}

// Option customizes a CashRegisterService.
type Option func(*cashRegisterService)

// WithLocation sets the time zone business dates are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *cashRegisterService) { s.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *cashRegisterService) { s.now = now }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *cashRegisterService) { s.events = p }
}

func WithReportCache(c ReportCache) Option {
	return func(s *cashRegisterService) { s.reports = c }
}

type cashRegisterService struct {
	repo    repository.CashRegisterRepository
	users   repository.UserRepository
	orders  repository.OrderRepository
	events  EventPublisher
	reports ReportCache
	loc     *time.Location
	now     func() time.Time
}

func NewCashRegisterService(
	repo repository.CashRegisterRepository,
	users repository.UserRepository,
	orders repository.OrderRepository,
	opts ...Option,
) CashRegisterService {
	s := &cashRegisterService{
		repo:   repo,
		users:  users,
		orders: orders,
		loc:    time.UTC,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *cashRegisterService) today() time.Time { return BusinessDay(s.now(), s.loc) }

// ── Open ──────────────────────────────────────────────────────────────────────

func (s *cashRegisterService) Open(ctx context.Context, caller Caller, req dto.OpenCashRegisterRequest) (*dto.CashRegisterResponse, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}
	if req.OpeningBalance != nil && req.OpeningBalance.IsNegative() {
		return nil, apierror.BadRequest("opening balance cannot be negative")
	}
	if err := checkMoney("opening_balance", req.OpeningBalance); err != nil {
		return nil, err
	}

	now := s.now()
	today := BusinessDay(now, s.loc)
	var reg *model.CashRegister

	err := s.repo.Transaction(ctx, func(tx repository.CashRegisterRepository) error {
		mgr, err := tx.LockManager(ctx, caller.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return apierror.Forbidden("only managers can operate a cash register")
		}
		if err != nil {
			return err
		}
		if !mgr.Active || mgr.Role != model.RoleManager {
			return apierror.Forbidden("only active managers can operate a cash register")
		}

		if _, err := tx.FindOpenByManager(ctx, caller.UserID); err == nil {
			return apierror.BadRequest("a cash register is already open for this manager")
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		// Today's register, if closed, is reopened rather than duplicated.
		source, err := tx.FindByManagerAndDate(ctx, caller.UserID, today)
		reopen := err == nil
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if !reopen {
			source, err = tx.FindLatestClosedByManager(ctx, caller.UserID)
			if errors.Is(err, repository.ErrNotFound) {
				return apierror.BadRequest("no closed cash register to carry forward; an administrator must provision one")
			}
			if err != nil {
				return err
			}
		}

		opening := carryForwardBalance(source)
		if req.OpeningBalance != nil {
			opening = *req.OpeningBalance
		}

		var description string
		if reopen {
			reg = source
			reg.Status = model.RegisterOpen
			reg.OpenedAt = now
			reg.ClosedAt = nil
			reg.OpeningBalance = opening
			reg.ExpectedBalance = nil
			reg.ActualBalance = nil
			reg.ClosingBalance = nil
			reg.Difference = nil
			if err := tx.Update(ctx, reg); err != nil {
				return err
			}
			description = fmt.Sprintf("Cash register reopened - opening balance: %s", opening.StringFixed(2))
		} else {
			reg = &model.CashRegister{
				ManagerID:      caller.UserID,
				BusinessDate:   today,
				Status:         model.RegisterOpen,
				OpeningBalance: opening,
				OpenedAt:       now,
			}
			if err := tx.Create(ctx, reg); err != nil {
				return err
			}
			description = fmt.Sprintf("Cash register opened - opening balance: %s", opening.StringFixed(2))
		}

		return s.appendTransaction(ctx, tx, reg, model.TxOpening, opening, description, nil)
	})
	if errors.Is(err, repository.ErrConflict) {
		return nil, apierror.Conflict("a cash register is already open for this manager")
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, dto.EventRegisterOpened, reg)
	resp := toRegisterResponse(reg, 0)
	return &resp, nil
}

// ── Close ─────────────────────────────────────────────────────────────────────

func (s *cashRegisterService) Close(ctx context.Context, caller Caller, registerID uuid.UUID, req dto.CloseCashRegisterRequest) (*dto.CashRegisterResponse, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}
	if (req.ActualBalance != nil && req.ActualBalance.IsNegative()) ||
		(req.ClosingBalance != nil && req.ClosingBalance.IsNegative()) {
		return nil, apierror.BadRequest("balances cannot be negative")
	}
	if err := checkMoney("actual_balance", req.ActualBalance); err != nil {
		return nil, err
	}
	if err := checkMoney("closing_balance", req.ClosingBalance); err != nil {
		return nil, err
	}

	var reg *model.CashRegister
	err := s.repo.Transaction(ctx, func(tx repository.CashRegisterRepository) error {
		var err error
		reg, err = lockOwned(ctx, tx, caller, registerID)
		if err != nil {
			return err
		}
		if !reg.IsOpen() {
			return apierror.BadRequest("cash register is already closed")
		}
		return s.applyClose(ctx, tx, reg, req.ActualBalance, req.ClosingBalance, "")
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, dto.EventRegisterClosed, reg)
	resp := toRegisterResponse(reg, 0)
	return &resp, nil
}

// applyClose snapshots the expected balance, stamps the close and appends the
// CLOSING entry. reg must be locked by tx.
func (s *cashRegisterService) applyClose(ctx context.Context, tx repository.CashRegisterRepository, reg *model.CashRegister, actual, closing *decimal.Decimal, description string) error {
	expected := ExpectedBalance(reg.OpeningBalance, reg.Transactions)
	a := expected
	if actual != nil {
		a = *actual
	}
	c := a
	if closing != nil {
		c = *closing
	}
	diff := c.Sub(expected)
	now := s.now()

	reg.Status = model.RegisterClosed
	reg.ClosedAt = &now
	reg.ExpectedBalance = &expected
	reg.ActualBalance = &a
	reg.ClosingBalance = &c
	reg.Difference = &diff
	if err := tx.Update(ctx, reg); err != nil {
		return err
	}

	if description == "" {
		description = fmt.Sprintf("Cash register closed - expected: %s, actual: %s, difference: %s",
			expected.StringFixed(2), a.StringFixed(2), diff.StringFixed(2))
	}
	return s.appendTransaction(ctx, tx, reg, model.TxClosing, c, description, nil)
}

// ── Reconcile ─────────────────────────────────────────────────────────────────

func (s *cashRegisterService) Reconcile(ctx context.Context, caller Caller, registerID uuid.UUID, req dto.ReconcileCashRegisterRequest) (*dto.CashRegisterResponse, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}
	if req.ActualBalance == nil {
		return nil, apierror.BadRequest("actual_balance is required")
	}
	actual := *req.ActualBalance
	if actual.IsNegative() {
		return nil, apierror.BadRequest("actual balance cannot be negative")
	}
	if err := checkMoney("actual_balance", &actual); err != nil {
		return nil, err
	}

	var reg *model.CashRegister
	err := s.repo.Transaction(ctx, func(tx repository.CashRegisterRepository) error {
		var err error
		reg, err = lockOwned(ctx, tx, caller, registerID)
		if err != nil {
			return err
		}
		if reg.IsOpen() {
			return apierror.BadRequest("close the cash register before reconciling it")
		}

		var expected decimal.Decimal
		if reg.ExpectedBalance != nil {
			expected = *reg.ExpectedBalance
		} else {
			expected = ExpectedBalance(reg.OpeningBalance, reg.Transactions)
		}
		diff := actual.Sub(expected)

		reg.ActualBalance = &actual
		reg.Difference = &diff
		reg.Notes = req.Notes
		if err := tx.Update(ctx, reg); err != nil {
			return err
		}

		description := fmt.Sprintf("Reconciliation - expected: %s, actual: %s", expected.StringFixed(2), actual.StringFixed(2))
		return s.appendTransaction(ctx, tx, reg, model.TxReconciliation, diff, description, nil)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, dto.EventRegisterReconciled, reg)
	resp := toRegisterResponse(reg, 0)
	return &resp, nil
}

// ── AddTransaction ────────────────────────────────────────────────────────────

func (s *cashRegisterService) AddTransaction(ctx context.Context, caller Caller, registerID uuid.UUID, req dto.AddCashTransactionRequest) (*dto.CashTransactionResponse, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}
	typ := model.TransactionType(req.Type)
	if !typ.IsFlow() {
		return nil, apierror.BadRequest("type must be one of CASH_SALE, CASH_RETURN, CASH_IN, CASH_OUT")
	}
	if req.Amount.IsZero() {
		return nil, apierror.BadRequest("amount must not be zero")
	}
	if err := checkMoney("amount", &req.Amount); err != nil {
		return nil, err
	}

	var orderID *uuid.UUID
	if req.OrderID != nil {
		if typ != model.TxCashSale && typ != model.TxCashReturn {
			return nil, apierror.BadRequest("order_id is only allowed on CASH_SALE and CASH_RETURN")
		}
		id, err := uuid.Parse(*req.OrderID)
		if err != nil {
			return nil, apierror.BadRequest("order_id is not a valid uuid")
		}
		orderID = &id
	}

	description := transactionLabel(typ)
	if req.Description != nil && *req.Description != "" {
		description = *req.Description
	}

	var reg *model.CashRegister
	err := s.repo.Transaction(ctx, func(tx repository.CashRegisterRepository) error {
		var err error
		reg, err = lockOwned(ctx, tx, caller, registerID)
		if err != nil {
			return err
		}
		if !reg.IsOpen() {
			return apierror.BadRequest("cannot add a transaction to a closed cash register")
		}
		if orderID != nil {
			ok, err := s.orders.Exists(ctx, *orderID)
			if err != nil {
				return err
			}
			if !ok {
				return apierror.NotFound("order not found")
			}
		}
		return s.appendTransaction(ctx, tx, reg, typ, req.Amount, description, orderID)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, dto.EventTransactionAdded, reg)
	resp := toTransactionResponse(reg.Transactions[len(reg.Transactions)-1])
	return &resp, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *cashRegisterService) GetToday(ctx context.Context, caller Caller) (*dto.CashRegisterResponse, error) {
	if err := requireManager(caller); err != nil {
		return nil, err
	}
	reg, err := s.repo.FindByManagerAndDate(ctx, caller.UserID, s.today())
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resp := toRegisterResponse(reg, 0)
	return &resp, nil
}

func (s *cashRegisterService) GetRegister(ctx context.Context, caller Caller, registerID uuid.UUID) (*dto.CashRegisterResponse, error) {
	reg, err := s.repo.FindByID(ctx, registerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.NotFound("cash register not found")
	}
	if err != nil {
		return nil, err
	}
	if !caller.canRead(reg.ManagerID) {
		return nil, apierror.Forbidden("cash register belongs to another manager")
	}
	resp := toRegisterResponse(reg, 0)
	return &resp, nil
}

func (s *cashRegisterService) GetHistory(ctx context.Context, caller Caller, managerID uuid.UUID, from, to *time.Time) ([]dto.CashRegisterResponse, error) {
	if !caller.canRead(managerID) {
		return nil, apierror.Forbidden("cannot read another manager's cash registers")
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, apierror.BadRequest("end_date is before start_date")
	}
	regs, err := s.repo.ListByManager(ctx, managerID, repository.RegisterFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	out := make([]dto.CashRegisterResponse, 0, len(regs))
	for i := range regs {
		out = append(out, toRegisterResponse(&regs[i], historyTxLimit))
	}
	return out, nil
}

// ── Admin provisioning ────────────────────────────────────────────────────────

// Provision creates a manager's first register, already CLOSED, so that the
// first Open has a balance to carry forward.
func (s *cashRegisterService) Provision(ctx context.Context, caller Caller, managerID uuid.UUID, req dto.ProvisionCashRegisterRequest) (*dto.CashRegisterResponse, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	balance := req.OpeningBalance
	if balance.IsNegative() {
		return nil, apierror.BadRequest("opening balance cannot be negative")
	}
	if err := checkMoney("opening_balance", &balance); err != nil {
		return nil, err
	}

	now := s.now()
	var reg *model.CashRegister
	err := s.repo.Transaction(ctx, func(tx repository.CashRegisterRepository) error {
		mgr, err := tx.LockManager(ctx, managerID)
		if errors.Is(err, repository.ErrNotFound) {
			return apierror.NotFound("user not found")
		}
		if err != nil {
			return err
		}
		if mgr.Role != model.RoleManager || !mgr.Active {
			return apierror.BadRequest("cash registers can only be provisioned for active managers")
		}
		n, err := tx.CountByManager(ctx, managerID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apierror.Conflict("manager already has cash registers")
		}

		zero := decimal.Zero
		b := balance
		reg = &model.CashRegister{
			ManagerID:       managerID,
			BusinessDate:    BusinessDay(now, s.loc),
			Status:          model.RegisterClosed,
			OpeningBalance:  balance,
			OpenedAt:        now,
			ClosedAt:        &now,
			ExpectedBalance: &b,
			ActualBalance:   &b,
			ClosingBalance:  &b,
			Difference:      &zero,
		}
		if err := tx.Create(ctx, reg); err != nil {
			return err
		}
		description := fmt.Sprintf("Cash register provisioned by administrator - balance: %s", balance.StringFixed(2))
		return s.appendTransaction(ctx, tx, reg, model.TxClosing, balance, description, nil)
	})
	if errors.Is(err, repository.ErrConflict) {
		return nil, apierror.Conflict("manager already has cash registers")
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, dto.EventRegisterClosed, reg)
	resp := toRegisterResponse(reg, 0)
	return &resp, nil
}

// UpdateOpeningBalance corrects the opening balance of an OPEN register and
// records the correction as a new OPENING entry.
func (s *cashRegisterService) UpdateOpeningBalance(ctx context.Context, caller Caller, managerID, registerID uuid.UUID, req dto.UpdateOpeningBalanceRequest) (*dto.CashRegisterResponse, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	balance := req.OpeningBalance
	if balance.IsNegative() {
		return nil, apierror.BadRequest("opening balance cannot be negative")
	}
	if err := checkMoney("opening_balance", &balance); err != nil {
		return nil, err
	}

	var reg *model.CashRegister
	err := s.repo.Transaction(ctx, func(tx repository.CashRegisterRepository) error {
		var err error
		reg, err = tx.FindByIDForUpdate(ctx, registerID)
		if errors.Is(err, repository.ErrNotFound) {
			return apierror.NotFound("cash register not found")
		}
		if err != nil {
			return err
		}
		if reg.ManagerID != managerID {
			return apierror.NotFound("cash register not found for this manager")
		}
		if !reg.IsOpen() {
			return apierror.BadRequest("only an open cash register can have its opening balance changed")
		}
		previous := reg.OpeningBalance
		reg.OpeningBalance = balance
		if err := tx.Update(ctx, reg); err != nil {
			return err
		}
		description := fmt.Sprintf("Opening balance changed by administrator: %s -> %s",
			previous.StringFixed(2), balance.StringFixed(2))
		return s.appendTransaction(ctx, tx, reg, model.TxOpening, balance, description, nil)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, dto.EventRegisterOpened, reg)
	resp := toRegisterResponse(reg, 0)
	return &resp, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// checkMoney rejects amounts the ledger columns would round or overflow.
// A nil amount is absent, not invalid.
func checkMoney(field string, d *decimal.Decimal) error {
	if d == nil || IsMoney(*d) {
		return nil
	}
	return apierror.BadRequest(field + " must have at most two decimal places and be below 1000000000000")
}

// lockOwned loads and row-locks a register the manager caller owns.
func lockOwned(ctx context.Context, tx repository.CashRegisterRepository, caller Caller, registerID uuid.UUID) (*model.CashRegister, error) {
	reg, err := tx.FindByIDForUpdate(ctx, registerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.NotFound("cash register not found")
	}
	if err != nil {
		return nil, err
	}
	if reg.ManagerID != caller.UserID {
		return nil, apierror.Forbidden("cash register belongs to another manager")
	}
	return reg, nil
}

func (s *cashRegisterService) appendTransaction(ctx context.Context, tx repository.CashRegisterRepository, reg *model.CashRegister, typ model.TransactionType, amount decimal.Decimal, description string, orderID *uuid.UUID) error {
	t := model.CashRegisterTransaction{
		CashRegisterID: reg.ID,
		Type:           typ,
		Amount:         amount,
		Description:    description,
		OrderID:        orderID,
		CreatedAt:      s.now(),
	}
	if err := tx.CreateTransaction(ctx, &t); err != nil {
		return err
	}
	reg.Transactions = append(reg.Transactions, t)
	return nil
}

func (s *cashRegisterService) publish(ctx context.Context, eventType string, reg *model.CashRegister) {
	log.Info().
		Str("event", eventType).
		Str("register_id", reg.ID.String()).
		Str("manager_id", reg.ManagerID.String()).
		Str("status", string(reg.Status)).
		Msg("cash register updated")
	if s.reports != nil {
		if err := s.reports.Invalidate(ctx, reg.ManagerID); err != nil {
			log.Warn().Err(err).Str("manager_id", reg.ManagerID.String()).Msg("report cache not invalidated")
		}
	}
	if s.events == nil {
		return
	}
	ev := dto.LedgerEvent{
		Type:           eventType,
		CashRegisterID: reg.ID.String(),
		ManagerID:      reg.ManagerID.String(),
		BusinessDate:   reg.BusinessDate.Format(dateLayout),
		OccurredAt:     s.now().UTC(),
	}
	if err := s.events.PublishLedgerEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", eventType).Str("cash_register_id", ev.CashRegisterID).
			Msg("ledger event not published")
	}
}
