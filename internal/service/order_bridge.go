package service

import (
	"context"
	"errors"

	"github.com/vwinv/backend-almadina/internal/apierror"
	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/model"
	"github.com/vwinv/backend-almadina/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderLedgerBridge is what the order subsystem calls when a manager takes
// or refunds cash for an order. The ledger never starts order logic itself.
type OrderLedgerBridge interface {
	PostCashSale(ctx context.Context, managerID, orderID uuid.UUID, amount decimal.Decimal) (*dto.CashTransactionResponse, error)
	// PostCashReturn records the refund with the sign the caller supplies.
	PostCashReturn(ctx context.Context, managerID, orderID uuid.UUID, amount decimal.Decimal) (*dto.CashTransactionResponse, error)
}

func (s *cashRegisterService) PostCashSale(ctx context.Context, managerID, orderID uuid.UUID, amount decimal.Decimal) (*dto.CashTransactionResponse, error) {
	if !amount.IsPositive() {
		return nil, apierror.BadRequest("cash sale amount must be positive")
	}
	return s.postOrderCash(ctx, managerID, orderID, model.TxCashSale, amount)
}

func (s *cashRegisterService) PostCashReturn(ctx context.Context, managerID, orderID uuid.UUID, amount decimal.Decimal) (*dto.CashTransactionResponse, error) {
	return s.postOrderCash(ctx, managerID, orderID, model.TxCashReturn, amount)
}

func (s *cashRegisterService) postOrderCash(ctx context.Context, managerID, orderID uuid.UUID, typ model.TransactionType, amount decimal.Decimal) (*dto.CashTransactionResponse, error) {
	reg, err := s.repo.FindOpenByManager(ctx, managerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apierror.BadRequest("manager has no open cash register")
	}
	if err != nil {
		return nil, err
	}

	oid := orderID.String()
	description := transactionLabel(typ) + " - order " + oid
	return s.AddTransaction(ctx, Caller{UserID: managerID, Role: model.RoleManager}, reg.ID, dto.AddCashTransactionRequest{
		Type:        string(typ),
		Amount:      amount,
		Description: &description,
		OrderID:     &oid,
	})
}
