package service

import (
	"testing"
	"time"

	"github.com/vwinv/backend-almadina/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedBalance_IgnoresSnapshots(t *testing.T) {
	txs := []model.CashRegisterTransaction{
		{Type: model.TxOpening, Amount: dec("500")},
		{Type: model.TxCashSale, Amount: dec("120.25")},
		{Type: model.TxCashReturn, Amount: dec("-20.25")},
		{Type: model.TxCashIn, Amount: dec("50")},
		{Type: model.TxCashOut, Amount: dec("-75")},
		{Type: model.TxClosing, Amount: dec("575")},
		{Type: model.TxReconciliation, Amount: dec("-3")},
	}
	assert.True(t, dec("575").Equal(ExpectedBalance(dec("500"), txs)))
}

func TestExpectedBalance_OrderIndependent(t *testing.T) {
	base := []model.CashRegisterTransaction{
		{Type: model.TxCashSale, Amount: dec("0.10")},
		{Type: model.TxCashSale, Amount: dec("0.20")},
		{Type: model.TxCashOut, Amount: dec("-0.30")},
		{Type: model.TxOpening, Amount: dec("9")},
		{Type: model.TxCashIn, Amount: dec("1000000.01")},
	}
	want := dec("1000001.01")

	permute(base, func(p []model.CashRegisterTransaction) {
		got := ExpectedBalance(dec("1"), p)
		require.True(t, want.Equal(got), "got %s for %v", got, txTypes(p))
	})
}

func TestExpectedBalance_NoDriftOverLongChains(t *testing.T) {
	txs := make([]model.CashRegisterTransaction, 0, 10000)
	for i := 0; i < 10000; i++ {
		txs = append(txs, model.CashRegisterTransaction{Type: model.TxCashSale, Amount: dec("0.01")})
	}
	assert.Equal(t, "100.00", ExpectedBalance(dec("0"), txs).StringFixed(2))
}

func TestCarryForwardBalance(t *testing.T) {
	assert.True(t, carryForwardBalance(nil).IsZero())
	assert.True(t, dec("7").Equal(carryForwardBalance(&model.CashRegister{OpeningBalance: dec("7")})))
	assert.True(t, dec("8").Equal(carryForwardBalance(&model.CashRegister{OpeningBalance: dec("7"), ActualBalance: decPtr("8")})))
	assert.True(t, dec("0").Equal(carryForwardBalance(&model.CashRegister{
		OpeningBalance: dec("7"), ActualBalance: decPtr("8"), ClosingBalance: decPtr("0"),
	})))
}

func TestBusinessDay(t *testing.T) {
	dakar, err := time.LoadLocation("Africa/Dakar")
	require.NoError(t, err)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	instant := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), BusinessDay(instant, dakar))
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), BusinessDay(instant, ny))
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), BusinessDay(instant, nil))
}

func TestParseBusinessDate(t *testing.T) {
	d, err := ParseBusinessDate("2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseBusinessDate("28/02/2026")
	assert.Error(t, err)
}

func TestToRegisterResponse_LimitsNewestTransactions(t *testing.T) {
	reg := &model.CashRegister{Status: model.RegisterClosed, OpeningBalance: dec("1")}
	for i := 0; i < 8; i++ {
		reg.Transactions = append(reg.Transactions, model.CashRegisterTransaction{
			Type: model.TxCashIn, Amount: dec("1"), CreatedAt: testNow.Add(time.Duration(i) * time.Minute),
		})
	}
	resp := toRegisterResponse(reg, 3)
	require.Len(t, resp.Transactions, 3)
	assert.Equal(t, testNow.Add(7*time.Minute).Format(time.RFC3339), resp.Transactions[0].CreatedAt)
	assert.Nil(t, resp.CurrentExpectedBalance)
}

func permute(xs []model.CashRegisterTransaction, visit func([]model.CashRegisterTransaction)) {
	var rec func(int)
	rec = func(k int) {
		if k == len(xs) {
			visit(xs)
			return
		}
		for i := k; i < len(xs); i++ {
			xs[k], xs[i] = xs[i], xs[k]
			rec(k + 1)
			xs[k], xs[i] = xs[i], xs[k]
		}
	}
	rec(0)
}

func TestIsMoney(t *testing.T) {
	for s, want := range map[string]bool{
		"0":                true,
		"12.34":            true,
		"-12.34":           true,
		"2.500":            true,
		"999999999999.99":  true,
		"0.005":            false,
		"13.999":           false,
		"1000000000000":    false,
		"-1000000000000.5": false,
	} {
		assert.Equal(t, want, IsMoney(dec(s)), s)
	}
}
