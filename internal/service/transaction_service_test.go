package service

import (
	"context"
	"encoding/json"
	"testing"

	"finledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expenseRequest(userID int64, amount, currency string) *TransactionRequest {
	return &TransactionRequest{
		UserID:       userID,
		Type:         model.TransactionTypeExpense,
		Amount:       decimal.RequireFromString(amount),
		CurrencyCode: currency,
	}
}

func TestTransactionCreateRecordsMovementAndEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transactionService()
	account := f.account(t, 1, "USD", "100")

	req := expenseRequest(1, "30", "usd")
	req.AccountID = &account.ID
	trans, err := svc.Create(ctx, req)
	require.NoError(t, err)

	assert.NotEmpty(t, trans.TransactionNo)
	assert.Equal(t, "USD", trans.CurrencyCode)
	assert.False(t, trans.EffectiveDate.IsZero())
	requireDecimal(t, "70", f.balance(t, model.AccountRef(account.ID)))

	stored, err := svc.Get(ctx, 1, trans.ID)
	require.NoError(t, err)
	requireDecimal(t, "30", stored.AccountConversion.Amount.Decimal)

	movements, err := f.movements.ListByCorrelation(ctx, trans.TransactionNo)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, model.MovementKindTransaction, movements[0].Kind)
	requireDecimal(t, "-30", movements[0].Delta)
	requireDecimal(t, "70", movements[0].BalanceAfter)

	messages, err := f.outbox.ListByTopic(ctx, testTopics.LedgerChanged)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	var event model.LedgerChangedEvent
	require.NoError(t, json.Unmarshal([]byte(messages[0].Payload), &event))
	assert.Equal(t, trans.TransactionNo, event.CorrelationID)
	assert.Equal(t, model.EventSourceTransaction, event.Source)
	require.Len(t, event.Legs, 1)
	assert.Equal(t, model.AccountRef(account.ID), event.Legs[0].Entity)
}

func TestTransactionCreateInsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transactionService()
	account := f.account(t, 1, "USD", "10")

	req := expenseRequest(1, "30", "USD")
	req.AccountID = &account.ID
	_, err := svc.Create(ctx, req)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	list, total, err := svc.List(ctx, 1, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
	messages, err := f.outbox.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestTransactionCreateValidation(t *testing.T) {
	f := newFixture(t)
	svc := f.transactionService()

	req := expenseRequest(1, "10.001", "USD")
	req.AccountID = int64Ptr(1)
	_, err := svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	req = expenseRequest(1, "10", "USD")
	_, err = svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestTransactionUpdateRevertsThenReapplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transactionService()
	account := f.account(t, 1, "MXN", "1000")

	req := expenseRequest(1, "10", "USD")
	req.AccountID = &account.ID
	trans, err := svc.Create(ctx, req)
	require.NoError(t, err)
	requireDecimal(t, "825", f.balance(t, model.AccountRef(account.ID)))

	update := expenseRequest(1, "200", "MXN")
	update.AccountID = &account.ID
	updated, err := svc.Update(ctx, trans.ID, update)
	require.NoError(t, err)

	assert.Equal(t, trans.TransactionNo, updated.TransactionNo)
	requireDecimal(t, "800", f.balance(t, model.AccountRef(account.ID)))
	requireDecimal(t, "200", updated.AccountConversion.Amount.Decimal)
	requireDecimal(t, "1", updated.AccountConversion.Rate.Decimal)

	// 同一实体同一交易只保留一条历史
	movements, err := f.movements.ListByCorrelation(ctx, trans.TransactionNo)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	requireDecimal(t, "-200", movements[0].Delta)
}

func TestTransactionUpdateFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transactionService()
	account := f.account(t, 1, "USD", "100")

	req := expenseRequest(1, "30", "USD")
	req.AccountID = &account.ID
	trans, err := svc.Create(ctx, req)
	require.NoError(t, err)

	update := expenseRequest(1, "500", "USD")
	update.AccountID = &account.ID
	_, err = svc.Update(ctx, trans.ID, update)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	// 撤销和重新入账在同一个事务里，失败后余额和交易都保持原样
	requireDecimal(t, "70", f.balance(t, model.AccountRef(account.ID)))
	stored, err := svc.Get(ctx, 1, trans.ID)
	require.NoError(t, err)
	requireDecimal(t, "30", stored.Amount)
}

func TestTransactionUpdateMovesToSubAccountTombstonesAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transactionService()
	account := f.account(t, 1, "USD", "100")
	sub := f.subAccount(t, 1, "USD", "50", nil, false)

	req := expenseRequest(1, "30", "USD")
	req.AccountID = &account.ID
	trans, err := svc.Create(ctx, req)
	require.NoError(t, err)

	update := expenseRequest(1, "20", "USD")
	update.SubAccountID = &sub.ID
	_, err = svc.Update(ctx, trans.ID, update)
	require.NoError(t, err)

	requireDecimal(t, "100", f.balance(t, model.AccountRef(account.ID)))
	requireDecimal(t, "30", f.balance(t, model.SubAccountRef(sub.ID)))

	accountHistory, err := f.movements.ListByEntity(ctx, model.AccountRef(account.ID))
	require.NoError(t, err)
	require.Len(t, accountHistory, 1)
	assert.Equal(t, model.MovementKindTombstone, accountHistory[0].Kind)

	subHistory, err := f.movements.ListByEntity(ctx, model.SubAccountRef(sub.ID))
	require.NoError(t, err)
	require.Len(t, subHistory, 1)
	assert.Equal(t, model.MovementKindTransaction, subHistory[0].Kind)
}

func TestTransactionDeleteRestoresBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transactionService()
	account := f.account(t, 1, "MXN", "1000")
	sub := f.subAccount(t, 1, "USD", "100", &account.ID, true)

	req := &TransactionRequest{
		UserID:       1,
		Type:         model.TransactionTypeIncome,
		Amount:       decimal.RequireFromString("9.99"),
		CurrencyCode: "USD",
		SubAccountID: &sub.ID,
	}
	trans, err := svc.Create(ctx, req)
	require.NoError(t, err)
	requireDecimal(t, "1174.83", f.balance(t, model.AccountRef(account.ID)))
	requireDecimal(t, "109.99", f.balance(t, model.SubAccountRef(sub.ID)))

	require.NoError(t, svc.Delete(ctx, 1, trans.ID))
	requireDecimal(t, "1000", f.balance(t, model.AccountRef(account.ID)))
	requireDecimal(t, "100", f.balance(t, model.SubAccountRef(sub.ID)))

	_, err = svc.Get(ctx, 1, trans.ID)
	assert.ErrorIs(t, err, model.ErrTransactionNotFound)

	movements, err := f.movements.ListByCorrelation(ctx, trans.TransactionNo)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for _, m := range movements {
		assert.Equal(t, model.MovementKindTombstone, m.Kind)
	}

	assert.ErrorIs(t, svc.Delete(ctx, 1, trans.ID), model.ErrTransactionNotFound)
}

func TestTransactionDeleteOfSpentIncomeFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transactionService()
	account := f.account(t, 1, "USD", "0")

	income := &TransactionRequest{
		UserID:       1,
		Type:         model.TransactionTypeIncome,
		Amount:       decimal.NewFromInt(50),
		CurrencyCode: "USD",
		AccountID:    &account.ID,
	}
	trans, err := svc.Create(ctx, income)
	require.NoError(t, err)

	spend := expenseRequest(1, "40", "USD")
	spend.AccountID = &account.ID
	_, err = svc.Create(ctx, spend)
	require.NoError(t, err)

	// 收入已经花掉，撤销会让余额变负
	err = svc.Delete(ctx, 1, trans.ID)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)
	requireDecimal(t, "10", f.balance(t, model.AccountRef(account.ID)))
	_, err = svc.Get(ctx, 1, trans.ID)
	assert.NoError(t, err)
}
