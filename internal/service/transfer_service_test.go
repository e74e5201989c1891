package service

import (
	"context"
	"testing"

	"finledger/internal/model"
	"finledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransferConvertsDestinationLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transferService()
	account := f.account(t, 1, "MXN", "100")
	sub := f.subAccount(t, 1, "USD", "200", &account.ID, false)

	result, err := svc.Transfer(ctx, &TransferRequest{
		UserID:         1,
		Amount:         decimal.NewFromInt(50),
		Origin:         model.SubAccountRef(sub.ID),
		Dest:           model.AccountRef(account.ID),
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.False(t, result.Idempotent)

	tr := result.Transfer
	requireDecimal(t, "50", tr.OriginAmount)
	assert.Equal(t, "USD", tr.OriginCurrency)
	requireDecimal(t, "875", tr.DestAmount)
	assert.Equal(t, "MXN", tr.DestCurrency)
	requireDecimal(t, "17.5", tr.ConversionRate)
	requireDecimal(t, "150", tr.BalanceAfterOrigin)
	requireDecimal(t, "975", tr.BalanceAfterDest)

	requireDecimal(t, "150", f.balance(t, model.SubAccountRef(sub.ID)))
	requireDecimal(t, "975", f.balance(t, model.AccountRef(account.ID)))

	movements, err := f.movements.ListByCorrelation(ctx, tr.TransferNo)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for _, m := range movements {
		assert.Equal(t, model.MovementKindTransfer, m.Kind)
	}

	events, err := f.outbox.ListByTopic(ctx, testTopics.LedgerChanged)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTransferIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transferService()
	account := f.account(t, 1, "MXN", "100")
	sub := f.subAccount(t, 1, "USD", "200", &account.ID, false)

	req := &TransferRequest{
		UserID:         1,
		Amount:         decimal.NewFromInt(50),
		Origin:         model.SubAccountRef(sub.ID),
		Dest:           model.AccountRef(account.ID),
		IdempotencyKey: "key-1",
	}
	first, err := svc.Transfer(ctx, req)
	require.NoError(t, err)

	second, err := svc.Transfer(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.Transfer.ID, second.Transfer.ID)
	assert.Equal(t, first.Transfer.TransferNo, second.Transfer.TransferNo)
	requireDecimal(t, first.Transfer.DestAmount.String(), second.Transfer.DestAmount)
	requireDecimal(t, first.Transfer.BalanceAfterOrigin.String(), second.Transfer.BalanceAfterOrigin)

	requireDecimal(t, "150", f.balance(t, model.SubAccountRef(sub.ID)))
	requireDecimal(t, "975", f.balance(t, model.AccountRef(account.ID)))

	_, total, err := svc.List(ctx, 1, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestTransferWithoutKeyIsNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transferService()
	account := f.account(t, 1, "USD", "100")
	sub := f.subAccount(t, 1, "USD", "0", nil, false)

	req := &TransferRequest{
		UserID: 1,
		Amount: decimal.NewFromInt(10),
		Origin: model.AccountRef(account.ID),
		Dest:   model.SubAccountRef(sub.ID),
	}
	_, err := svc.Transfer(ctx, req)
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, req)
	require.NoError(t, err)

	requireDecimal(t, "80", f.balance(t, model.AccountRef(account.ID)))
	requireDecimal(t, "20", f.balance(t, model.SubAccountRef(sub.ID)))
}

func TestTransferInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transferService()
	account := f.account(t, 1, "MXN", "100")
	sub := f.subAccount(t, 1, "USD", "20", nil, false)

	_, err := svc.Transfer(ctx, &TransferRequest{
		UserID:         1,
		Amount:         decimal.NewFromInt(50),
		Origin:         model.SubAccountRef(sub.ID),
		Dest:           model.AccountRef(account.ID),
		IdempotencyKey: "key-1",
	})
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	requireDecimal(t, "20", f.balance(t, model.SubAccountRef(sub.ID)))
	requireDecimal(t, "100", f.balance(t, model.AccountRef(account.ID)))

	existing, err := f.transfers.GetByIdempotencyKey(ctx, 1, "key-1")
	require.NoError(t, err)
	assert.Nil(t, existing)
}

func TestTransferRollsBackWhenDestinationMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.transferService()
	account := f.account(t, 1, "USD", "100")

	_, err := svc.Transfer(ctx, &TransferRequest{
		UserID: 1,
		Amount: decimal.NewFromInt(10),
		Origin: model.AccountRef(account.ID),
		Dest:   model.SubAccountRef(404),
	})
	require.ErrorIs(t, err, model.ErrSubAccountNotFound)
	requireDecimal(t, "100", f.balance(t, model.AccountRef(account.ID)))
}

// failingRecorder 在第二条腿的变动历史上失败，验证整个事务回滚
type failingRecorder struct {
	MovementRecorder
	calls int
}

func (r *failingRecorder) RecordMovement(ctx context.Context, in repository.MovementInput) error {
	r.calls++
	if r.calls == 2 {
		return assert.AnError
	}
	return r.MovementRecorder.RecordMovement(ctx, in)
}

func TestTransferRollsBackOnAuditFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewTransferService(f.txm, f.ledgerRepo, f.converter, f.transfers,
		&failingRecorder{MovementRecorder: f.movements}, f.publisher, zap.NewNop())
	account := f.account(t, 1, "USD", "100")
	sub := f.subAccount(t, 1, "USD", "0", nil, false)

	_, err := svc.Transfer(ctx, &TransferRequest{
		UserID:         1,
		Amount:         decimal.NewFromInt(10),
		Origin:         model.AccountRef(account.ID),
		Dest:           model.SubAccountRef(sub.ID),
		IdempotencyKey: "key-1",
	})
	require.Error(t, err)

	requireDecimal(t, "100", f.balance(t, model.AccountRef(account.ID)))
	requireDecimal(t, "0", f.balance(t, model.SubAccountRef(sub.ID)))
	_, total, err := f.transfers.ListByUserID(ctx, 1, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	movements, err := f.movements.ListByEntity(ctx, model.AccountRef(account.ID))
	require.NoError(t, err)
	assert.Empty(t, movements)
}

// racingTransactor 在事务开始前插入一条同幂等键的转账，模拟并发请求先提交
type racingTransactor struct {
	Transactor
	race func(ctx context.Context)
}

func (r *racingTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.race(ctx)
	return r.Transactor.InTx(ctx, fn)
}

func TestTransferConcurrentDuplicateReturnsExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := f.account(t, 1, "USD", "100")
	sub := f.subAccount(t, 1, "USD", "0", nil, false)

	key := "key-race"
	winner := &model.InternalTransfer{
		TransferNo:         "TRF-WINNER",
		UserID:             1,
		IdempotencyKey:     &key,
		OriginKind:         model.EntityKindAccount,
		OriginID:           account.ID,
		DestKind:           model.EntityKindSubAccount,
		DestID:             sub.ID,
		OriginAmount:       decimal.NewFromInt(10),
		OriginCurrency:     "USD",
		DestAmount:         decimal.NewFromInt(10),
		DestCurrency:       "USD",
		ConversionRate:     decimal.NewFromInt(1),
		BalanceAfterOrigin: decimal.NewFromInt(90),
		BalanceAfterDest:   decimal.NewFromInt(10),
	}
	txm := &racingTransactor{
		Transactor: f.txm,
		race: func(ctx context.Context) {
			require.NoError(t, f.transfers.Create(ctx, winner))
		},
	}
	svc := NewTransferService(txm, f.ledgerRepo, f.converter, f.transfers, f.movements, f.publisher, zap.NewNop())

	result, err := svc.Transfer(ctx, &TransferRequest{
		UserID:         1,
		Amount:         decimal.NewFromInt(10),
		Origin:         model.AccountRef(account.ID),
		Dest:           model.SubAccountRef(sub.ID),
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.True(t, result.Idempotent)
	assert.Equal(t, "TRF-WINNER", result.Transfer.TransferNo)

	// 本次请求的余额变动随事务回滚
	requireDecimal(t, "100", f.balance(t, model.AccountRef(account.ID)))
	requireDecimal(t, "0", f.balance(t, model.SubAccountRef(sub.ID)))
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t)
	svc := f.transferService()
	account := f.account(t, 1, "USD", "100")
	other := f.account(t, 2, "USD", "100")

	tests := []struct {
		name string
		req  *TransferRequest
		want error
	}{
		{"金额为0", &TransferRequest{UserID: 1, Amount: decimal.Zero, Origin: model.AccountRef(account.ID), Dest: model.SubAccountRef(1)}, model.ErrInvalidAmount},
		{"超过两位小数", &TransferRequest{UserID: 1, Amount: decimal.RequireFromString("1.005"), Origin: model.AccountRef(account.ID), Dest: model.SubAccountRef(1)}, model.ErrInvalidAmount},
		{"同一实体", &TransferRequest{UserID: 1, Amount: decimal.NewFromInt(1), Origin: model.AccountRef(account.ID), Dest: model.AccountRef(account.ID)}, model.ErrInvalidRequest},
		{"实体类型错误", &TransferRequest{UserID: 1, Amount: decimal.NewFromInt(1), Origin: model.EntityRef{Kind: "WALLET", ID: 1}, Dest: model.AccountRef(account.ID)}, model.ErrInvalidRequest},
		{"跨用户", &TransferRequest{UserID: 1, Amount: decimal.NewFromInt(1), Origin: model.AccountRef(account.ID), Dest: model.AccountRef(other.ID)}, model.ErrAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Transfer(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	requireDecimal(t, "100", f.balance(t, model.AccountRef(account.ID)))
	requireDecimal(t, "100", f.balance(t, model.AccountRef(other.ID)))
}
