package service

import (
	"context"
	"testing"

	"finledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccountOnePrincipalPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.ledgerService()

	account, err := svc.CreateAccount(ctx, 1, "mxn", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "MXN", account.CurrencyCode)
	assert.True(t, account.IsPrincipal)

	_, err = svc.CreateAccount(ctx, 1, "USD", decimal.Zero)
	assert.ErrorIs(t, err, model.ErrPrincipalExists)
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = svc.CreateAccount(ctx, 2, "JPY", decimal.Zero)
	assert.ErrorIs(t, err, model.ErrCurrencyNotFound)
}

func TestCreateSubAccountAffectsLinkedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.ledgerService()
	account := f.account(t, 1, "MXN", "100")

	sub, err := svc.CreateSubAccount(ctx, &SubAccountRequest{
		UserID:         1,
		Name:           "美元储蓄",
		CurrencyCode:   "USD",
		InitialBalance: decimal.NewFromInt(20),
		AffectsAccount: true,
	})
	require.NoError(t, err)
	require.NotNil(t, sub.LinkedAccountID)
	assert.Equal(t, account.ID, *sub.LinkedAccountID)
	requireDecimal(t, "20", f.balance(t, model.SubAccountRef(sub.ID)))
	requireDecimal(t, "450", f.balance(t, model.AccountRef(account.ID)))

	history, err := f.movements.ListByEntity(ctx, model.AccountRef(account.ID))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.MovementKindSubAccount, history[0].Kind)

	require.NoError(t, svc.DeleteSubAccount(ctx, 1, sub.ID))
	requireDecimal(t, "100", f.balance(t, model.AccountRef(account.ID)))
	_, err = f.subAccounts.GetByID(ctx, sub.ID)
	assert.ErrorIs(t, err, model.ErrSubAccountNotFound)
}

func TestCreateSubAccountEarmarkedDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.ledgerService()
	account := f.account(t, 1, "USD", "100")

	sub, err := svc.CreateSubAccount(ctx, &SubAccountRequest{
		UserID:         1,
		Name:           "旅行基金",
		CurrencyCode:   "USD",
		InitialBalance: decimal.NewFromInt(40),
		AffectsAccount: true,
		Earmarked:      true,
	})
	require.NoError(t, err)
	requireDecimal(t, "100", f.balance(t, model.AccountRef(account.ID)))

	require.NoError(t, svc.DeleteSubAccount(ctx, 1, sub.ID))
	requireDecimal(t, "100", f.balance(t, model.AccountRef(account.ID)))
}

func TestCreateSubAccountWithoutAffectingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.ledgerService()
	account := f.account(t, 1, "USD", "100")

	sub, err := svc.CreateSubAccount(ctx, &SubAccountRequest{
		UserID:         1,
		Name:           "现金",
		CurrencyCode:   "EUR",
		InitialBalance: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	requireDecimal(t, "100", f.balance(t, model.AccountRef(account.ID)))

	balances, err := svc.GetBalances(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, account.ID, balances.Account.ID)
	require.Len(t, balances.SubAccounts, 1)
	assert.Equal(t, sub.ID, balances.SubAccounts[0].ID)
}

func TestCreateSubAccountValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.ledgerService()

	_, err := svc.CreateSubAccount(ctx, &SubAccountRequest{UserID: 1, Name: "x", CurrencyCode: "USD", AffectsAccount: true})
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	_, err = svc.CreateSubAccount(ctx, &SubAccountRequest{UserID: 1, Name: "x", CurrencyCode: "USD", InitialBalance: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	_, err = svc.CreateSubAccount(ctx, &SubAccountRequest{UserID: 1, Name: "x", CurrencyCode: "JPY"})
	assert.ErrorIs(t, err, model.ErrCurrencyNotFound)

	other := f.account(t, 2, "USD", "0")
	_, err = svc.CreateSubAccount(ctx, &SubAccountRequest{UserID: 1, Name: "x", CurrencyCode: "USD", LinkedAccountID: &other.ID})
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	_, err = svc.GetBalances(ctx, 1)
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
}

func TestDeleteSubAccountInsufficientLinkedBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.ledgerService()
	account := f.account(t, 1, "USD", "0")

	sub, err := svc.CreateSubAccount(ctx, &SubAccountRequest{
		UserID: 1, Name: "x", CurrencyCode: "USD",
		InitialBalance: decimal.NewFromInt(30), AffectsAccount: true,
	})
	require.NoError(t, err)
	requireDecimal(t, "30", f.balance(t, model.AccountRef(account.ID)))

	// 主账户的钱已经花掉一部分
	_, err = f.accounts.Increment(ctx, account.ID, decimal.NewFromInt(-20), true)
	require.NoError(t, err)

	err = svc.DeleteSubAccount(ctx, 1, sub.ID)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)
	_, err = f.subAccounts.GetByID(ctx, sub.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteSubAccount(ctx, 2, sub.ID), model.ErrSubAccountNotFound)
}
