package service

import (
	"context"
	"testing"
	"time"

	"finledger/internal/config"
	"finledger/internal/infrastructure/database"
	"finledger/internal/model"
	"finledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testRates = map[string]float64{
	"MXN": 1,
	"USD": 17.5,
	"EUR": 19.1,
}

var testTopics = config.KafkaTopicConfig{
	LedgerChanged: "ledger.changed",
	Notification:  "ledger.notification",
}

// fixture 内存 SQLite 上的完整服务栈
type fixture struct {
	db          *gorm.DB
	txm         *repository.TxManager
	ledgerRepo  *repository.LedgerRepository
	accounts    *repository.AccountRepository
	subAccounts *repository.SubAccountRepository
	transRepo   *repository.TransactionRepository
	transfers   *repository.TransferRepository
	recurring   *repository.RecurringRepository
	movements   *repository.MovementRepository
	outbox      *repository.OutboxRepository
	converter   *ConversionService
	publisher   *OutboxPublisher
	engine      *BalanceEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.OpenSQLite()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		db:          db,
		txm:         repository.NewTxManager(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		accounts:    repository.NewAccountRepository(db),
		subAccounts: repository.NewSubAccountRepository(db),
		transRepo:   repository.NewTransactionRepository(db),
		transfers:   repository.NewTransferRepository(db),
		recurring:   repository.NewRecurringRepository(db),
		movements:   repository.NewMovementRepository(db),
		outbox:      repository.NewOutboxRepository(db),
	}
	f.converter = newConverter(t, testRates)
	f.publisher = NewOutboxPublisher(f.outbox, testTopics)
	f.engine = NewBalanceEngine(f.ledgerRepo, f.converter, zap.NewNop())
	return f
}

func newConverter(t *testing.T, rates map[string]float64) *ConversionService {
	t.Helper()
	table, err := NewStaticRateTable(rates, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return NewConversionService(table)
}

func (f *fixture) transactionService() *TransactionService {
	return NewTransactionService(f.txm, f.transRepo, f.engine, f.movements, f.publisher, zap.NewNop())
}

func (f *fixture) transferService() *TransferService {
	return NewTransferService(f.txm, f.ledgerRepo, f.converter, f.transfers, f.movements, f.publisher, zap.NewNop())
}

func (f *fixture) ledgerService() *LedgerService {
	return NewLedgerService(f.txm, f.accounts, f.subAccounts, f.ledgerRepo, f.converter, f.movements, f.publisher, zap.NewNop())
}

func (f *fixture) recurringService(policy PolicyChecker, now time.Time) *RecurringService {
	svc := NewRecurringService(f.txm, f.recurring, f.engine, f.movements, f.publisher, f.publisher, policy, zap.NewNop(), 50)
	svc.SetClock(func() time.Time { return now })
	return svc
}

func (f *fixture) account(t *testing.T, userID int64, currency, balance string) *model.Account {
	t.Helper()
	account := &model.Account{
		UserID:       userID,
		CurrencyCode: currency,
		Balance:      decimal.RequireFromString(balance),
		IsPrincipal:  true,
	}
	require.NoError(t, f.accounts.Create(context.Background(), account))
	return account
}

func (f *fixture) subAccount(t *testing.T, userID int64, currency, balance string, linked *int64, affects bool) *model.SubAccount {
	t.Helper()
	sub := &model.SubAccount{
		UserID:          userID,
		Name:            "sub-" + currency,
		CurrencyCode:    currency,
		Balance:         decimal.RequireFromString(balance),
		LinkedAccountID: linked,
		AffectsAccount:  affects,
	}
	require.NoError(t, f.subAccounts.Create(context.Background(), sub))
	return sub
}

func (f *fixture) balance(t *testing.T, ref model.EntityRef) decimal.Decimal {
	t.Helper()
	entity, err := f.ledgerRepo.GetEntity(context.Background(), ref)
	require.NoError(t, err)
	return entity.Balance
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }
