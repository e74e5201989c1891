package service

import (
	"context"
	"fmt"
	"strings"

	"finledger/internal/model"
	"finledger/internal/repository"
	"finledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService 主账户和子账户的创建、删除、查询
type LedgerService struct {
	txm         Transactor
	accounts    *repository.AccountRepository
	subAccounts *repository.SubAccountRepository
	ledger      LedgerStore
	converter   Converter
	recorder    MovementRecorder
	events      EventPublisher
	logger      *zap.Logger
}

func NewLedgerService(
	txm Transactor,
	accounts *repository.AccountRepository,
	subAccounts *repository.SubAccountRepository,
	ledger LedgerStore,
	converter Converter,
	recorder MovementRecorder,
	events EventPublisher,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		txm:         txm,
		accounts:    accounts,
		subAccounts: subAccounts,
		ledger:      ledger,
		converter:   converter,
		recorder:    recorder,
		events:      events,
		logger:      logger,
	}
}

// CreateAccount 创建主账户，每个用户只能有一个
func (s *LedgerService) CreateAccount(ctx context.Context, userID int64, currencyCode string, initialBalance decimal.Decimal) (*model.Account, error) {
	if initialBalance.IsNegative() {
		return nil, model.ErrInvalidAmount
	}
	if err := s.converter.Supports(currencyCode); err != nil {
		return nil, err
	}

	account := &model.Account{
		UserID:       userID,
		CurrencyCode: strings.ToUpper(currencyCode),
		Balance:      initialBalance.Round(model.MoneyScale),
		IsPrincipal:  true,
	}
	err := s.txm.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.accounts.GetPrincipal(ctx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return model.ErrPrincipalExists
		}
		return s.accounts.Create(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("主账户已创建", zap.Int64("user_id", userID), zap.Int64("account_id", account.ID))
	return account, nil
}

type SubAccountRequest struct {
	UserID          int64
	Name            string
	CurrencyCode    string
	InitialBalance  decimal.Decimal
	LinkedAccountID *int64 // 为空时关联用户主账户
	AffectsAccount  bool
	Earmarked       bool
}

// CreateSubAccount 创建子账户
//
// AffectsAccount 且非划拨：初始余额换算后同步加到关联主账户
// AffectsAccount 且划拨：资金已经在主账户里，不再重复入账
func (s *LedgerService) CreateSubAccount(ctx context.Context, req *SubAccountRequest) (*model.SubAccount, error) {
	if req.InitialBalance.IsNegative() || !req.InitialBalance.Equal(req.InitialBalance.Round(model.MoneyScale)) {
		return nil, model.ErrInvalidAmount
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("子账户名称不能为空: %w", model.ErrInvalidRequest)
	}
	if err := s.converter.Supports(req.CurrencyCode); err != nil {
		return nil, err
	}

	sub := &model.SubAccount{
		UserID:         req.UserID,
		Name:           req.Name,
		CurrencyCode:   strings.ToUpper(req.CurrencyCode),
		Balance:        req.InitialBalance,
		AffectsAccount: req.AffectsAccount,
		Earmarked:      req.Earmarked,
	}

	err := s.txm.InTx(ctx, func(ctx context.Context) error {
		account, err := s.linkedAccount(ctx, req.UserID, req.LinkedAccountID)
		if err != nil {
			return err
		}
		if account != nil {
			sub.LinkedAccountID = &account.ID
		} else if req.AffectsAccount {
			return fmt.Errorf("影响主账户的子账户必须关联主账户: %w", model.ErrAccountNotFound)
		}

		if err := s.subAccounts.Create(ctx, sub); err != nil {
			return fmt.Errorf("保存子账户失败: %w", err)
		}

		if !sub.AffectsAccount || sub.Earmarked || sub.Balance.IsZero() {
			return nil
		}
		return s.adjustLinkedAccount(ctx, sub, account, sub.Balance)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("子账户已创建",
		zap.Int64("user_id", sub.UserID),
		zap.Int64("sub_account_id", sub.ID),
		zap.Bool("affects_account", sub.AffectsAccount),
		zap.Bool("earmarked", sub.Earmarked),
	)
	return sub, nil
}

// DeleteSubAccount 删除子账户
// AffectsAccount 且非划拨时，从关联主账户扣回子账户当前余额（换算后）
func (s *LedgerService) DeleteSubAccount(ctx context.Context, userID, id int64) error {
	err := s.txm.InTx(ctx, func(ctx context.Context) error {
		sub, err := s.subAccounts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if sub.UserID != userID {
			return model.ErrSubAccountNotFound
		}

		if sub.AffectsAccount && !sub.Earmarked && sub.LinkedAccountID != nil && sub.Balance.IsPositive() {
			account, err := s.accounts.GetByID(ctx, *sub.LinkedAccountID)
			if err != nil {
				return err
			}
			if err := s.adjustLinkedAccount(ctx, sub, account, sub.Balance.Neg()); err != nil {
				return err
			}
		}
		return s.subAccounts.Delete(ctx, sub.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("子账户已删除", zap.Int64("user_id", userID), zap.Int64("sub_account_id", id))
	return nil
}

// Balances 用户的主账户和全部子账户
type Balances struct {
	Account     *model.Account      `json:"account"`
	SubAccounts []*model.SubAccount `json:"sub_accounts"`
}

func (s *LedgerService) GetBalances(ctx context.Context, userID int64) (*Balances, error) {
	account, err := s.accounts.GetPrincipal(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, model.ErrAccountNotFound
	}
	subs, err := s.subAccounts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Balances{Account: account, SubAccounts: subs}, nil
}

func (s *LedgerService) linkedAccount(ctx context.Context, userID int64, accountID *int64) (*model.Account, error) {
	if accountID == nil {
		return s.accounts.GetPrincipal(ctx, userID)
	}
	account, err := s.accounts.GetByID(ctx, *accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, model.ErrAccountNotFound
	}
	return account, nil
}

// adjustLinkedAccount 按子账户金额（子账户币种）调整关联主账户
func (s *LedgerService) adjustLinkedAccount(ctx context.Context, sub *model.SubAccount, account *model.Account, amount decimal.Decimal) error {
	conv, err := s.converter.Convert(amount.Abs(), sub.CurrencyCode, account.CurrencyCode)
	if err != nil {
		return err
	}
	delta := conv.Amount
	if amount.IsNegative() {
		delta = delta.Neg()
	}

	balanceAfter, err := s.ledger.Increment(ctx, model.AccountRef(account.ID), delta, true)
	if err != nil {
		return err
	}

	correlationID := idgen.GenerateAdjustmentNo()
	err = s.recorder.RecordMovement(ctx, repository.MovementInput{
		Entity:        model.AccountRef(account.ID),
		UserID:        sub.UserID,
		CorrelationID: correlationID,
		Kind:          model.MovementKindSubAccount,
		Delta:         delta,
		CurrencyCode:  account.CurrencyCode,
		BalanceAfter:  balanceAfter,
		Metadata: map[string]string{
			"sub_account_id": fmt.Sprint(sub.ID),
			"rate":           conv.Rate.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("记录资金变动失败: %w", err)
	}

	legs := []LegEffect{{
		Entity:       model.AccountRef(account.ID),
		Delta:        delta,
		CurrencyCode: account.CurrencyCode,
		Rate:         conv.Rate,
		BalanceAfter: balanceAfter,
	}}
	return s.events.PublishLedgerChanged(ctx, ledgerEvent(sub.UserID, model.EventSourceSubAccount, correlationID, legs))
}
