package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finledger/internal/model"
	"finledger/internal/repository"
	"finledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type TransactionService struct {
	txm       Transactor
	transRepo *repository.TransactionRepository
	engine    *BalanceEngine
	recorder  MovementRecorder
	events    EventPublisher
	logger    *zap.Logger
}

func NewTransactionService(
	txm Transactor,
	transRepo *repository.TransactionRepository,
	engine *BalanceEngine,
	recorder MovementRecorder,
	events EventPublisher,
	logger *zap.Logger,
) *TransactionService {
	return &TransactionService{
		txm:       txm,
		transRepo: transRepo,
		engine:    engine,
		recorder:  recorder,
		events:    events,
		logger:    logger,
	}
}

type TransactionRequest struct {
	UserID         int64
	Type           string
	Amount         decimal.Decimal
	CurrencyCode   string
	AccountID      *int64
	SubAccountID   *int64
	AffectsAccount bool
	Description    string
	EffectiveDate  time.Time
}

func (r *TransactionRequest) validate() error {
	if !model.ValidTransactionType(r.Type) {
		return fmt.Errorf("交易类型 %q: %w", r.Type, model.ErrInvalidRequest)
	}
	if !r.Amount.IsPositive() {
		return model.ErrInvalidAmount
	}
	if r.Amount.Exponent() < -model.MoneyScale && !r.Amount.Equal(r.Amount.Round(model.MoneyScale)) {
		return fmt.Errorf("金额最多两位小数: %w", model.ErrInvalidAmount)
	}
	if strings.TrimSpace(r.CurrencyCode) == "" {
		return fmt.Errorf("币种不能为空: %w", model.ErrInvalidRequest)
	}
	if r.AccountID == nil && r.SubAccountID == nil {
		return fmt.Errorf("必须指定账户或子账户: %w", model.ErrInvalidRequest)
	}
	return nil
}

func (r *TransactionRequest) applyTo(trans *model.Transaction) {
	trans.Type = r.Type
	trans.Amount = r.Amount
	trans.CurrencyCode = strings.ToUpper(r.CurrencyCode)
	trans.AccountID = r.AccountID
	trans.SubAccountID = r.SubAccountID
	trans.AffectsAccount = r.AffectsAccount
	trans.Description = r.Description
	trans.EffectiveDate = r.EffectiveDate.UTC()
	if trans.EffectiveDate.IsZero() {
		trans.EffectiveDate = time.Now().UTC()
	}
}

// Create 新建交易并入账
func (s *TransactionService) Create(ctx context.Context, req *TransactionRequest) (*model.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	trans := &model.Transaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        req.UserID,
		RecordedAt:    time.Now().UTC(),
	}
	req.applyTo(trans)

	err := s.txm.InTx(ctx, func(ctx context.Context) error {
		applied, err := s.engine.Apply(ctx, trans, DirectionApply)
		if err != nil {
			return err
		}
		if err := s.transRepo.Create(ctx, trans); err != nil {
			return fmt.Errorf("保存交易失败: %w", err)
		}
		return s.afterMutation(ctx, trans, nil, applied)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("交易已入账",
		zap.String("transaction_no", trans.TransactionNo),
		zap.Int64("user_id", trans.UserID),
		zap.String("type", trans.Type),
		zap.String("amount", trans.Amount.String()),
		zap.String("currency", trans.CurrencyCode),
	)
	return trans, nil
}

// Update 编辑交易：先按旧交易撤销，再按新内容入账
// 两步在同一个数据库事务中执行，新内容入账失败时旧交易的撤销一起回滚
func (s *TransactionService) Update(ctx context.Context, id int64, req *TransactionRequest) (*model.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var trans *model.Transaction
	err := s.txm.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.transRepo.GetByID(ctx, req.UserID, id)
		if err != nil {
			return err
		}

		reverted, err := s.engine.Apply(ctx, existing, DirectionRevert)
		if err != nil {
			return fmt.Errorf("撤销原交易失败: %w", err)
		}

		req.applyTo(existing)
		existing.ClearConversions()

		applied, err := s.engine.Apply(ctx, existing, DirectionApply)
		if err != nil {
			return err
		}
		if err := s.transRepo.Save(ctx, existing); err != nil {
			return fmt.Errorf("保存交易失败: %w", err)
		}

		trans = existing
		return s.afterMutation(ctx, existing, reverted, applied)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("交易已修改",
		zap.String("transaction_no", trans.TransactionNo),
		zap.Int64("user_id", trans.UserID),
		zap.String("amount", trans.Amount.String()),
	)
	return trans, nil
}

// Delete 撤销交易的余额影响并删除交易，历史记录写为 TOMBSTONE
func (s *TransactionService) Delete(ctx context.Context, userID, id int64) error {
	var transactionNo string
	err := s.txm.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.transRepo.GetByID(ctx, userID, id)
		if err != nil {
			return err
		}
		transactionNo = existing.TransactionNo

		reverted, err := s.engine.Apply(ctx, existing, DirectionRevert)
		if err != nil {
			return fmt.Errorf("撤销交易失败: %w", err)
		}
		if err := s.transRepo.Delete(ctx, existing.ID); err != nil {
			return err
		}
		return s.afterMutation(ctx, existing, reverted, nil)
	})
	if err != nil {
		return err
	}

	s.logger.Info("交易已删除", zap.String("transaction_no", transactionNo), zap.Int64("user_id", userID))
	return nil
}

func (s *TransactionService) Get(ctx context.Context, userID, id int64) (*model.Transaction, error) {
	return s.transRepo.GetByID(ctx, userID, id)
}

func (s *TransactionService) List(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transRepo.ListByUserID(ctx, userID, page, pageSize)
}

// afterMutation 写变动历史并发出余额变动事件
//
// 当前生效的腿记为 TRANSACTION；被撤销且不再生效的腿记为 TOMBSTONE
func (s *TransactionService) afterMutation(ctx context.Context, trans *model.Transaction, reverted, applied *ApplyResult) error {
	var legs []LegEffect
	if applied != nil {
		for _, leg := range applied.Legs {
			if err := s.record(ctx, trans, leg, model.MovementKindTransaction); err != nil {
				return err
			}
		}
		legs = append(legs, applied.Legs...)
	}
	if reverted != nil {
		for _, leg := range reverted.Legs {
			if applied != nil {
				if _, still := applied.Leg(leg.Entity); still {
					continue
				}
			}
			if err := s.record(ctx, trans, leg, model.MovementKindTombstone); err != nil {
				return err
			}
		}
		legs = append(legs, reverted.Legs...)
	}

	event := ledgerEvent(trans.UserID, model.EventSourceTransaction, trans.TransactionNo, legs)
	if err := s.events.PublishLedgerChanged(ctx, event); err != nil {
		return err
	}
	return nil
}

func (s *TransactionService) record(ctx context.Context, trans *model.Transaction, leg LegEffect, kind string) error {
	err := s.recorder.RecordMovement(ctx, repository.MovementInput{
		Entity:        leg.Entity,
		UserID:        trans.UserID,
		CorrelationID: trans.TransactionNo,
		Kind:          kind,
		Delta:         leg.Delta,
		CurrencyCode:  leg.CurrencyCode,
		BalanceAfter:  leg.BalanceAfter,
		Metadata: map[string]string{
			"type":     trans.Type,
			"amount":   trans.Amount.String(),
			"currency": trans.CurrencyCode,
			"rate":     leg.Rate.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("记录资金变动失败: %w", err)
	}
	return nil
}
