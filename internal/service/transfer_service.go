package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finledger/internal/model"
	"finledger/internal/repository"
	"finledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TransferRequest struct {
	UserID         int64
	Amount         decimal.Decimal // 转出实体币种
	Origin         model.EntityRef
	Dest           model.EntityRef
	IdempotencyKey string
}

type TransferResult struct {
	Transfer   *model.InternalTransfer
	Idempotent bool // true 表示命中幂等键，返回的是之前的结果
}

type TransferService struct {
	txm          Transactor
	ledger       LedgerStore
	converter    Converter
	transferRepo *repository.TransferRepository
	recorder     MovementRecorder
	events       EventPublisher
	logger       *zap.Logger
}

func NewTransferService(
	txm Transactor,
	ledger LedgerStore,
	converter Converter,
	transferRepo *repository.TransferRepository,
	recorder MovementRecorder,
	events EventPublisher,
	logger *zap.Logger,
) *TransferService {
	return &TransferService{
		txm:          txm,
		ledger:       ledger,
		converter:    converter,
		transferRepo: transferRepo,
		recorder:     recorder,
		events:       events,
		logger:       logger,
	}
}

// Transfer 内部转账
//
// 流程：
//  1. 幂等键已存在，直接返回之前的结果，不动余额
//  2. 开启数据库事务，读取转出/转入实体，转入腿按需换算
//  3. 转出余额不足直接失败
//  4. 条件扣减转出方、增加转入方，读回变动后余额
//  5. 写转账记录、两条变动历史、余额变动事件，提交
//  6. 事务内任何失败整体回滚
//  7. 并发提交同一幂等键撞上唯一索引时，按 1 处理
func (s *TransferService) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := s.transferRepo.GetByIdempotencyKey(ctx, req.UserID, key)
		if err != nil {
			return nil, fmt.Errorf("查询幂等记录失败: %w", err)
		}
		if existing != nil {
			s.logger.Info("转账请求已处理，直接返回", zap.String("transfer_no", existing.TransferNo), zap.String("idempotency_key", key))
			return &TransferResult{Transfer: existing, Idempotent: true}, nil
		}
	}

	var transfer *model.InternalTransfer
	err := s.txm.InTx(ctx, func(ctx context.Context) error {
		var err error
		transfer, err = s.execute(ctx, req, key)
		return err
	})
	if err != nil {
		if key != "" {
			if existing := s.resolveDuplicate(ctx, req.UserID, key, err); existing != nil {
				return &TransferResult{Transfer: existing, Idempotent: true}, nil
			}
		}
		return nil, err
	}

	s.logger.Info("转账成功",
		zap.String("transfer_no", transfer.TransferNo),
		zap.Int64("user_id", transfer.UserID),
		zap.String("origin", req.Origin.String()),
		zap.String("dest", req.Dest.String()),
		zap.String("origin_amount", transfer.OriginAmount.String()),
		zap.String("dest_amount", transfer.DestAmount.String()),
	)
	return &TransferResult{Transfer: transfer}, nil
}

func (s *TransferService) validate(req *TransferRequest) error {
	if !req.Amount.IsPositive() {
		return model.ErrInvalidAmount
	}
	if !req.Amount.Equal(req.Amount.Round(model.MoneyScale)) {
		return fmt.Errorf("金额最多两位小数: %w", model.ErrInvalidAmount)
	}
	if !req.Origin.Valid() || !req.Dest.Valid() {
		return fmt.Errorf("转出或转入实体不合法: %w", model.ErrInvalidRequest)
	}
	if req.Origin == req.Dest {
		return fmt.Errorf("转出和转入不能是同一实体: %w", model.ErrInvalidRequest)
	}
	return nil
}

func (s *TransferService) execute(ctx context.Context, req *TransferRequest, key string) (*model.InternalTransfer, error) {
	origin, err := s.ownedEntity(ctx, req.UserID, req.Origin)
	if err != nil {
		return nil, err
	}
	dest, err := s.ownedEntity(ctx, req.UserID, req.Dest)
	if err != nil {
		return nil, err
	}

	conv, err := s.converter.Convert(req.Amount, origin.CurrencyCode, dest.CurrencyCode)
	if err != nil {
		return nil, err
	}

	if origin.Balance.LessThan(req.Amount) {
		return nil, fmt.Errorf("%s 余额 %s，转出 %s: %w", origin.Ref, origin.Balance, req.Amount, model.ErrInsufficientFunds)
	}

	// 条件扣减兜住并发：余额在检查之后被别人扣掉时这里会失败
	balanceAfterOrigin, err := s.ledger.Increment(ctx, origin.Ref, req.Amount.Neg(), true)
	if err != nil {
		return nil, err
	}
	balanceAfterDest, err := s.ledger.Increment(ctx, dest.Ref, conv.Amount, true)
	if err != nil {
		return nil, err
	}

	transfer := &model.InternalTransfer{
		TransferNo:         idgen.GenerateTransferNo(),
		UserID:             req.UserID,
		OriginKind:         origin.Ref.Kind,
		OriginID:           origin.Ref.ID,
		DestKind:           dest.Ref.Kind,
		DestID:             dest.Ref.ID,
		OriginAmount:       req.Amount,
		OriginCurrency:     origin.CurrencyCode,
		DestAmount:         conv.Amount,
		DestCurrency:       dest.CurrencyCode,
		ConversionRate:     conv.Rate,
		BalanceAfterOrigin: balanceAfterOrigin,
		BalanceAfterDest:   balanceAfterDest,
	}
	if key != "" {
		transfer.IdempotencyKey = &key
	}
	if err := s.transferRepo.Create(ctx, transfer); err != nil {
		return nil, err
	}

	legs := []LegEffect{
		{Entity: origin.Ref, Delta: req.Amount.Neg(), CurrencyCode: origin.CurrencyCode, Rate: decimal.NewFromInt(1), BalanceAfter: balanceAfterOrigin},
		{Entity: dest.Ref, Delta: conv.Amount, CurrencyCode: dest.CurrencyCode, Rate: conv.Rate, BalanceAfter: balanceAfterDest},
	}
	for _, leg := range legs {
		err := s.recorder.RecordMovement(ctx, repository.MovementInput{
			Entity:        leg.Entity,
			UserID:        req.UserID,
			CorrelationID: transfer.TransferNo,
			Kind:          model.MovementKindTransfer,
			Delta:         leg.Delta,
			CurrencyCode:  leg.CurrencyCode,
			BalanceAfter:  leg.BalanceAfter,
			Metadata: map[string]string{
				"origin": origin.Ref.String(),
				"dest":   dest.Ref.String(),
				"rate":   conv.Rate.String(),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("记录资金变动失败: %w", err)
		}
	}

	if err := s.events.PublishLedgerChanged(ctx, ledgerEvent(req.UserID, model.EventSourceTransfer, transfer.TransferNo, legs)); err != nil {
		return nil, err
	}
	return transfer, nil
}

// resolveDuplicate 事务失败后检查是否有并发请求已经用同一幂等键完成了转账
// 唯一索引冲突被翻译成 gorm.ErrDuplicatedKey；其他错误也再查一次，驱动未翻译时兜底
func (s *TransferService) resolveDuplicate(ctx context.Context, userID int64, key string, cause error) *model.InternalTransfer {
	existing, err := s.transferRepo.GetByIdempotencyKey(ctx, userID, key)
	if err != nil || existing == nil {
		if errors.Is(cause, gorm.ErrDuplicatedKey) {
			s.logger.Warn("幂等键冲突但未查到已有转账", zap.String("idempotency_key", key), zap.Error(err))
		}
		return nil
	}
	s.logger.Info("并发转账命中幂等键", zap.String("transfer_no", existing.TransferNo), zap.String("idempotency_key", key))
	return existing
}

func (s *TransferService) ownedEntity(ctx context.Context, userID int64, ref model.EntityRef) (*model.LedgerEntity, error) {
	entity, err := s.ledger.GetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	if entity.UserID != userID {
		if ref.Kind == model.EntityKindSubAccount {
			return nil, model.ErrSubAccountNotFound
		}
		return nil, model.ErrAccountNotFound
	}
	return entity, nil
}

func (s *TransferService) Get(ctx context.Context, userID int64, transferNo string) (*model.InternalTransfer, error) {
	return s.transferRepo.GetByTransferNo(ctx, userID, transferNo)
}

func (s *TransferService) List(ctx context.Context, userID int64, page, pageSize int) ([]*model.InternalTransfer, int64, error) {
	return s.transferRepo.ListByUserID(ctx, userID, page, pageSize)
}
