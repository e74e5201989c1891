package service

import (
	"context"
	"fmt"

	"finledger/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Direction 入账为 +1，撤销为 -1
type Direction int64

const (
	DirectionApply  Direction = 1
	DirectionRevert Direction = -1
)

// LegEffect 一条腿实际发生的余额变动
type LegEffect struct {
	Entity       model.EntityRef
	Delta        decimal.Decimal
	CurrencyCode string
	Rate         decimal.Decimal
	BalanceAfter decimal.Decimal
}

// ApplyResult 交易一次入账或撤销触及的所有实体
type ApplyResult struct {
	Legs []LegEffect
}

func (r *ApplyResult) Leg(ref model.EntityRef) (LegEffect, bool) {
	for _, leg := range r.Legs {
		if leg.Entity == ref {
			return leg, true
		}
	}
	return LegEffect{}, false
}

type plannedLeg struct {
	entity   *model.LedgerEntity
	amount   decimal.Decimal // 实体币种下的绝对金额
	rate     decimal.Decimal
	delta    decimal.Decimal
	snapshot *model.ConversionSnapshot
}

// BalanceEngine 余额引擎
//
// 计算一笔交易对子账户/主账户产生的带符号变动并原子写入，之后可以精确撤销。
// 撤销时复用入账时保存的换算金额，汇率变化不会导致撤销后余额漂移
type BalanceEngine struct {
	ledger    LedgerStore
	converter Converter
	logger    *zap.Logger
}

func NewBalanceEngine(ledger LedgerStore, converter Converter, logger *zap.Logger) *BalanceEngine {
	return &BalanceEngine{
		ledger:    ledger,
		converter: converter,
		logger:    logger,
	}
}

// Apply 入账（DirectionApply）或撤销（DirectionRevert）一笔交易
//
// 先规划并校验所有腿，全部通过才开始写余额；任何一条腿余额不足都不会产生变动。
// 入账时把每条腿的换算结果写回 trans，由调用方持久化
func (e *BalanceEngine) Apply(ctx context.Context, trans *model.Transaction, dir Direction) (*ApplyResult, error) {
	legs, err := e.plan(ctx, trans, dir)
	if err != nil {
		return nil, err
	}

	for _, leg := range legs {
		if leg.delta.IsNegative() && leg.entity.Balance.Add(leg.delta).IsNegative() {
			return nil, fmt.Errorf("%s 余额 %s，需扣减 %s: %w",
				leg.entity.Ref, leg.entity.Balance, leg.delta.Neg(), model.ErrInsufficientFunds)
		}
	}

	result := &ApplyResult{Legs: make([]LegEffect, 0, len(legs))}
	for _, leg := range legs {
		balanceAfter, err := e.ledger.Increment(ctx, leg.entity.Ref, leg.delta, true)
		if err != nil {
			e.compensate(ctx, result.Legs)
			return nil, err
		}
		result.Legs = append(result.Legs, LegEffect{
			Entity:       leg.entity.Ref,
			Delta:        leg.delta,
			CurrencyCode: leg.entity.CurrencyCode,
			Rate:         leg.rate,
			BalanceAfter: balanceAfter,
		})
	}

	if dir == DirectionApply {
		for _, leg := range legs {
			*leg.snapshot = model.ConversionSnapshot{
				Amount:   decimal.NewNullDecimal(leg.amount),
				Currency: leg.entity.CurrencyCode,
				Rate:     decimal.NewNullDecimal(leg.rate),
			}
		}
	}
	return result, nil
}

func (e *BalanceEngine) plan(ctx context.Context, trans *model.Transaction, dir Direction) ([]plannedLeg, error) {
	if !model.ValidTransactionType(trans.Type) {
		return nil, fmt.Errorf("交易类型 %q: %w", trans.Type, model.ErrInvalidRequest)
	}
	if !trans.Amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	sign := decimal.NewFromInt(trans.Sign() * int64(dir))
	var legs []plannedLeg

	var sub *model.LedgerEntity
	if trans.SubAccountID != nil {
		entity, err := e.ownedEntity(ctx, trans.UserID, model.SubAccountRef(*trans.SubAccountID))
		if err != nil {
			return nil, err
		}
		sub = entity
		leg, err := e.planLeg(trans, sub, &trans.SubAccountConversion, dir, sign)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}

	// 主账户腿：交易直接记在主账户上，或者交易/子账户声明影响主账户
	accountID := trans.AccountID
	if accountID == nil && sub != nil {
		accountID = sub.LinkedAccountID
	}
	affectsAccount := sub == nil || trans.AffectsAccount || sub.AffectsAccount

	if affectsAccount && accountID != nil {
		account, err := e.ownedEntity(ctx, trans.UserID, model.AccountRef(*accountID))
		if err != nil {
			return nil, err
		}
		leg, err := e.planLeg(trans, account, &trans.AccountConversion, dir, sign)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	} else if sub != nil && trans.AffectsAccount {
		return nil, fmt.Errorf("子账户 %d 未关联主账户: %w", sub.Ref.ID, model.ErrAccountNotFound)
	}

	if len(legs) == 0 {
		return nil, fmt.Errorf("交易没有指定账户或子账户: %w", model.ErrInvalidRequest)
	}
	return legs, nil
}

// planLeg 入账时按当前汇率换算；撤销时优先使用入账时保存的金额
func (e *BalanceEngine) planLeg(trans *model.Transaction, entity *model.LedgerEntity, snapshot *model.ConversionSnapshot, dir Direction, sign decimal.Decimal) (plannedLeg, error) {
	leg := plannedLeg{entity: entity, snapshot: snapshot}

	switch {
	case dir == DirectionRevert && snapshot.Present():
		leg.amount = snapshot.Amount.Decimal
		leg.rate = decimal.NewFromInt(1)
		if snapshot.Rate.Valid {
			leg.rate = snapshot.Rate.Decimal
		}
	default:
		conv, err := e.converter.Convert(trans.Amount, trans.CurrencyCode, entity.CurrencyCode)
		if err != nil {
			return plannedLeg{}, err
		}
		leg.amount = conv.Amount
		leg.rate = conv.Rate
	}

	leg.delta = leg.amount.Mul(sign)
	return leg, nil
}

func (e *BalanceEngine) ownedEntity(ctx context.Context, userID int64, ref model.EntityRef) (*model.LedgerEntity, error) {
	entity, err := e.ledger.GetEntity(ctx, ref)
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

// compensate 后续腿写入失败时冲回已写入的腿
// 冲正不做余额校验，这是唯一允许绕过非负约束的路径
func (e *BalanceEngine) compensate(ctx context.Context, applied []LegEffect) {
	for i := len(applied) - 1; i >= 0; i-- {
		leg := applied[i]
		if _, err := e.ledger.Increment(ctx, leg.Entity, leg.Delta.Neg(), false); err != nil {
			e.logger.Error("余额冲正失败",
				zap.String("entity", leg.Entity.String()),
				zap.String("delta", leg.Delta.Neg().String()),
				zap.Error(err),
			)
		}
	}
}
