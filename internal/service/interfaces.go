package service

import (
	"context"

	"finledger/internal/model"
	"finledger/internal/repository"

	"github.com/shopspring/decimal"
)

// LedgerStore 记账实体存储，余额只能通过原子增减修改
type LedgerStore interface {
	GetEntity(ctx context.Context, ref model.EntityRef) (*model.LedgerEntity, error)
	Increment(ctx context.Context, ref model.EntityRef, delta decimal.Decimal, guard bool) (decimal.Decimal, error)
}

// Converter 币种换算
type Converter interface {
	Convert(amount decimal.Decimal, from, to string) (*Conversion, error)
	Supports(code string) error
}

// MovementRecorder 资金变动历史，按 (实体, 关联单号) 幂等
type MovementRecorder interface {
	RecordMovement(ctx context.Context, in repository.MovementInput) error
}

// EventPublisher 余额变动事件，替代全局的看板版本计数器
type EventPublisher interface {
	PublishLedgerChanged(ctx context.Context, event *model.LedgerChangedEvent) error
}

// Notifier 推送通知，发送失败不影响主流程
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string, metadata map[string]string) error
}

// PolicyChecker 套餐策略检查，命中时周期扣款被暂停
type PolicyChecker interface {
	IsPaused(ctx context.Context, definitionID int64) (bool, error)
}

// Transactor 数据库事务作用域
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoopPolicyChecker 未接入策略服务时使用，从不暂停
type NoopPolicyChecker struct{}

func (NoopPolicyChecker) IsPaused(ctx context.Context, definitionID int64) (bool, error) {
	return false, nil
}
