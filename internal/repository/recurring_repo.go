package repository

import (
	"context"
	"errors"
	"time"

	"finledger/internal/model"

	"gorm.io/gorm"
)

type RecurringRepository struct {
	db *gorm.DB
}

func NewRecurringRepository(db *gorm.DB) *RecurringRepository {
	return &RecurringRepository{db: db}
}

func (r *RecurringRepository) Create(ctx context.Context, def *model.RecurringDefinition) error {
	return conn(ctx, r.db).Create(def).Error
}

func (r *RecurringRepository) GetByID(ctx context.Context, id int64) (*model.RecurringDefinition, error) {
	var def model.RecurringDefinition
	err := conn(ctx, r.db).Where("id = ?", id).First(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrDefinitionNotFound
		}
		return nil, err
	}
	return &def, nil
}

func (r *RecurringRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.RecurringDefinition, error) {
	var defs []*model.RecurringDefinition
	err := conn(ctx, r.db).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&defs).Error
	return defs, err
}

// GetDueDefinitions 查询到期且可执行的定义
// RUNNING / COMPLETED / PAUSED 不参与本轮调度
func (r *RecurringRepository) GetDueDefinitions(ctx context.Context, now time.Time, limit int) ([]*model.RecurringDefinition, error) {
	var defs []*model.RecurringDefinition
	err := conn(ctx, r.db).
		Where("next_run_at <= ? AND state IN ?", now, []string{model.RecurringStateActive, model.RecurringStateError}).
		Order("next_run_at ASC, id ASC").
		Limit(limit).
		Find(&defs).Error
	return defs, err
}

// UpdateState 状态流转，WHERE 带上原状态做 CAS，防止并发重复推进
func (r *RecurringRepository) UpdateState(ctx context.Context, id int64, fromState, toState string) error {
	if !model.CanTransitionTo(fromState, toState) {
		return model.ErrStateInvalid
	}

	result := conn(ctx, r.db).
		Model(&model.RecurringDefinition{}).
		Where("id = ? AND state = ?", id, fromState).
		Update("state", toState)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrStateInvalid
	}
	return nil
}

// ClaimDue 抢占一个到期定义：ACTIVE/ERROR -> RUNNING
//
// WHERE 同时校验状态和 next_run_at <= now。调度者手里的定义可能是旧数据，
// 别的 tick 已经扣完并推进了 next_run_at 时这里影响行数为 0，同一期不会扣两次
func (r *RecurringRepository) ClaimDue(ctx context.Context, id int64, fromState string, now time.Time) error {
	if !model.CanTransitionTo(fromState, model.RecurringStateRunning) {
		return model.ErrStateInvalid
	}

	result := conn(ctx, r.db).
		Model(&model.RecurringDefinition{}).
		Where("id = ? AND state = ? AND next_run_at <= ?", id, fromState, now).
		Update("state", model.RecurringStateRunning)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrStateInvalid
	}
	return nil
}

// GetStuckRunning 查询 before 之前就进入 RUNNING 且一直没有结果的定义
// 扣款和标记成功在同一个事务里，停在 RUNNING 说明这一期没有扣款
func (r *RecurringRepository) GetStuckRunning(ctx context.Context, before time.Time, limit int) ([]*model.RecurringDefinition, error) {
	var defs []*model.RecurringDefinition
	err := conn(ctx, r.db).
		Where("state = ? AND updated_at < ?", model.RecurringStateRunning, before).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&defs).Error
	return defs, err
}

// MarkStuckFailed 卡住的 RUNNING -> ERROR，updated_at 条件防止误伤刚被抢占的定义
func (r *RecurringRepository) MarkStuckFailed(ctx context.Context, id int64, errMsg string, before time.Time) error {
	result := conn(ctx, r.db).
		Model(&model.RecurringDefinition{}).
		Where("id = ? AND state = ? AND updated_at < ?", id, model.RecurringStateRunning, before).
		Updates(map[string]interface{}{
			"state":         model.RecurringStateError,
			"error_message": truncate(errMsg, 512),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrStateInvalid
	}
	return nil
}

// MarkSuccess 扣款成功：推进下次执行时间，清空错误信息，RUNNING -> ACTIVE
func (r *RecurringRepository) MarkSuccess(ctx context.Context, id int64, nextRunAt, ranAt time.Time, incrementPayments bool) error {
	updates := map[string]interface{}{
		"state":         model.RecurringStateActive,
		"next_run_at":   nextRunAt,
		"last_run_at":   ranAt,
		"error_message": "",
	}
	if incrementPayments {
		updates["payments_made"] = gorm.Expr("payments_made + 1")
	}
	return r.updateRunning(ctx, id, updates)
}

// MarkFailed 扣款失败：RUNNING -> ERROR，下次执行时间不变，等待下一次 tick
func (r *RecurringRepository) MarkFailed(ctx context.Context, id int64, errMsg string, ranAt time.Time) error {
	return r.updateRunning(ctx, id, map[string]interface{}{
		"state":         model.RecurringStateError,
		"error_message": truncate(errMsg, 512),
		"last_run_at":   ranAt,
	})
}

func (r *RecurringRepository) updateRunning(ctx context.Context, id int64, updates map[string]interface{}) error {
	result := conn(ctx, r.db).
		Model(&model.RecurringDefinition{}).
		Where("id = ? AND state = ?", id, model.RecurringStateRunning).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrStateInvalid
	}
	return nil
}

// CreateLog 追加执行日志，日志表没有更新和删除方法
func (r *RecurringRepository) CreateLog(ctx context.Context, log *model.RecurringExecutionLog) error {
	return conn(ctx, r.db).Create(log).Error
}

func (r *RecurringRepository) ListLogs(ctx context.Context, definitionID int64, limit int) ([]*model.RecurringExecutionLog, error) {
	var logs []*model.RecurringExecutionLog
	err := conn(ctx, r.db).
		Where("definition_id = ?", definitionID).
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// Reschedule 恢复暂停时重新计算下次执行时间
func (r *RecurringRepository) Reschedule(ctx context.Context, id int64, nextRunAt time.Time) error {
	return conn(ctx, r.db).
		Model(&model.RecurringDefinition{}).
		Where("id = ?", id).
		Update("next_run_at", nextRunAt).Error
}
