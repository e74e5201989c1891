package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"finledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MovementInput 一条资金变动历史
type MovementInput struct {
	Entity        model.EntityRef
	UserID        int64
	CorrelationID string
	Kind          string
	Delta         decimal.Decimal
	CurrencyCode  string
	BalanceAfter  decimal.Decimal
	Metadata      map[string]string
}

// MovementRepository 资金变动历史，按 (实体, 关联单号) 幂等写入
type MovementRepository struct {
	db *gorm.DB
}

func NewMovementRepository(db *gorm.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// RecordMovement 同一实体同一关联单号重复写入时覆盖旧记录，不产生重复历史
func (r *MovementRepository) RecordMovement(ctx context.Context, in MovementInput) error {
	metadata := "{}"
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return fmt.Errorf("序列化变动元数据失败: %w", err)
		}
		metadata = string(raw)
	}

	record := &model.MovementRecord{
		EntityKind:    in.Entity.Kind,
		EntityID:      in.Entity.ID,
		CorrelationID: in.CorrelationID,
		UserID:        in.UserID,
		Kind:          in.Kind,
		Delta:         in.Delta,
		CurrencyCode:  in.CurrencyCode,
		BalanceAfter:  in.BalanceAfter,
		Metadata:      metadata,
	}

	return conn(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity_kind"}, {Name: "entity_id"}, {Name: "correlation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"kind", "delta", "currency_code", "balance_after", "metadata", "updated_at",
			}),
		}).
		Create(record).Error
}

func (r *MovementRepository) ListByEntity(ctx context.Context, ref model.EntityRef) ([]*model.MovementRecord, error) {
	var records []*model.MovementRecord
	err := conn(ctx, r.db).
		Where("entity_kind = ? AND entity_id = ?", ref.Kind, ref.ID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

func (r *MovementRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]*model.MovementRecord, error) {
	var records []*model.MovementRecord
	err := conn(ctx, r.db).
		Where("correlation_id = ?", correlationID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}
