package repository

import (
	"context"
	"errors"

	"finledger/internal/model"

	"gorm.io/gorm"
)

type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Create 写入转账记录；(user_id, idempotency_key) 冲突时返回 gorm.ErrDuplicatedKey
func (r *TransferRepository) Create(ctx context.Context, transfer *model.InternalTransfer) error {
	return conn(ctx, r.db).Create(transfer).Error
}

// GetByIdempotencyKey 不存在时返回 nil
func (r *TransferRepository) GetByIdempotencyKey(ctx context.Context, userID int64, key string) (*model.InternalTransfer, error) {
	var transfer model.InternalTransfer
	err := conn(ctx, r.db).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&transfer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &transfer, nil
}

func (r *TransferRepository) GetByTransferNo(ctx context.Context, userID int64, transferNo string) (*model.InternalTransfer, error) {
	var transfer model.InternalTransfer
	err := conn(ctx, r.db).
		Where("user_id = ? AND transfer_no = ?", userID, transferNo).
		First(&transfer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrTransferNotFound
		}
		return nil, err
	}
	return &transfer, nil
}

func (r *TransferRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.InternalTransfer, int64, error) {
	var transfers []*model.InternalTransfer
	var total int64

	query := conn(ctx, r.db).Model(&model.InternalTransfer{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transfers).Error

	return transfers, total, err
}
