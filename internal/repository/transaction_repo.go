package repository

import (
	"context"
	"errors"

	"finledger/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, trans *model.Transaction) error {
	return conn(ctx, r.db).Create(trans).Error
}

// Save 整行覆盖，编辑交易和回写换算结果都走这里
func (r *TransactionRepository) Save(ctx context.Context, trans *model.Transaction) error {
	return conn(ctx, r.db).Save(trans).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, userID, id int64) (*model.Transaction, error) {
	var trans model.Transaction
	err := conn(ctx, r.db).Where("id = ? AND user_id = ?", id, userID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) Delete(ctx context.Context, id int64) error {
	result := conn(ctx, r.db).Where("id = ?", id).Delete(&model.Transaction{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrTransactionNotFound
	}
	return nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := conn(ctx, r.db).Model(&model.Transaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("effective_date DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
