package repository

import (
	"context"
	"errors"
	"fmt"

	"finledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create 同一用户重复开主账户时返回 ErrPrincipalExists
func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	err := conn(ctx, r.db).Create(account).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.ErrPrincipalExists
	}
	return err
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	err := conn(ctx, r.db).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetPrincipal 查询用户主账户，不存在时返回 nil
func (r *AccountRepository) GetPrincipal(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	err := conn(ctx, r.db).
		Where("user_id = ? AND is_principal = ?", userID, true).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// Increment 原子增减余额，返回变动后的余额
//
// guard=true 且 delta 为负时使用条件更新：
//
//	UPDATE account SET balance = balance + delta WHERE id = ? AND balance >= -delta
//
// 影响行数为 0 说明余额不足（或账户不存在），余额保持不变
func (r *AccountRepository) Increment(ctx context.Context, id int64, delta decimal.Decimal, guard bool) (decimal.Decimal, error) {
	db := conn(ctx, r.db)
	result := incrementBalance(db, &model.Account{}, id, delta, guard)
	if result.Error != nil {
		return decimal.Zero, result.Error
	}

	account, err := r.GetByID(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if result.RowsAffected == 0 {
		return decimal.Zero, fmt.Errorf("账户 %d 当前余额 %s: %w", id, account.Balance, model.ErrInsufficientFunds)
	}
	return account.Balance, nil
}

type SubAccountRepository struct {
	db *gorm.DB
}

func NewSubAccountRepository(db *gorm.DB) *SubAccountRepository {
	return &SubAccountRepository{db: db}
}

func (r *SubAccountRepository) Create(ctx context.Context, sub *model.SubAccount) error {
	return conn(ctx, r.db).Create(sub).Error
}

func (r *SubAccountRepository) GetByID(ctx context.Context, id int64) (*model.SubAccount, error) {
	var sub model.SubAccount
	err := conn(ctx, r.db).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrSubAccountNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubAccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.SubAccount, error) {
	var subs []*model.SubAccount
	err := conn(ctx, r.db).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *SubAccountRepository) Delete(ctx context.Context, id int64) error {
	result := conn(ctx, r.db).Where("id = ?", id).Delete(&model.SubAccount{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrSubAccountNotFound
	}
	return nil
}

func (r *SubAccountRepository) Increment(ctx context.Context, id int64, delta decimal.Decimal, guard bool) (decimal.Decimal, error) {
	db := conn(ctx, r.db)
	result := incrementBalance(db, &model.SubAccount{}, id, delta, guard)
	if result.Error != nil {
		return decimal.Zero, result.Error
	}

	sub, err := r.GetByID(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if result.RowsAffected == 0 {
		return decimal.Zero, fmt.Errorf("子账户 %d 当前余额 %s: %w", id, sub.Balance, model.ErrInsufficientFunds)
	}
	return sub.Balance, nil
}

func incrementBalance(db *gorm.DB, target interface{}, id int64, delta decimal.Decimal, guard bool) *gorm.DB {
	query := db.Model(target).Where("id = ?", id)
	if guard && delta.IsNegative() {
		query = query.Where("balance >= ?", delta.Neg())
	}
	return query.Updates(map[string]interface{}{
		"balance": gorm.Expr("balance + ?", delta),
		"version": gorm.Expr("version + 1"),
	})
}

// LedgerRepository 把主账户和子账户统一成记账实体
type LedgerRepository struct {
	accounts    *AccountRepository
	subAccounts *SubAccountRepository
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{
		accounts:    NewAccountRepository(db),
		subAccounts: NewSubAccountRepository(db),
	}
}

func (r *LedgerRepository) GetEntity(ctx context.Context, ref model.EntityRef) (*model.LedgerEntity, error) {
	switch ref.Kind {
	case model.EntityKindAccount:
		account, err := r.accounts.GetByID(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return account.Entity(), nil
	case model.EntityKindSubAccount:
		sub, err := r.subAccounts.GetByID(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return sub.Entity(), nil
	default:
		return nil, fmt.Errorf("未知实体类型 %q: %w", ref.Kind, model.ErrInvalidRequest)
	}
}

func (r *LedgerRepository) Increment(ctx context.Context, ref model.EntityRef, delta decimal.Decimal, guard bool) (decimal.Decimal, error) {
	switch ref.Kind {
	case model.EntityKindAccount:
		return r.accounts.Increment(ctx, ref.ID, delta, guard)
	case model.EntityKindSubAccount:
		return r.subAccounts.Increment(ctx, ref.ID, delta, guard)
	default:
		return decimal.Zero, fmt.Errorf("未知实体类型 %q: %w", ref.Kind, model.ErrInvalidRequest)
	}
}
