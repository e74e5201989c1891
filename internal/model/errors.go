package model

import (
	"errors"
	"fmt"
)

// ============================================================================
// 错误分类
// ============================================================================
//
// 所有业务错误都归入下面四类之一，调用方用 errors.Is 判断类别：
//   ErrValidation - 参数/余额/币种校验失败，发生在任何余额变动之前
//   ErrNotFound   - 账户、子账户、交易、周期扣款、转账不存在
//   ErrConflict   - 状态流转不合法、主账户重复；幂等键冲突在转账内部消化
//   ErrExecution  - 周期扣款执行失败（记录为状态，不向上抛出）

var (
	ErrValidation = errors.New("参数校验失败")
	ErrNotFound   = errors.New("记录不存在")
	ErrConflict   = errors.New("数据冲突")
	ErrExecution  = errors.New("执行失败")
)

var (
	ErrInsufficientFunds = fmt.Errorf("%w: 余额不足", ErrValidation)
	ErrInvalidAmount     = fmt.Errorf("%w: 金额必须大于0", ErrValidation)
	ErrCurrencyNotFound  = fmt.Errorf("%w: 币种不存在", ErrValidation)
	ErrInvalidRequest    = fmt.Errorf("%w: 请求参数不合法", ErrValidation)
	ErrInvalidFrequency  = fmt.Errorf("%w: 周期配置不合法", ErrValidation)
)

var (
	ErrAccountNotFound     = fmt.Errorf("%w: 账户不存在", ErrNotFound)
	ErrSubAccountNotFound  = fmt.Errorf("%w: 子账户不存在", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("%w: 交易不存在", ErrNotFound)
	ErrDefinitionNotFound  = fmt.Errorf("%w: 周期扣款不存在", ErrNotFound)
	ErrTransferNotFound    = fmt.Errorf("%w: 转账记录不存在", ErrNotFound)
)

var (
	ErrStateInvalid    = fmt.Errorf("%w: 状态不合法", ErrConflict)
	ErrPrincipalExists = fmt.Errorf("%w: 主账户已存在", ErrConflict)
)
