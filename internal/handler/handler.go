package handler

import (
	"context"
	"strconv"
	"time"

	"finledger/internal/model"
	"finledger/internal/service"
	"finledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TickTrigger 加锁执行一轮周期扣款
type TickTrigger interface {
	Trigger(ctx context.Context) (*service.TickReport, error)
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	ledgerService      *service.LedgerService
	transactionService *service.TransactionService
	transferService    *service.TransferService
	recurringService   *service.RecurringService
	tickTrigger        TickTrigger
	logger             *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(
	ledgerService *service.LedgerService,
	transactionService *service.TransactionService,
	transferService *service.TransferService,
	recurringService *service.RecurringService,
	tickTrigger TickTrigger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		ledgerService:      ledgerService,
		transactionService: transactionService,
		transferService:    transferService,
		recurringService:   recurringService,
		tickTrigger:        tickTrigger,
		logger:             logger,
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalances 查询主账户和子账户余额
// GET /api/v1/account/balances?user_id=xxx
func (h *Handler) GetBalances(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	balances, err := h.ledgerService.GetBalances(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, balances)
}

type CreateAccountRequest struct {
	UserID         int64           `json:"user_id" binding:"required"`
	CurrencyCode   string          `json:"currency_code" binding:"required"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// CreateAccount 创建主账户
// POST /api/v1/account/create
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.ledgerService.CreateAccount(c.Request.Context(), req.UserID, req.CurrencyCode, req.InitialBalance)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, account)
}

type CreateSubAccountRequest struct {
	UserID          int64           `json:"user_id" binding:"required"`
	Name            string          `json:"name" binding:"required"`
	CurrencyCode    string          `json:"currency_code" binding:"required"`
	InitialBalance  decimal.Decimal `json:"initial_balance"`
	LinkedAccountID *int64          `json:"linked_account_id"`
	AffectsAccount  bool            `json:"affects_account"`
	Earmarked       bool            `json:"earmarked"` // 从主账户已有余额划拨
}

// CreateSubAccount 创建子账户
// POST /api/v1/sub-account/create
func (h *Handler) CreateSubAccount(c *gin.Context) {
	var req CreateSubAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	sub, err := h.ledgerService.CreateSubAccount(c.Request.Context(), &service.SubAccountRequest{
		UserID:          req.UserID,
		Name:            req.Name,
		CurrencyCode:    req.CurrencyCode,
		InitialBalance:  req.InitialBalance,
		LinkedAccountID: req.LinkedAccountID,
		AffectsAccount:  req.AffectsAccount,
		Earmarked:       req.Earmarked,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, sub)
}

type IDRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	ID     int64 `json:"id" binding:"required"`
}

// DeleteSubAccount 删除子账户
// POST /api/v1/sub-account/delete
func (h *Handler) DeleteSubAccount(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.ledgerService.DeleteSubAccount(c.Request.Context(), req.UserID, req.ID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "子账户已删除"})
}

// ============================================================
// 交易相关接口
// ============================================================

type TransactionRequest struct {
	UserID         int64           `json:"user_id" binding:"required"`
	Type           string          `json:"type" binding:"required,oneof=INCOME EXPENSE"`
	Amount         decimal.Decimal `json:"amount"`
	CurrencyCode   string          `json:"currency_code" binding:"required"`
	AccountID      *int64          `json:"account_id"`
	SubAccountID   *int64          `json:"sub_account_id"`
	AffectsAccount bool            `json:"affects_account"`
	Description    string          `json:"description"`
	EffectiveDate  time.Time       `json:"effective_date"`
}

func (r *TransactionRequest) toService() *service.TransactionRequest {
	return &service.TransactionRequest{
		UserID:         r.UserID,
		Type:           r.Type,
		Amount:         r.Amount,
		CurrencyCode:   r.CurrencyCode,
		AccountID:      r.AccountID,
		SubAccountID:   r.SubAccountID,
		AffectsAccount: r.AffectsAccount,
		Description:    r.Description,
		EffectiveDate:  r.EffectiveDate,
	}
}

// CreateTransaction 记一笔收支
// POST /api/v1/transaction/create
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.transactionService.Create(c.Request.Context(), req.toService())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, trans)
}

type UpdateTransactionRequest struct {
	ID int64 `json:"id" binding:"required"`
	TransactionRequest
}

// UpdateTransaction 修改收支，余额按新旧差异调整
// POST /api/v1/transaction/update
func (h *Handler) UpdateTransaction(c *gin.Context) {
	var req UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.transactionService.Update(c.Request.Context(), req.ID, req.toService())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, trans)
}

// DeleteTransaction 删除收支并撤销余额影响
// POST /api/v1/transaction/delete
func (h *Handler) DeleteTransaction(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.transactionService.Delete(c.Request.Context(), req.UserID, req.ID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "交易已删除"})
}

// GetTransaction 查询交易详情
// GET /api/v1/transaction/detail?user_id=xxx&id=xxx
func (h *Handler) GetTransaction(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	id, ok := queryInt64(c, "id")
	if !ok {
		return
	}

	trans, err := h.transactionService.Get(c.Request.Context(), userID, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, trans)
}

// ListTransactions 查询交易列表
// GET /api/v1/transaction/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	list, total, err := h.transactionService.List(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 转账相关接口
// ============================================================

type TransferRequest struct {
	UserID         int64           `json:"user_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Origin         model.EntityRef `json:"origin"`
	Dest           model.EntityRef `json:"dest"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Transfer 内部转账
// POST /api/v1/transfer/execute
//
// 相同 idempotency_key 重复提交只会执行一次，返回第一次的结果
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if key := c.GetHeader("Idempotency-Key"); req.IdempotencyKey == "" && key != "" {
		req.IdempotencyKey = key
	}

	result, err := h.transferService.Transfer(c.Request.Context(), &service.TransferRequest{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Origin:         req.Origin,
		Dest:           req.Dest,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"transfer":   result.Transfer,
		"idempotent": result.Idempotent,
	})
}

// GetTransfer 查询转账详情
// GET /api/v1/transfer/detail?user_id=xxx&transfer_no=xxx
func (h *Handler) GetTransfer(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	transferNo := c.Query("transfer_no")
	if transferNo == "" {
		response.ParamError(c, "transfer_no 参数不能为空")
		return
	}

	transfer, err := h.transferService.Get(c.Request.Context(), userID, transferNo)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, transfer)
}

// ListTransfers 查询转账列表
// GET /api/v1/transfer/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransfers(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	list, total, err := h.transferService.List(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 周期扣款相关接口
// ============================================================

type CreateRecurringRequest struct {
	UserID            int64           `json:"user_id" binding:"required"`
	Name              string          `json:"name" binding:"required"`
	Amount            decimal.Decimal `json:"amount"`
	CurrencyCode      string          `json:"currency_code" binding:"required"`
	FrequencyKind     string          `json:"frequency_kind" binding:"required,oneof=WEEKDAY DAY_OF_MONTH ANNUAL_DATE"`
	FrequencyValue    string          `json:"frequency_value" binding:"required"`
	AccountID         *int64          `json:"account_id"`
	SubAccountID      *int64          `json:"sub_account_id"`
	AffectsAccount    bool            `json:"affects_account"`
	AffectsSubAccount bool            `json:"affects_sub_account"`
	TotalPayments     *int            `json:"total_payments"`
}

// CreateRecurring 新建周期扣款
// POST /api/v1/recurring/create
func (h *Handler) CreateRecurring(c *gin.Context) {
	var req CreateRecurringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	def, err := h.recurringService.CreateDefinition(c.Request.Context(), &service.DefinitionRequest{
		UserID:            req.UserID,
		Name:              req.Name,
		Amount:            req.Amount,
		CurrencyCode:      req.CurrencyCode,
		FrequencyKind:     req.FrequencyKind,
		FrequencyValue:    req.FrequencyValue,
		AccountID:         req.AccountID,
		SubAccountID:      req.SubAccountID,
		AffectsAccount:    req.AffectsAccount,
		AffectsSubAccount: req.AffectsSubAccount,
		TotalPayments:     req.TotalPayments,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, def)
}

// ListRecurring 查询周期扣款列表
// GET /api/v1/recurring/list?user_id=xxx
func (h *Handler) ListRecurring(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}

	defs, err := h.recurringService.List(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": defs})
}

// PauseRecurring 暂停周期扣款
// POST /api/v1/recurring/pause
func (h *Handler) PauseRecurring(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.recurringService.Pause(c.Request.Context(), req.UserID, req.ID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "周期扣款已暂停"})
}

// ResumeRecurring 恢复周期扣款
// POST /api/v1/recurring/resume
func (h *Handler) ResumeRecurring(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.recurringService.Resume(c.Request.Context(), req.UserID, req.ID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "周期扣款已恢复"})
}

// ListRecurringLogs 查询执行日志
// GET /api/v1/recurring/logs?user_id=xxx&id=xxx&limit=20
func (h *Handler) ListRecurringLogs(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	id, ok := queryInt64(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	logs, err := h.recurringService.ListLogs(c.Request.Context(), userID, id, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": logs})
}

// RunRecurringTick 手动触发一轮周期扣款，运维补跑用
// 与定时调度共用 tick 锁，其他实例正在执行时返回冲突
// POST /api/v1/recurring/tick
func (h *Handler) RunRecurringTick(c *gin.Context) {
	report, err := h.tickTrigger.Trigger(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.logger.Info("手动触发周期扣款", zap.Int("due", report.Due), zap.String("client_ip", c.ClientIP()))
	response.Success(c, report)
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return v, true
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}
