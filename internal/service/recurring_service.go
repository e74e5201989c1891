package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finledger/internal/model"
	"finledger/internal/repository"
	"finledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	definitionTimeout = 30 * time.Second
	settleTimeout     = 10 * time.Second
	stuckMessage  = "执行中断，超时未完成"
)

// TickReport 一次调度的处理结果
type TickReport struct {
	Due       int
	Succeeded int
	Failed    int
	Paused    int
	Completed int
	Skipped   int // 状态已被其他调度推进
}

type RecurringService struct {
	txm           Transactor
	recurringRepo *repository.RecurringRepository
	engine        *BalanceEngine
	recorder      MovementRecorder
	events        EventPublisher
	notifier      Notifier
	policy        PolicyChecker
	logger        *zap.Logger
	batchSize     int
	now           func() time.Time
}

func NewRecurringService(
	txm Transactor,
	recurringRepo *repository.RecurringRepository,
	engine *BalanceEngine,
	recorder MovementRecorder,
	events EventPublisher,
	notifier Notifier,
	policy PolicyChecker,
	logger *zap.Logger,
	batchSize int,
) *RecurringService {
	if policy == nil {
		policy = NoopPolicyChecker{}
	}
	return &RecurringService{
		txm:           txm,
		recurringRepo: recurringRepo,
		engine:        engine,
		recorder:      recorder,
		events:        events,
		notifier:      notifier,
		policy:        policy,
		logger:        logger,
		batchSize:     batchSize,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟，测试用
func (s *RecurringService) SetClock(now func() time.Time) {
	s.now = now
}

type DefinitionRequest struct {
	UserID            int64
	Name              string
	Amount            decimal.Decimal
	CurrencyCode      string
	FrequencyKind     string
	FrequencyValue    string
	AccountID         *int64
	SubAccountID      *int64
	AffectsAccount    bool
	AffectsSubAccount bool
	TotalPayments     *int
}

// CreateDefinition 新建周期扣款，首次执行日期可以是当天
func (s *RecurringService) CreateDefinition(ctx context.Context, req *DefinitionRequest) (*model.RecurringDefinition, error) {
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(model.MoneyScale)) {
		return nil, model.ErrInvalidAmount
	}
	if strings.TrimSpace(req.CurrencyCode) == "" {
		return nil, fmt.Errorf("币种不能为空: %w", model.ErrInvalidRequest)
	}
	if err := ValidateFrequency(req.FrequencyKind, req.FrequencyValue); err != nil {
		return nil, err
	}
	if req.AffectsAccount && req.AccountID == nil {
		return nil, fmt.Errorf("扣主账户时必须指定账户: %w", model.ErrInvalidRequest)
	}
	if req.AffectsSubAccount && req.SubAccountID == nil {
		return nil, fmt.Errorf("扣子账户时必须指定子账户: %w", model.ErrInvalidRequest)
	}
	if !req.AffectsAccount && !req.AffectsSubAccount {
		return nil, fmt.Errorf("至少需要一个扣款对象: %w", model.ErrInvalidRequest)
	}
	if req.TotalPayments != nil && *req.TotalPayments <= 0 {
		return nil, fmt.Errorf("总期数必须大于0: %w", model.ErrInvalidRequest)
	}

	nextRunAt, err := FirstRunAt(req.FrequencyKind, req.FrequencyValue, s.now())
	if err != nil {
		return nil, err
	}

	def := &model.RecurringDefinition{
		UserID:            req.UserID,
		Name:              req.Name,
		Amount:            req.Amount,
		CurrencyCode:      strings.ToUpper(req.CurrencyCode),
		FrequencyKind:     req.FrequencyKind,
		FrequencyValue:    strings.TrimSpace(req.FrequencyValue),
		NextRunAt:         nextRunAt,
		State:             model.RecurringStateActive,
		AccountID:         req.AccountID,
		SubAccountID:      req.SubAccountID,
		AffectsAccount:    req.AffectsAccount,
		AffectsSubAccount: req.AffectsSubAccount,
		TotalPayments:     req.TotalPayments,
	}
	if err := s.recurringRepo.Create(ctx, def); err != nil {
		return nil, fmt.Errorf("保存周期扣款失败: %w", err)
	}

	s.logger.Info("周期扣款已创建",
		zap.Int64("definition_id", def.ID),
		zap.Int64("user_id", def.UserID),
		zap.Time("next_run_at", def.NextRunAt),
	)
	return def, nil
}

func (s *RecurringService) Get(ctx context.Context, userID, id int64) (*model.RecurringDefinition, error) {
	def, err := s.recurringRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if def.UserID != userID {
		return nil, model.ErrDefinitionNotFound
	}
	return def, nil
}

func (s *RecurringService) List(ctx context.Context, userID int64) ([]*model.RecurringDefinition, error) {
	return s.recurringRepo.ListByUserID(ctx, userID)
}

// Pause 手动暂停，ACTIVE 和 ERROR 可以暂停
func (s *RecurringService) Pause(ctx context.Context, userID, id int64) error {
	def, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	return s.recurringRepo.UpdateState(ctx, def.ID, def.State, model.RecurringStatePaused)
}

// Resume 恢复暂停的定义；错过的执行日不补扣，从今天起重新计算
func (s *RecurringService) Resume(ctx context.Context, userID, id int64) error {
	def, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	return s.txm.InTx(ctx, func(ctx context.Context) error {
		if err := s.recurringRepo.UpdateState(ctx, def.ID, def.State, model.RecurringStateActive); err != nil {
			return err
		}
		if !def.NextRunAt.Before(dateOf(s.now())) {
			return nil
		}
		nextRunAt, err := FirstRunAt(def.FrequencyKind, def.FrequencyValue, s.now())
		if err != nil {
			return err
		}
		return s.recurringRepo.Reschedule(ctx, def.ID, nextRunAt)
	})
}

func (s *RecurringService) ListLogs(ctx context.Context, userID, id int64, limit int) ([]*model.RecurringExecutionLog, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.recurringRepo.ListLogs(ctx, id, limit)
}

// RunTick 执行一轮到期的周期扣款
//
// 定义之间按顺序处理、互相隔离：单个定义失败只会把它自己置为 ERROR，
// 不会中断本轮其他定义。返回的 error 只表示查询到期列表失败
func (s *RecurringService) RunTick(ctx context.Context) (*TickReport, error) {
	now := s.now()
	defs, err := s.recurringRepo.GetDueDefinitions(ctx, now, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("查询到期周期扣款失败: %w", err)
	}

	report := &TickReport{Due: len(defs)}
	for _, def := range defs {
		s.runOne(ctx, def, now, report)
	}

	s.logger.Info("周期扣款调度完成",
		zap.Int("due", report.Due),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("paused", report.Paused),
		zap.Int("completed", report.Completed),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *RecurringService) runOne(ctx context.Context, def *model.RecurringDefinition, now time.Time, report *TickReport) {
	// 单个定义一旦开始就执行到底，调用方取消不会让它停在 RUNNING
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), definitionTimeout)
	defer cancel()

	logger := s.logger.With(zap.Int64("definition_id", def.ID), zap.Int64("user_id", def.UserID))

	paused, err := s.policy.IsPaused(ctx, def.ID)
	if err != nil {
		// 策略服务不可用时本轮跳过，下一轮再判断
		logger.Warn("查询套餐策略失败，跳过本轮", zap.Error(err))
		report.Skipped++
		return
	}
	if paused {
		if err := s.recurringRepo.UpdateState(ctx, def.ID, def.State, model.RecurringStatePaused); err != nil {
			logger.Warn("按策略暂停失败", zap.Error(err))
			report.Skipped++
			return
		}
		logger.Info("周期扣款被套餐策略暂停")
		report.Paused++
		return
	}

	// 旧快照抢不到：状态或 next_run_at 已被其他调度推进
	if err := s.recurringRepo.ClaimDue(ctx, def.ID, def.State, now); err != nil {
		logger.Warn("周期扣款状态已变化，跳过", zap.String("state", def.State), zap.Error(err))
		report.Skipped++
		return
	}

	// 定长扣款已付清：直接完结，本次不扣款
	if def.Exhausted() {
		if err := s.recurringRepo.UpdateState(ctx, def.ID, model.RecurringStateRunning, model.RecurringStateCompleted); err != nil {
			logger.Error("周期扣款完结失败", zap.Error(err))
			report.Failed++
			return
		}
		logger.Info("定长周期扣款已完结", zap.Int("payments_made", def.PaymentsMade))
		report.Completed++
		return
	}

	execLog, err := s.charge(ctx, def, now)
	if err != nil {
		s.fail(ctx, def, now, fmt.Errorf("%w: %w", model.ErrExecution, err), logger)
		report.Failed++
		return
	}

	logger.Info("周期扣款成功",
		zap.String("execution_no", execLog.ExecutionNo),
		zap.String("amount", def.Amount.String()),
		zap.String("currency", def.CurrencyCode),
	)
	report.Succeeded++

	s.notify(ctx, def, execLog, logger)
}

// charge 扣款、写成功日志、推进下次执行时间，全部在一个数据库事务内
func (s *RecurringService) charge(ctx context.Context, def *model.RecurringDefinition, now time.Time) (*model.RecurringExecutionLog, error) {
	nextRunAt, err := NextRunAt(def.FrequencyKind, def.FrequencyValue, now)
	if err != nil {
		return nil, err
	}

	trans := chargeTransaction(def)
	execLog := &model.RecurringExecutionLog{
		ExecutionNo:  idgen.GenerateExecutionNo(),
		DefinitionID: def.ID,
		UserID:       def.UserID,
		Status:       model.ExecutionStatusSuccess,
		Amount:       def.Amount,
		CurrencyCode: def.CurrencyCode,
		ExecutedAt:   now,
	}

	err = s.txm.InTx(ctx, func(ctx context.Context) error {
		applied, err := s.engine.Apply(ctx, trans, DirectionApply)
		if err != nil {
			return err
		}

		execLog.AccountConversion = trans.AccountConversion
		execLog.SubAccountConversion = trans.SubAccountConversion
		if err := s.recurringRepo.CreateLog(ctx, execLog); err != nil {
			return fmt.Errorf("写执行日志失败: %w", err)
		}
		if err := s.recurringRepo.MarkSuccess(ctx, def.ID, nextRunAt, now, def.FixedTerm()); err != nil {
			return err
		}

		for _, leg := range applied.Legs {
			err := s.recorder.RecordMovement(ctx, repository.MovementInput{
				Entity:        leg.Entity,
				UserID:        def.UserID,
				CorrelationID: execLog.ExecutionNo,
				Kind:          model.MovementKindRecurring,
				Delta:         leg.Delta,
				CurrencyCode:  leg.CurrencyCode,
				BalanceAfter:  leg.BalanceAfter,
				Metadata: map[string]string{
					"definition_id": fmt.Sprint(def.ID),
					"name":          def.Name,
					"rate":          leg.Rate.String(),
				},
			})
			if err != nil {
				return fmt.Errorf("记录资金变动失败: %w", err)
			}
		}

		event := ledgerEvent(def.UserID, model.EventSourceRecurring, execLog.ExecutionNo, applied.Legs)
		return s.events.PublishLedgerChanged(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	return execLog, nil
}

// settleContext 失败状态用新的超时写入，单个定义的超时已耗尽时也能落库
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// fail 写失败日志并置为 ERROR，下次执行时间不变
func (s *RecurringService) fail(ctx context.Context, def *model.RecurringDefinition, now time.Time, cause error, logger *zap.Logger) {
	logger.Warn("周期扣款失败", zap.Error(cause))

	ctx, cancel := settleContext(ctx)
	defer cancel()

	execLog := &model.RecurringExecutionLog{
		ExecutionNo:  idgen.GenerateExecutionNo(),
		DefinitionID: def.ID,
		UserID:       def.UserID,
		Status:       model.ExecutionStatusFailed,
		Amount:       def.Amount,
		CurrencyCode: def.CurrencyCode,
		ErrorMessage: cause.Error(),
		ExecutedAt:   now,
	}
	err := s.txm.InTx(ctx, func(ctx context.Context) error {
		if err := s.recurringRepo.CreateLog(ctx, execLog); err != nil {
			return err
		}
		return s.recurringRepo.MarkFailed(ctx, def.ID, cause.Error(), now)
	})
	if err != nil {
		logger.Error("记录周期扣款失败状态出错", zap.Error(err))
	}
}

// RecoverStuck 把停在 RUNNING 超过 stuckAfter 的定义置为 ERROR，由下一轮调度重试
//
// 扣款与 MarkSuccess 在同一事务内，仍是 RUNNING 说明本期没有扣款，
// 只需写一条失败日志，不需要冲正
func (s *RecurringService) RecoverStuck(ctx context.Context, stuckAfter time.Duration) (int, error) {
	now := s.now()
	before := now.Add(-stuckAfter)
	defs, err := s.recurringRepo.GetStuckRunning(ctx, before, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("查询执行中断的周期扣款失败: %w", err)
	}

	recovered := 0
	for _, def := range defs {
		logger := s.logger.With(zap.Int64("definition_id", def.ID), zap.Int64("user_id", def.UserID))
		execLog := &model.RecurringExecutionLog{
			ExecutionNo:  idgen.GenerateExecutionNo(),
			DefinitionID: def.ID,
			UserID:       def.UserID,
			Status:       model.ExecutionStatusFailed,
			Amount:       def.Amount,
			CurrencyCode: def.CurrencyCode,
			ErrorMessage: stuckMessage,
			ExecutedAt:   now,
		}
		err := s.txm.InTx(ctx, func(ctx context.Context) error {
			if err := s.recurringRepo.MarkStuckFailed(ctx, def.ID, stuckMessage, before); err != nil {
				return err
			}
			return s.recurringRepo.CreateLog(ctx, execLog)
		})
		if err != nil {
			// 期间已被正常收尾的定义会落到这里
			logger.Warn("恢复执行中断的周期扣款失败", zap.Error(err))
			continue
		}
		logger.Warn("周期扣款执行中断，已置为 ERROR",
			zap.Time("updated_at", def.UpdatedAt),
			zap.Time("next_run_at", def.NextRunAt),
		)
		recovered++
	}
	return recovered, nil
}

// notify 推送失败只记日志
func (s *RecurringService) notify(ctx context.Context, def *model.RecurringDefinition, execLog *model.RecurringExecutionLog, logger *zap.Logger) {
	if s.notifier == nil {
		return
	}
	title := "周期扣款成功"
	body := fmt.Sprintf("%s 已扣款 %s %s", def.Name, def.Amount.StringFixed(model.MoneyScale), def.CurrencyCode)
	metadata := map[string]string{
		"definition_id": fmt.Sprint(def.ID),
		"execution_no":  execLog.ExecutionNo,
	}
	if err := s.notifier.Notify(ctx, def.UserID, title, body, metadata); err != nil {
		logger.Warn("发送扣款通知失败", zap.Error(err))
	}
}

// chargeTransaction 把一次周期扣款表示成一笔支出交易交给余额引擎
func chargeTransaction(def *model.RecurringDefinition) *model.Transaction {
	trans := &model.Transaction{
		UserID:       def.UserID,
		Type:         model.TransactionTypeExpense,
		Amount:       def.Amount,
		CurrencyCode: def.CurrencyCode,
	}
	if def.AffectsSubAccount {
		trans.SubAccountID = def.SubAccountID
	}
	if def.AffectsAccount {
		trans.AccountID = def.AccountID
		trans.AffectsAccount = true
	}
	return trans
}

