package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finledger/internal/model"
	"finledger/internal/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrTickBusy 其他实例持有 tick 锁
var ErrTickBusy = fmt.Errorf("%w: 其他实例正在执行 tick", model.ErrConflict)

// TickRunner 执行一轮周期扣款
type TickRunner interface {
	RunTick(ctx context.Context) (*service.TickReport, error)
}

// TickLocker 多实例部署时保证同一时刻只有一个实例在跑 tick
type TickLocker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// RecurringJob 按 cron 表达式触发周期扣款
type RecurringJob struct {
	cron    *cron.Cron
	runner  TickRunner
	locker  TickLocker
	spec    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRecurringJob locker 为空时不加锁（单实例部署）
func NewRecurringJob(runner TickRunner, locker TickLocker, spec string, timeout time.Duration, logger *zap.Logger) *RecurringJob {
	logger = logger.Named("recurring_job")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &RecurringJob{
		cron:    c,
		runner:  runner,
		locker:  locker,
		spec:    spec,
		timeout: timeout,
		logger:  logger,
	}
}

func (j *RecurringJob) Start() error {
	if _, err := j.cron.AddFunc(j.spec, j.Run); err != nil {
		return fmt.Errorf("注册周期扣款任务失败: %w", err)
	}
	j.logger.Info("周期扣款任务启动", zap.String("schedule", j.spec))
	j.cron.Start()
	return nil
}

// Stop 停止触发新的 tick，返回的 context 在正在执行的 tick 结束后关闭
func (j *RecurringJob) Stop() context.Context {
	return j.cron.Stop()
}

// Run cron 触发入口
func (j *RecurringJob) Run() {
	if _, err := j.Trigger(context.Background()); err != nil {
		if errors.Is(err, ErrTickBusy) {
			j.logger.Info("其他实例正在执行 tick，跳过本轮")
			return
		}
		j.logger.Error("周期扣款 tick 失败", zap.Error(err))
	}
}

// Trigger 加锁执行一轮 tick，cron 和手动触发共用
//
// tick 使用独立的 context，调用方断开或服务停止时不会打断执行到一半的批次；
// 单个定义的扣款在各自的数据库事务里，批次中途不可取消
func (j *RecurringJob) Trigger(ctx context.Context) (*service.TickReport, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()

	if j.locker != nil {
		ok, err := j.locker.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取 tick 锁失败: %w", err)
		}
		if !ok {
			return nil, ErrTickBusy
		}
		defer func() {
			if err := j.locker.Unlock(context.Background()); err != nil {
				j.logger.Warn("释放 tick 锁失败", zap.Error(err))
			}
		}()
	}

	return j.runner.RunTick(ctx)
}
