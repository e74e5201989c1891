package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StuckRecoverer 处理停在 RUNNING 的周期扣款定义
type StuckRecoverer interface {
	RecoverStuck(ctx context.Context, stuckAfter time.Duration) (int, error)
}

// RecurringCompensateJob 进程在扣款途中退出时定义会停在 RUNNING，
// 调度只拾取 ACTIVE/ERROR，这里定期把它们放回 ERROR 交给下一轮重试
type RecurringCompensateJob struct {
	recoverer  StuckRecoverer
	logger     *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	stuckAfter time.Duration
}

func NewRecurringCompensateJob(recoverer StuckRecoverer, interval, stuckAfter time.Duration, logger *zap.Logger) *RecurringCompensateJob {
	return &RecurringCompensateJob{
		recoverer:  recoverer,
		logger:     logger.Named("recurring_compensate"),
		stopCh:     make(chan struct{}),
		interval:   interval,
		stuckAfter: stuckAfter,
	}
}

func (j *RecurringCompensateJob) Start(ctx context.Context) {
	j.logger.Info("补偿任务启动", zap.Duration("stuck_after", j.stuckAfter))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.Compensate(ctx)
		}
	}
}

func (j *RecurringCompensateJob) Stop() {
	close(j.stopCh)
}

// Compensate 执行一次补偿
func (j *RecurringCompensateJob) Compensate(ctx context.Context) int {
	recovered, err := j.recoverer.RecoverStuck(ctx, j.stuckAfter)
	if err != nil {
		j.logger.Error("补偿执行中断的周期扣款失败", zap.Error(err))
		return 0
	}
	if recovered > 0 {
		j.logger.Warn("已补偿执行中断的周期扣款", zap.Int("count", recovered))
	}
	return recovered
}
