package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finledger/internal/config"
	"finledger/internal/handler"
	"finledger/internal/infrastructure/cache"
	"finledger/internal/infrastructure/database"
	"finledger/internal/infrastructure/lock"
	"finledger/internal/infrastructure/logger"
	"finledger/internal/infrastructure/mq"
	"finledger/internal/job"
	"finledger/internal/repository"
	"finledger/internal/service"
	"finledger/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	configPath := "config/config.yaml"
	if p := os.Getenv("FINLEDGER_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("服务异常退出", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}

	rates, err := service.NewStaticRateTable(cfg.Rates, time.Now().UTC())
	if err != nil {
		return err
	}
	converter := service.NewConversionService(rates)

	// 仓储
	txm := repository.NewTxManager(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	subAccountRepo := repository.NewSubAccountRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	transferRepo := repository.NewTransferRepository(db)
	recurringRepo := repository.NewRecurringRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	publisher := service.NewOutboxPublisher(outboxRepo, cfg.Kafka.Topic)

	// Redis 可选：提供 tick 锁和套餐策略
	var policy service.PolicyChecker = service.NoopPolicyChecker{}
	var tickLocker job.TickLocker
	if cfg.Redis.Host != "" {
		redisClient, err := cache.InitRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		hostname, _ := os.Hostname()
		owner := fmt.Sprintf("%s-%d", hostname, os.Getpid())
		ttl := time.Duration(cfg.Scheduler.LockTTLSecond) * time.Second
		tickLocker = lock.NewTickLock(redisClient, owner, ttl)
		policy = cache.NewRedisPolicyChecker(redisClient)
	}

	// 服务
	engine := service.NewBalanceEngine(ledgerRepo, converter, log.Named("balance_engine"))
	ledgerService := service.NewLedgerService(txm, accountRepo, subAccountRepo, ledgerRepo, converter, movementRepo, publisher, log.Named("ledger"))
	transactionService := service.NewTransactionService(txm, transactionRepo, engine, movementRepo, publisher, log.Named("transaction"))
	transferService := service.NewTransferService(txm, ledgerRepo, converter, transferRepo, movementRepo, publisher, log.Named("transfer"))
	recurringService := service.NewRecurringService(txm, recurringRepo, engine, movementRepo, publisher, publisher, policy, log.Named("recurring"), cfg.Scheduler.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Kafka 可选：未配置时消息留在本地消息表
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(outboxRepo, producer, log, cfg.Business.OutboxBatchSize, cfg.Business.MaxRetryCount)
		go outboxSender.Start(ctx)
	} else {
		log.Warn("未配置 Kafka，余额变动事件不会投递")
	}

	// 手动触发也走同一把 tick 锁，关闭定时调度时仍可用
	timeout := time.Duration(cfg.Scheduler.LockTTLSecond) * time.Second
	recurringJob := job.NewRecurringJob(recurringService, tickLocker, cfg.Scheduler.TickSpec, timeout, log)
	if cfg.Scheduler.Enabled {
		if err := recurringJob.Start(); err != nil {
			return err
		}

		compensateJob := job.NewRecurringCompensateJob(
			recurringService,
			time.Duration(cfg.Scheduler.CompensateIntervalSecond)*time.Second,
			time.Duration(cfg.Scheduler.StuckAfterSecond)*time.Second,
			log,
		)
		go compensateJob.Start(ctx)
	}

	h := handler.NewHandler(ledgerService, transactionService, transferService, recurringService, recurringJob, log.Named("http"))
	router := handler.SetupRouter(h, log.Named("http"))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	log.Info("正在关闭服务...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("服务关闭异常", zap.Error(err))
	}

	// 等待正在执行的 tick 跑完
	<-recurringJob.Stop().Done()

	log.Info("服务已关闭")
	return nil
}

func openDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	if cfg.MySQL.Host == "" {
		log.Warn("未配置 MySQL，使用内存 SQLite，数据不会持久化")
		return database.OpenSQLite()
	}
	return database.InitMySQL(&cfg.MySQL)
}
