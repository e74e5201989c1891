package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	MySQL     MySQLConfig        `mapstructure:"mysql"`
	Redis     RedisConfig        `mapstructure:"redis"`
	Kafka     KafkaConfig        `mapstructure:"kafka"`
	Business  BusinessConfig     `mapstructure:"business"`
	Scheduler SchedulerConfig    `mapstructure:"scheduler"`
	Log       LogConfig          `mapstructure:"log"`
	Rates     map[string]float64 `mapstructure:"rates"` // 币种 -> 相对同一基准的价值
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"` // 雪花算法机器ID，多实例部署时各不相同
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerChanged string `mapstructure:"ledger_changed"`
	Notification  string `mapstructure:"notification"`
}

type BusinessConfig struct {
	MaxRetryCount   int `mapstructure:"max_retry_count"`
	OutboxBatchSize int `mapstructure:"outbox_batch_size"`
}

type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	TickSpec      string `mapstructure:"tick_spec"`       // cron 表达式
	BatchSize     int    `mapstructure:"batch_size"`      // 单次 tick 最多处理的定义数
	LockTTLSecond int    `mapstructure:"lock_ttl_second"` // 多实例部署时 tick 锁的过期时间

	StuckAfterSecond         int `mapstructure:"stuck_after_second"`         // RUNNING 超过该时长视为执行中断
	CompensateIntervalSecond int `mapstructure:"compensate_interval_second"` // 补偿任务扫描间隔
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LoadConfig 加载配置文件，环境变量 FINLEDGER_* 可覆盖同名配置项
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FINLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_spec", "0 * * * *")
	v.SetDefault("scheduler.batch_size", 200)
	v.SetDefault("scheduler.lock_ttl_second", 300)
	v.SetDefault("scheduler.stuck_after_second", 600)
	v.SetDefault("scheduler.compensate_interval_second", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("kafka.topic.ledger_changed", "ledger.changed")
	v.SetDefault("kafka.topic.notification", "ledger.notification")
}

func (c *Config) Validate() error {
	if len(c.Rates) == 0 {
		return fmt.Errorf("配置缺少汇率表 rates")
	}
	for code, rate := range c.Rates {
		if rate <= 0 {
			return fmt.Errorf("币种 %s 的汇率必须大于0", code)
		}
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size 必须大于0")
	}
	// 卡住判定必须长于一轮 tick，否则会把正在扣款的定义误判为中断
	if c.Scheduler.StuckAfterSecond <= c.Scheduler.LockTTLSecond {
		return fmt.Errorf("scheduler.stuck_after_second 必须大于 lock_ttl_second")
	}
	return nil
}
