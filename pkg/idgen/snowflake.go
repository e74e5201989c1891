package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 【为什么需要分布式ID？】
//
//   交易号、转账单号、周期扣款执行号都要求全局唯一且趋势递增，
//   便于数据库索引和对账
//
// 【雪花算法结构】64位
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//   |   |            |            |
//   |   |            |            +-- 同一毫秒内的序列号（0-4095）
//   |   |            +-- 机器ID（0-1023）
//   |   +-- 毫秒级时间戳（可用约69年）
//   +-- 符号位，始终为0
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10                   // 机器ID位数
	sequenceBits   = 12                   // 序列号位数
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init 初始化默认ID生成器，只有第一次调用生效
func Init(workerID int64) error {
	if workerID < 0 || workerID > maxWorkerID {
		return fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	once.Do(func() {
		defaultGenerator = &Snowflake{workerID: workerID}
	})
	return nil
}

// NextID 生成下一个ID
func NextID() int64 {
	once.Do(func() {
		defaultGenerator = &Snowflake{workerID: 1} // 默认使用 workerID = 1
	})
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		// 同一毫秒内，序列号递增
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		// 不同毫秒，序列号重置
		s.sequence = 0
	}

	s.timestamp = now

	// 组装ID
	id := ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence

	return id
}

// 业务单号格式：前缀 + 年月日时分秒 + 雪花ID后8位
// 例如：TXN2024011514305212345678
func generateNo(prefix string) string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s%08d", prefix, timestamp, id%100000000)
}

// GenerateTransactionNo 生成收支交易号
func GenerateTransactionNo() string {
	return generateNo("TXN")
}

// GenerateTransferNo 生成内部转账单号
func GenerateTransferNo() string {
	return generateNo("TRF")
}

// GenerateExecutionNo 生成周期扣款执行流水号
func GenerateExecutionNo() string {
	return generateNo("REC")
}

// GenerateAdjustmentNo 生成子账户创建/删除时的主账户调整单号
func GenerateAdjustmentNo() string {
	return generateNo("ADJ")
}
