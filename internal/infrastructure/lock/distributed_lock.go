package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【用在哪里？】
//
// 周期扣款调度器可能部署多个实例，每个实例的 cron 都会在同一时刻触发 tick。
// 单个定义有 ACTIVE -> RUNNING 的状态 CAS 保护，不会被重复扣款，
// 但多个实例同时扫描同一批定义只会互相抢占、徒增数据库压力。
// 所以 tick 开始前先抢一把全局锁，抢不到的实例直接跳过本轮。
//
// 转账不使用这把锁，转账的去重只依赖幂等键。
//
// 加锁：SET key value NX EX timeout
// 释放锁：Lua 脚本 "检查 value 再删除"，避免误删别人的锁
//
// ============================================================================

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// NewTickLock 周期扣款 tick 锁，value 使用实例+tick 标识便于排查
func NewTickLock(client *redis.Client, owner string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, "recurring:lock:tick", owner, ttl)
}
