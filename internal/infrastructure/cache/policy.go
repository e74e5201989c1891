package cache

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// PausedByPolicyKey 套餐策略服务把超限用户的周期扣款 ID 写入这个集合
const PausedByPolicyKey = "recurring:paused_by_policy"

// RedisPolicyChecker 从 Redis 集合判断周期扣款是否被策略暂停
type RedisPolicyChecker struct {
	client *redis.Client
}

func NewRedisPolicyChecker(client *redis.Client) *RedisPolicyChecker {
	return &RedisPolicyChecker{client: client}
}

func (c *RedisPolicyChecker) IsPaused(ctx context.Context, definitionID int64) (bool, error) {
	return c.client.SIsMember(ctx, PausedByPolicyKey, strconv.FormatInt(definitionID, 10)).Result()
}
