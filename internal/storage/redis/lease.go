package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只有持有者才能释放租约
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func leaseKey(name string) string {
	return fmt.Sprintf("sweep:lease:%s", name)
}

// Acquire 尝试获取指定任务的租约，多副本部署时同一时刻只有一个副本执行该任务。
//
// 获取失败时 ok 为 false；release 只在 ok 为 true 时有效。
func (c *Client) Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = c.rdb.SetNX(ctx, leaseKey(name), token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	release = func() {
		// 任务的 ctx 可能已取消，释放使用独立的短超时
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, c.rdb, []string{leaseKey(name)}, token).Err(); err != nil && err != goredis.Nil {
			c.log.Warn("failed to release sweep lease", zap.String("name", name), zap.Error(err))
		}
	}
	return release, true, nil
}
