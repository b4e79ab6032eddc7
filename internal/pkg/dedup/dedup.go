package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper 判定一个事件是否已经处理过。
// Kafka 是至少一次投递，消费者必须自己按 eventId 去重。
type Deduper interface {
	// MarkIfFirst 第一次见到该 eventID 时记录并返回 true；重复返回 false。
	MarkIfFirst(ctx context.Context, eventID string) (bool, error)

	// Unmark 撤销标记。处理失败时必须调用，否则 broker 的重投
	// 会被当成重复直接丢掉，事件就永远丢失了。
	Unmark(ctx context.Context, eventID string) error
}

// RedisDeduper 用 SETNX + TTL 实现去重。
// TTL 过期后的重复投递会被再处理一次，窗口要覆盖 broker 的最大重投间隔。
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, prefix string) *RedisDeduper {
	return &RedisDeduper{
		client: client,
		prefix: prefix,
		ttl:    24 * time.Hour,
	}
}

func (d *RedisDeduper) MarkIfFirst(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+":event:"+eventID, 1, d.ttl).Result()
}

func (d *RedisDeduper) Unmark(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, d.prefix+":event:"+eventID).Err()
}
