package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"poliux/internal/domain"
	"poliux/internal/infra/metrics"
)

// DefaultRedisMaxLen ограничивает длину списка событий.
const DefaultRedisMaxLen = 10000

// RedisEventQueue публикует события отчётов в Redis list.
// Внешние потребители читают список с другого конца через BRPOP.
type RedisEventQueue struct {
	client *redis.Client
	key    string
	maxLen int64
}

var _ domain.ReportEventPublisher = (*RedisEventQueue)(nil)

// NewRedisEventQueue создаёт очередь по указанному ключу.
func NewRedisEventQueue(client *redis.Client, key string) *RedisEventQueue {
	return &RedisEventQueue{client: client, key: key, maxLen: DefaultRedisMaxLen}
}

// Publish реализует domain.ReportEventPublisher.
func (q *RedisEventQueue) Publish(ctx context.Context, ev domain.ReportEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, q.key, payload)
		p.LTrim(ctx, q.key, 0, q.maxLen-1)
		return nil
	})
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Pop блокирующе читает самое старое событие.
func (q *RedisEventQueue) Pop(ctx context.Context) (domain.ReportEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ReportEvent{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			// Дедлайн контекста может прийти как сетевой таймаут чтения.
			if ctx.Err() != nil {
				return domain.ReportEvent{}, ctx.Err()
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.ReportEvent{}, err
		}
		if len(res) != 2 {
			return domain.ReportEvent{}, errors.New("redis queue: unexpected response")
		}
		var ev domain.ReportEvent
		if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
			return domain.ReportEvent{}, fmt.Errorf("decode event: %w", err)
		}
		return ev, nil
	}
}
