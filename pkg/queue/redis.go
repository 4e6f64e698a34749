package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultName Redis list 的默认 Key
const DefaultName = "tooltool:upload-complete"

// pollTimeout 单次 BRPOP 的阻塞时长；到期后检查 ctx 再继续
const pollTimeout = time.Second

type RedisConfig struct {
	URL  string // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	Name string // list key
}

// Redis 基于 Redis list 的跨进程队列：LPUSH 发布，BRPOP 消费
type Redis struct {
	client *redis.Client
	name   string
}

var _ Queue = (*Redis)(nil)

func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	return &Redis{client: client, name: name}, nil
}

func (q *Redis) Publish(ctx context.Context, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("redis lpush failed: %w", err)
	}
	return nil
}

func (q *Redis) Consume(ctx context.Context) (Message, error) {
	for {
		res, err := q.client.BRPop(ctx, pollTimeout, q.name).Result()
		if errors.Is(err, redis.Nil) {
			// 超时无消息
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return Message{}, ErrClosed
			}
			return Message{}, fmt.Errorf("redis brpop failed: %w", err)
		}

		// res = [key, value]
		if len(res) != 2 {
			continue
		}
		return Decode([]byte(res[1]))
	}
}

func (q *Redis) Close() error {
	return q.client.Close()
}
