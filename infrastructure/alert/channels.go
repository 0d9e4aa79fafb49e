package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hft-engine/infrastructure/logger"
)

// LogChannel 把告警写入结构化日志
type LogChannel struct {
	log  *logger.Logger
	name string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	return &LogChannel{log: logger.OrNop(log).Named("alert"), name: name}
}

// Send 按级别写日志
func (c *LogChannel) Send(a Alert) error {
	fields := make([]zap.Field, 0, len(a.Fields)+2)
	fields = append(fields, zap.String("level", string(a.Level)), zap.Time("ts", a.Timestamp))
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch a.Level {
	case LevelCritical:
		c.log.Error(a.Message, fields...)
	case LevelWarning:
		c.log.Warn(a.Message, fields...)
	default:
		c.log.Info(a.Message, fields...)
	}
	return nil
}

func (c *LogChannel) Name() string { return c.name }

// RedisPublisher 是 *redis.Client 的发布子集
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisChannel 把告警以 JSON 发布到 Redis pub/sub 频道
type RedisChannel struct {
	client  RedisPublisher
	topic   string
	timeout time.Duration
}

// NewRedisChannel topic 为空时使用 "hft:alerts"
func NewRedisChannel(client RedisPublisher, topic string) *RedisChannel {
	if topic == "" {
		topic = "hft:alerts"
	}
	return &RedisChannel{client: client, topic: topic, timeout: 500 * time.Millisecond}
}

func (c *RedisChannel) Send(a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.client.Publish(ctx, c.topic, payload).Err()
}

func (c *RedisChannel) Name() string { return "redis:" + c.topic }
