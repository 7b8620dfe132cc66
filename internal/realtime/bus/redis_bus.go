package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/realtime"
)

const (
	defaultPrefix  = "postsecret"
	defaultLastTTL = 24 * time.Hour
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	// Channel prefixes every Redis key and pub/sub channel the bus touches.
	Channel string `yaml:"channel"`
	// LastTTL bounds how long a job's latest event stays readable after it was published.
	LastTTL time.Duration `yaml:"last_ttl"`
}

// redisBus publishes each job on its own Redis channel and keeps the latest event per job, so a
// late watcher sees current progress before the next batch reports.
type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	keys    keyspace
	lastTTL time.Duration
}

func NewRedisBus(log *logger.Logger, cfg RedisConfig) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	ttl := cfg.LastTTL
	if ttl <= 0 {
		ttl = defaultLastTTL
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:     log.With("service", "RedisJobBus"),
		rdb:     rdb,
		keys:    newKeyspace(cfg.Channel),
		lastTTL: ttl,
	}, nil
}

// New returns a Redis bus when an address is configured and a no-op bus otherwise.
func New(log *logger.Logger, cfg RedisConfig) (Bus, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return NewNoopBus(), nil
	}
	return NewRedisBus(log, cfg)
}

// Publish sends msg on its job channel and records it as that job's latest event.
func (b *redisBus) Publish(ctx context.Context, msg realtime.Message) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if strings.TrimSpace(msg.Channel) == "" {
		return fmt.Errorf("message channel required")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = b.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, b.keys.last(msg.Channel), raw, b.lastTTL)
		p.Publish(ctx, b.keys.channel(msg.Channel), raw)
		return nil
	})
	return err
}

// Last returns the most recent event published on channel, or nil when none is retained.
func (b *redisBus) Last(ctx context.Context, channel string) (*realtime.Message, error) {
	if b == nil || b.rdb == nil {
		return nil, fmt.Errorf("redis bus not initialized")
	}
	raw, err := b.rdb.Get(ctx, b.keys.last(channel)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msg, err := b.keys.decode(b.keys.channel(channel), raw)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// StartForwarder delivers events for the given channels, or for every job when none are named.
func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message), channels ...string) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	var sub *goredis.PubSub
	if len(channels) == 0 {
		sub = b.rdb.PSubscribe(ctx, b.keys.allJobs())
	} else {
		names := make([]string, 0, len(channels))
		for _, c := range channels {
			names = append(names, b.keys.channel(c))
		}
		sub = b.rdb.Subscribe(ctx, names...)
	}
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				msg, err := b.keys.decode(m.Channel, []byte(m.Payload))
				if err != nil {
					b.log.Warn("bad redis job payload", "channel", m.Channel, "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// keyspace maps logical channels such as "job:<uuid>" onto prefixed Redis names.
type keyspace struct{ prefix string }

func newKeyspace(prefix string) keyspace {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) channel(logical string) string { return k.prefix + ":" + logical }

func (k keyspace) last(logical string) string { return k.prefix + ":last:" + logical }

func (k keyspace) allJobs() string { return k.channel(realtime.JobChannel("*")) }

// decode parses a payload and restores its logical channel from the Redis name when the
// publisher left it out.
func (k keyspace) decode(redisChannel string, raw []byte) (realtime.Message, error) {
	var msg realtime.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return realtime.Message{}, err
	}
	if msg.Channel == "" {
		msg.Channel = strings.TrimPrefix(redisChannel, k.prefix+":")
	}
	return msg, nil
}
