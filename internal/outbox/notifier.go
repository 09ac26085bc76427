package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/splitlease/proposal-sync/internal/config"
)

// WakeChannel is the Redis channel replicas use to wake each other's drain.
const WakeChannel = "proposal-sync:wake"

// Notifier wakes the drain after a commit enqueued new items. Notifications
// are hints only: the poll interval bounds latency when one is lost.
type Notifier interface {
	Notify(ctx context.Context)
	Subscribe(ctx context.Context) <-chan struct{}
}

// LocalNotifier wakes the drain of this process only.
type LocalNotifier struct {
	ch chan struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{ch: make(chan struct{}, 1)}
}

func (n *LocalNotifier) Notify(context.Context) {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *LocalNotifier) Subscribe(context.Context) <-chan struct{} {
	return n.ch
}

// RedisNotifier fans wake-ups out to every replica through Redis pub/sub.
type RedisNotifier struct {
	client         *redis.Client
	local          *LocalNotifier
	logger         *zap.Logger
	publishTimeout time.Duration
}

func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:         client,
		local:          NewLocalNotifier(),
		logger:         logger.Named("outbox.notifier"),
		publishTimeout: 500 * time.Millisecond,
	}
}

// Notify wakes the local drain at once and publishes to the other replicas
// in the background, so a slow Redis never holds up the caller's request.
func (n *RedisNotifier) Notify(ctx context.Context) {
	n.local.Notify(ctx)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.publishTimeout)
	go func() {
		defer cancel()
		if err := n.client.Publish(pubCtx, WakeChannel, "1").Err(); err != nil {
			n.logger.Warn("sync_wake_publish_failed", zap.Error(err))
		}
	}()
}

func (n *RedisNotifier) Subscribe(ctx context.Context) <-chan struct{} {
	sub := n.client.Subscribe(ctx, WakeChannel)
	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				n.local.Notify(ctx)
			}
		}
	}()
	return n.local.Subscribe(ctx)
}

// NewNotifier returns a Redis-backed notifier when REDIS_ADDR is set and
// reachable, and a process-local one otherwise.
func NewNotifier(cfg *config.Config, logger *zap.Logger) Notifier {
	if cfg.RedisAddr == "" {
		return NewLocalNotifier()
	}

	client, err := NewRedisClient(cfg)
	if err != nil {
		logger.Warn("redis_unavailable_using_local_notifier", zap.Error(err))
		return NewLocalNotifier()
	}
	return NewRedisNotifier(client, logger)
}

func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}
