package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/celerix-dev/socialboost-store/internal/logger"
	"github.com/celerix-dev/socialboost-store/internal/metrics"
	"github.com/celerix-dev/socialboost-store/pkg/sdk"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultCloseTimeout = 5 * time.Second

// Redis carries change tags over a Redis Pub/Sub channel. Every instance
// stamps its messages with a random origin and ignores its own.
type Redis struct {
	client     *redis.Client
	ownsClient bool
	pubsub     *redis.PubSub
	channel    string
	origin     string
	log        *zap.Logger
	metrics    *metrics.Metrics
	listeners  listeners

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

var _ sdk.Notifier = (*Redis)(nil)

// OpenRedis connects to redisURL and subscribes to channel.
func OpenRedis(ctx context.Context, redisURL, channel string, log *zap.Logger, m *metrics.Metrics) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	r, err := NewRedis(ctx, client, channel, log, m)
	if err != nil {
		client.Close()
		return nil, err
	}
	r.ownsClient = true
	return r, nil
}

// NewRedis subscribes to channel over an existing client. The caller keeps
// ownership of client.
func NewRedis(ctx context.Context, client *redis.Client, channel string, log *zap.Logger, m *metrics.Metrics) (*Redis, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	log = logger.OrNop(log).Named("notify")

	pubsub := client.Subscribe(ctx, channel)
	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	r := &Redis{
		client:    client,
		pubsub:    pubsub,
		channel:   channel,
		origin:    uuid.NewString(),
		log:       log,
		metrics:   m,
		listeners: listeners{log: log},
		done:      make(chan struct{}),
	}
	go r.run()

	log.Info("Subscribed to change channel", zap.String("channel", channel))
	return r, nil
}

func (r *Redis) run() {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		var m message
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			r.log.Warn("Ignoring malformed change message", zap.String("payload", msg.Payload), zap.Error(err))
			continue
		}
		if m.Type == "" || m.Origin == r.origin {
			continue
		}
		r.metrics.NotifyReceived(m.Type)
		r.listeners.dispatch(m.Type)
	}
}

func (r *Redis) Notify(ctx context.Context, changeType string) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(message{Type: changeType, Origin: r.origin})
	if err != nil {
		return fmt.Errorf("encode change message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	r.metrics.NotifySent(changeType)
	return nil
}

func (r *Redis) OnNotify(fn func(changeType string)) (cancel func()) {
	return r.listeners.add(fn)
}

// Close unsubscribes and waits for the receive loop to stop.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.pubsub.Close()
	select {
	case <-r.done:
	case <-time.After(defaultCloseTimeout):
		r.log.Warn("Timeout waiting for change subscription to stop")
	}

	if r.ownsClient {
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
