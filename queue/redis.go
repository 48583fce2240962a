package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/worldsync"
)

const (
	DefaultItemsKey     = "worldsync:items"
	DefaultRepliesKey   = "worldsync:replies"
	DefaultWorkersKey   = "worldsync:workers"
	heartbeatTTL        = 30 * time.Second
	defaultPollInterval = time.Second
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// ItemsKey is the list items are pushed to and popped from.
	ItemsKey string

	// RepliesChannel is the pub/sub channel chat replies are published on.
	RepliesChannel string

	// PollInterval bounds each BRPOP so cancellation is noticed.
	PollInterval time.Duration

	Logger *slog.Logger
}

// RedisFeed moves items and replies between the game server and workers
// through Redis.
type RedisFeed struct {
	client  *redis.Client
	items   string
	replies string
	poll    time.Duration
	logger  *slog.Logger
}

// NewRedisFeed connects to Redis and verifies the connection with PING.
func NewRedisFeed(opts RedisOptions) (*RedisFeed, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.ItemsKey == "" {
		opts.ItemsKey = DefaultItemsKey
	}
	if opts.RepliesChannel == "" {
		opts.RepliesChannel = DefaultRepliesKey
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisFeed{
		client:  client,
		items:   opts.ItemsKey,
		replies: opts.RepliesChannel,
		poll:    opts.PollInterval,
		logger:  opts.Logger.With("component", "redis_feed"),
	}, nil
}

// Push appends an item envelope to the items list.
func (f *RedisFeed) Push(ctx context.Context, item Item) error {
	data, err := Encode(item)
	if err != nil {
		return err
	}
	if err := f.client.LPush(ctx, f.items, data).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %s: %w", f.items, err)
	}
	return nil
}

// Pop removes the oldest envelope and decodes it. It blocks until an item
// arrives or ctx is done.
func (f *RedisFeed) Pop(ctx context.Context) (Item, error) {
	for {
		result, err := f.client.BRPop(ctx, f.poll, f.items).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to pop from queue %s: %w", f.items, err)
		}
		if len(result) != 2 {
			return nil, fmt.Errorf("unexpected BRPOP result length: %d", len(result))
		}
		return Decode([]byte(result[1]))
	}
}

// Forward pops envelopes and enqueues them into in until ctx is done.
// Undecodable or invalid items are logged and skipped.
func (f *RedisFeed) Forward(ctx context.Context, in *Ingestion) error {
	for {
		item, err := f.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if worldsync.KindOf(err) == worldsync.KindValidation {
				f.logger.Warn("dropping undecodable item", "error", err)
				continue
			}
			return err
		}
		if err := in.Enqueue(item); err != nil {
			f.logger.Warn("dropping invalid item", "kind", item.Kind(), "error", err)
		}
	}
}

// PublishReply sends a chat reply to the replies channel.
func (f *RedisFeed) PublishReply(ctx context.Context, reply Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	if err := f.client.Publish(ctx, f.replies, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", f.replies, err)
	}
	return nil
}

// SubscribeReplies streams replies until ctx is done.
func (f *RedisFeed) SubscribeReplies(ctx context.Context) (<-chan Reply, error) {
	pubsub := f.client.Subscribe(ctx, f.replies)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", f.replies, err)
	}

	out := make(chan Reply)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var reply Reply
				if err := json.Unmarshal([]byte(msg.Payload), &reply); err != nil {
					f.logger.Warn("skipping malformed reply", "error", err)
					continue
				}
				select {
				case out <- reply:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Heartbeat refreshes the health key for a worker with a 30s TTL.
func (f *RedisFeed) Heartbeat(ctx context.Context, workerID string) error {
	key := fmt.Sprintf("worldsync:worker:%s:health", workerID)
	if err := f.client.Set(ctx, key, "ok", heartbeatTTL).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat for worker %s: %w", workerID, err)
	}
	return nil
}

// WorkerCount returns the number of registered workers.
func (f *RedisFeed) WorkerCount(ctx context.Context) (int, error) {
	s, err := f.client.Get(ctx, DefaultWorkersKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get worker count: %w", err)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid worker count value: %w", err)
	}
	return n, nil
}

// IncrementWorkers registers one more active worker.
func (f *RedisFeed) IncrementWorkers(ctx context.Context) error {
	if err := f.client.Incr(ctx, DefaultWorkersKey).Err(); err != nil {
		return fmt.Errorf("failed to increment worker count: %w", err)
	}
	return nil
}

// DecrementWorkers unregisters an active worker.
func (f *RedisFeed) DecrementWorkers(ctx context.Context) error {
	if err := f.client.Decr(ctx, DefaultWorkersKey).Err(); err != nil {
		return fmt.Errorf("failed to decrement worker count: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
