package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Buffer   int
}

// RedisBus shares events between console processes over redis pub/sub.
// Published events reach local subscribers through the redis round trip,
// so every process sees the same order.
type RedisBus struct {
	hub     *hub
	rdb     *redis.Client
	sub     *redis.PubSub
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRedisBus connects to redis, subscribes to the channel and starts
// forwarding messages to local subscribers.
func NewRedisBus(ctx context.Context, opts RedisOptions) (*RedisBus, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	if opts.Channel == "" {
		opts.Channel = "bidkit-events"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	sub := rdb.Subscribe(ctx, opts.Channel)
	// Wait for the subscription confirmation so no early publish is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	b := &RedisBus{
		hub:     newHub("redis", opts.Buffer),
		rdb:     rdb,
		sub:     sub,
		channel: opts.Channel,
		cancel:  stop,
		done:    make(chan struct{}),
	}
	go b.forward(runCtx)
	return b, nil
}

func (b *RedisBus) forward(ctx context.Context) {
	defer close(b.done)
	ch := b.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			b.handle(m.Payload)
		}
	}
}

func (b *RedisBus) handle(payload string) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		slog.Warn("bad redis event payload",
			"component", "events",
			"bus", "redis",
			"error", err,
		)
		return
	}
	if e.Kind == "" {
		return
	}
	b.hub.dispatch(e)
}

// Publish sends e to every process subscribed to the channel.
func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	if b.hub.isClosed() {
		return ErrClosed
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *RedisBus) Subscribe(kinds ...Kind) *Subscription { return b.hub.subscribe(kinds...) }

// LastRefresh implements Bus.
func (b *RedisBus) LastRefresh() time.Time { return b.hub.last() }

// Close stops forwarding and closes the redis connection.
func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	b.hub.close()
	b.cancel()
	_ = b.sub.Close()
	<-b.done
	return b.rdb.Close()
}
