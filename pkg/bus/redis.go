package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mahaj/workspace-realtime/pkg/logger"
)

// RedisBus implements Bus on Redis pub/sub. One publisher client is shared;
// each channel subscription owns a PubSub connection and a reader goroutine.
type RedisBus struct {
	client   *redis.Client
	serverID string
	log      *zap.Logger

	mu         sync.Mutex
	subscribed map[string]*redis.PubSub
	closed     bool
}

func NewRedisBus(addr, password string, db int, serverID string) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "bus: redis ping")
	}

	return &RedisBus{
		client:     client,
		serverID:   serverID,
		log:        logger.Named("bus"),
		subscribed: make(map[string]*redis.PubSub),
	}, nil
}

func (b *RedisBus) ServerID() string { return b.serverID }

func (b *RedisBus) Publish(ctx context.Context, channel string, env *Envelope) error {
	env.OriginServerID = b.serverID
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "bus: marshal envelope")
	}
	if err := b.client.Publish(ctx, channel, raw).Err(); err != nil {
		return errors.Wrapf(err, "bus: publish %s", channel)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("bus: closed")
	}
	if _, ok := b.subscribed[channel]; ok {
		b.mu.Unlock()
		return nil
	}

	sub := b.client.Subscribe(ctx, channel)
	b.subscribed[channel] = sub
	b.mu.Unlock()

	// Force the SUBSCRIBE round trip so a failure surfaces to the caller
	// instead of a silent dead subscription.
	if _, err := sub.Receive(ctx); err != nil {
		b.mu.Lock()
		delete(b.subscribed, channel)
		b.mu.Unlock()
		_ = sub.Close()
		return errors.Wrapf(err, "bus: subscribe %s", channel)
	}

	go b.readLoop(channel, sub, handler)
	b.log.Debug("subscribed", zap.String("channel", channel))
	return nil
}

func (b *RedisBus) readLoop(channel string, sub *redis.PubSub, handler Handler) {
	for msg := range sub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.log.Error("bad envelope", zap.String("channel", channel), zap.Error(err))
			continue
		}
		// The publishing process already emitted to its own sockets.
		if env.OriginServerID == b.serverID {
			continue
		}
		handler(&env)
	}
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for channel, sub := range b.subscribed {
		if err := sub.Close(); err != nil {
			b.log.Warn("closing subscription", zap.String("channel", channel), zap.Error(err))
		}
	}
	b.subscribed = make(map[string]*redis.PubSub)
	return b.client.Close()
}
