package transport

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisPubSub publishes messages over Redis PUBLISH/SUBSCRIBE.
type RedisPubSub struct {
	client *redis.Client
}

func NewRedisTransport(ctx context.Context, addr, password string, db int) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		IdleTimeout:  5 * time.Minute,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisPubSub{client: client}, nil
}

func (rs *RedisPubSub) Publish(ctx context.Context, channel string, data []byte) error {
	return rs.client.Publish(ctx, channel, data).Err()
}

// Subscribe streams channel until ctx ends.
func (rs *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := rs.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	ch := make(chan []byte, 100)
	go func() {
		defer close(ch)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (rs *RedisPubSub) Close() error {
	return rs.client.Close()
}
