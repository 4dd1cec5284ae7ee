package transport

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chhz0/taskd/config"
)

// Transport is a fire-and-forget message backend: Publish returning nil
// means the backend accepted the message, not that anyone received it.
type Transport interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Close() error
}

// Subscriber is implemented by backends that can stream a channel back.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Channel maps a recipient to the channel (subject) messages are sent on.
func Channel(prefix, recipient string) string {
	r := unsafeChars.ReplaceAllString(strings.TrimSpace(recipient), "_")
	if r == "" {
		r = "_"
	}
	if prefix == "" {
		return r
	}
	return prefix + "." + r
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg config.Messaging, log zerolog.Logger) (Transport, error) {
	switch cfg.Backend {
	case "", "log":
		return NewLogTransport(log), nil
	case "redis":
		return NewRedisTransport(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "nats":
		return NewNATSTransport(cfg.NATSURL)
	}
	return nil, fmt.Errorf("unknown messaging backend %q", cfg.Backend)
}

// LogTransport only logs outgoing messages.
type LogTransport struct {
	log zerolog.Logger
}

func NewLogTransport(log zerolog.Logger) *LogTransport {
	return &LogTransport{log: log.With().Str("component", "messages").Logger()}
}

func (t *LogTransport) Publish(ctx context.Context, channel string, data []byte) error {
	t.log.Info().Str("channel", channel).RawJSON("message", data).Msg("message sent")
	return nil
}

func (t *LogTransport) Close() error { return nil }
