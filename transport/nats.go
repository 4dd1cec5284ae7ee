package transport

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSTransport publishes on core NATS subjects.
type NATSTransport struct {
	nc *nats.Conn
}

func NewNATSTransport(url string) (*NATSTransport, error) {
	nc, err := nats.Connect(url, nats.Name("taskd"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSTransport{nc: nc}, nil
}

func (t *NATSTransport) Publish(ctx context.Context, subject string, data []byte) error {
	if err := t.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (t *NATSTransport) Subscribe(ctx context.Context, subject string) (<-chan []byte, error) {
	msgs := make(chan *nats.Msg, 100)
	sub, err := t.nc.ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	ch := make(chan []byte, 100)
	go func() {
		defer close(ch)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case msg := <-msgs:
				select {
				case ch <- msg.Data:
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

func (t *NATSTransport) Close() error {
	t.nc.Close()
	return nil
}
