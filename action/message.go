package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chhz0/taskd/transport"
	"github.com/chhz0/taskd/types"
)

type MessagePayload struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// Envelope is what gets published for a message task.
type Envelope struct {
	TaskID    string `json:"task_id"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	SentAt    string `json:"sent_at"`
}

// Message hands the payload to a messaging backend and succeeds as soon as
// the backend accepts it. Delivery is not verified.
type Message struct {
	transport transport.Transport
	prefix    string
	now       func() time.Time
}

func NewMessage(t transport.Transport, prefix string) *Message {
	return &Message{transport: t, prefix: prefix, now: time.Now}
}

func (m *Message) Validate(payload json.RawMessage) error {
	_, err := decodeMessage(payload)
	return err
}

func decodeMessage(payload json.RawMessage) (*MessagePayload, error) {
	var p MessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid message payload: %w", err)
	}
	if strings.TrimSpace(p.Recipient) == "" {
		return nil, errors.New("message recipient is required")
	}
	return &p, nil
}

func (m *Message) Execute(ctx context.Context, task *types.Task) error {
	p, err := decodeMessage(task.Payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{
		TaskID:    task.ID,
		Recipient: p.Recipient,
		Message:   p.Message,
		SentAt:    types.FormatTime(m.now()),
	})
	if err != nil {
		return err
	}
	channel := transport.Channel(m.prefix, p.Recipient)
	if err := m.transport.Publish(ctx, channel, data); err != nil {
		return fmt.Errorf("send message to %s: %w", p.Recipient, err)
	}
	return nil
}
