// Package action holds the execution strategies behind each task action.
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chhz0/taskd/types"
)

const (
	DefaultWebhookTimeout = 30 * time.Second
	maxErrorBody          = 512
)

type WebhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Webhook performs an HTTP call described by the task payload. Any
// response below 400 counts as success; redirects are followed.
type Webhook struct {
	client *http.Client
}

func NewWebhook(timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &Webhook{client: &http.Client{Timeout: timeout}}
}

func NewWebhookWithClient(client *http.Client) *Webhook {
	return &Webhook{client: client}
}

func (w *Webhook) Validate(payload json.RawMessage) error {
	_, err := decodeWebhook(payload)
	return err
}

func decodeWebhook(payload json.RawMessage) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if strings.TrimSpace(p.URL) == "" {
		return nil, errors.New("webhook URL is required")
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL %q: want an absolute http(s) URL", p.URL)
	}
	p.Method = strings.ToUpper(strings.TrimSpace(p.Method))
	if p.Method == "" {
		p.Method = http.MethodPost
	}
	if p.Headers == nil {
		p.Headers = map[string]string{"Content-Type": "application/json"}
	}
	return &p, nil
}

func (w *Webhook) Execute(ctx context.Context, task *types.Task) error {
	p, err := decodeWebhook(task.Payload)
	if err != nil {
		return err
	}
	req, err := p.request(ctx)
	if err != nil {
		return err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s request failed: %w", p.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook %s %s returned %d: %s",
			p.Method, p.URL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return nil
}

// request sends Data as query parameters for GET and as a JSON body
// otherwise.
func (p *WebhookPayload) request(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if p.Method == http.MethodGet {
		if err := p.encodeQuery(u); err != nil {
			return nil, err
		}
	} else {
		data := p.Data
		if len(bytes.TrimSpace(data)) == 0 || string(data) == "null" {
			data = json.RawMessage(`{}`)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, p.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (p *WebhookPayload) encodeQuery(u *url.URL) error {
	if len(bytes.TrimSpace(p.Data)) == 0 || string(p.Data) == "null" {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(p.Data, &params); err != nil {
		return fmt.Errorf("webhook GET data must be an object: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		switch x := v.(type) {
		case string:
			q.Set(k, x)
		case []any:
			for _, item := range x {
				q.Add(k, fmt.Sprint(item))
			}
		default:
			q.Set(k, fmt.Sprint(x))
		}
	}
	u.RawQuery = q.Encode()
	return nil
}
