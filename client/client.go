// Package client talks to the task HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chhz0/taskd/types"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type ScheduleRequest struct {
	Action     types.Action     `json:"action"`
	Payload    json.RawMessage  `json:"payload"`
	RunAt      string           `json:"run_at"`
	Recurrence types.Recurrence `json:"recurrence,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

// Schedule creates a task and returns its id.
func (c *Client) Schedule(ctx context.Context, req ScheduleRequest) (string, error) {
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

func (c *Client) List(ctx context.Context, status types.TaskStatus) ([]*types.Task, error) {
	path := "/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var resp struct {
		Tasks []*types.Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) Get(ctx context.Context, taskID string) (*types.Task, error) {
	var resp struct {
		Task *types.Task `json:"task"`
	}
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

func (c *Client) Delete(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(taskID), nil, nil)
}

// Tick asks the server to run one tick now and returns its raw summary.
func (c *Client) Tick(ctx context.Context) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/tick", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
