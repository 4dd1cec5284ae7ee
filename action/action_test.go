package action

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chhz0/taskd/types"
)

func webhookTask(payload string) *types.Task {
	return &types.Task{ID: "t1", Action: types.ActionWebhook, Payload: json.RawMessage(payload)}
}

func TestWebhookValidate(t *testing.T) {
	t.Parallel()
	w := NewWebhook(0)
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"ok", `{"url":"https://example.com/ok"}`, false},
		{"missing url", `{"method":"GET"}`, true},
		{"relative url", `{"url":"/hook"}`, true},
		{"bad scheme", `{"url":"ftp://example.com"}`, true},
		{"not an object", `"https://example.com"`, true},
	}
	for _, tt := range tests {
		if err := w.Validate(json.RawMessage(tt.payload)); (err != nil) != tt.wantErr {
			t.Fatalf("%s: Validate err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestWebhookPostDefaults(t *testing.T) {
	t.Parallel()
	var (
		gotMethod, gotCT string
		gotBody          []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewWebhook(time.Second).Execute(context.Background(), webhookTask(`{"url":"`+srv.URL+`","data":{"k":"v"}}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotMethod != http.MethodPost || gotCT != "application/json" || string(gotBody) != `{"k":"v"}` {
		t.Fatalf("got %s %q body=%s", gotMethod, gotCT, gotBody)
	}
}

func TestWebhookCustomHeadersKeepJSONContentType(t *testing.T) {
	t.Parallel()
	var gotCT, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCT = r.Header.Get("Content-Type")
		gotToken = r.Header.Get("X-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewWebhook(time.Second)
	payload := `{"url":"` + srv.URL + `","method":"PUT","headers":{"X-Token":"a"},"data":{"k":"v"}}`
	if err := hook.Execute(context.Background(), webhookTask(payload)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotCT != "application/json" || gotToken != "a" {
		t.Fatalf("Content-Type = %q, X-Token = %q", gotCT, gotToken)
	}

	payload = `{"url":"` + srv.URL + `","headers":{"Content-Type":"text/plain"},"data":{"k":"v"}}`
	if err := hook.Execute(context.Background(), webhookTask(payload)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotCT != "text/plain" {
		t.Fatalf("explicit Content-Type overridden: %q", gotCT)
	}
}

func TestWebhookGetQuery(t *testing.T) {
	t.Parallel()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	payload := `{"url":"` + srv.URL + `/ping?a=1","method":"get","data":{"b":"two","n":3}}`
	if err := NewWebhook(time.Second).Execute(context.Background(), webhookTask(payload)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotQuery != "a=1&b=two&n=3" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhook(time.Second).Execute(context.Background(), webhookTask(`{"url":"`+srv.URL+`"}`))
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "upstream exploded") {
		t.Fatalf("error lacks response detail: %v", err)
	}
}

func TestWebhookUnreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewWebhook(time.Second).Execute(context.Background(), webhookTask(`{"url":"`+url+`"}`))
	if err == nil || !strings.Contains(err.Error(), "request failed") {
		t.Fatalf("err = %v, want request failure", err)
	}
}

type recordingTransport struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	err      error
}

func (r *recordingTransport) Publish(_ context.Context, channel string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.channels = append(r.channels, channel)
	r.messages = append(r.messages, data)
	return nil
}

func (r *recordingTransport) Close() error { return nil }

func TestMessageExecute(t *testing.T) {
	t.Parallel()
	tr := &recordingTransport{}
	m := NewMessage(tr, "taskd.messages")
	m.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	task := &types.Task{ID: "m1", Action: types.ActionMessage, Payload: json.RawMessage(`{"recipient":"alice","message":"hi"}`)}
	if err := m.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(tr.channels) != 1 || tr.channels[0] != "taskd.messages.alice" {
		t.Fatalf("channels = %v", tr.channels)
	}
	var env Envelope
	if err := json.Unmarshal(tr.messages[0], &env); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	want := Envelope{TaskID: "m1", Recipient: "alice", Message: "hi", SentAt: "2024-01-01T00:00:00Z"}
	if env != want {
		t.Fatalf("envelope = %+v, want %+v", env, want)
	}
}

func TestMessageFailures(t *testing.T) {
	t.Parallel()
	m := NewMessage(&recordingTransport{err: errors.New("broker down")}, "")
	if err := m.Validate(json.RawMessage(`{"message":"no recipient"}`)); err == nil {
		t.Fatal("expected validation error without recipient")
	}
	task := &types.Task{ID: "m2", Payload: json.RawMessage(`{"recipient":"bob","message":"x"}`)}
	if err := m.Execute(context.Background(), task); err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("err = %v, want publish failure", err)
	}
}
