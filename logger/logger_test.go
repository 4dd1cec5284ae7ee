package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/chhz0/taskd/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":  zerolog.DebugLevel,
		" WARN ": zerolog.WarnLevel,
		"error":  zerolog.ErrorLevel,
		"":       zerolog.InfoLevel,
		"loud":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(config.Log{Level: "info", Format: "json"}, &buf)
	log.Debug().Msg("hidden")
	log.Info().Str("task_id", "t1").Msg("dispatched")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output is not a single JSON record: %q", buf.String())
	}
	if rec["task_id"] != "t1" || rec["message"] != "dispatched" || rec["level"] != "info" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	cl := CronLogger{Log: NewWithWriter(config.Log{Level: "debug", Format: "json"}, &buf)}
	cl.Error(errors.New("boom"), "job failed", "entry", 3)

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("bad output %q: %v", buf.String(), err)
	}
	if rec["err"] != "boom" || rec["entry"] != float64(3) {
		t.Fatalf("unexpected record: %v", rec)
	}
}
