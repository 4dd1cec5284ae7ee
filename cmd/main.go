package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chhz0/taskd/client"
	"github.com/chhz0/taskd/config"
	"github.com/chhz0/taskd/logger"
	"github.com/chhz0/taskd/transport"
	"github.com/chhz0/taskd/types"
)

const usage = `usage: taskd <command> [flags]

commands:
  serve     run the HTTP API and the tick trigger
  tick      run one tick against the configured store and print the summary
  watch     print messages published for a recipient
  schedule  schedule a task through the API
  list      list tasks through the API
  get       show one task through the API
  delete    delete a task through the API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "serve":
		return runServe(ctx, args)
	case "tick":
		return runTick(ctx, args, out)
	case "watch":
		return runWatch(ctx, args, out)
	case "schedule":
		return runSchedule(ctx, args, out)
	case "list":
		return runList(ctx, args, out)
	case "get":
		return runGet(ctx, args, out)
	case "delete":
		return runDelete(ctx, args, out)
	case "-h", "--help", "help":
		fmt.Fprint(out, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, zerolog.Logger, error) {
	path := fs.String("config", os.Getenv("TASKD_CONFIG"), "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg.Log), nil
}

func runServe(ctx context.Context, args []string) error {
	cfg, log, err := loadConfig(flag.NewFlagSet("serve", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}()
	return a.server(cfg, log).Start(ctx)
}

func runTick(ctx context.Context, args []string, out io.Writer) error {
	cfg, log, err := loadConfig(flag.NewFlagSet("tick", flag.ContinueOnError), args)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.executor.Tick(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runWatch(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	recipient := fs.String("recipient", "", "recipient to watch")
	cfg, log, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *recipient == "" {
		return errors.New("--recipient is required")
	}
	tr, err := transport.Open(ctx, cfg.Dispatch.Messaging, log)
	if err != nil {
		return err
	}
	defer tr.Close()

	sub, ok := tr.(transport.Subscriber)
	if !ok {
		return fmt.Errorf("messaging backend %q cannot be watched", cfg.Dispatch.Messaging.Backend)
	}
	msgs, err := sub.Subscribe(ctx, transport.Channel(cfg.Dispatch.Messaging.Prefix, *recipient))
	if err != nil {
		return err
	}
	for msg := range msgs {
		fmt.Fprintln(out, string(msg))
	}
	return nil
}

func apiFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	apiURL := fs.String("api-url", envOr("TASKD_API_URL", "http://localhost:8080"), "base URL of the task API")
	return fs, apiURL
}

func runSchedule(ctx context.Context, args []string, out io.Writer) error {
	fs, apiURL := apiFlags("schedule")
	act := fs.String("action", "", "action type (webhook or message)")
	payload := fs.String("payload", "", "JSON payload for the task")
	runAt := fs.String("run-at", "", "when to run the task, e.g. 2024-06-10T15:00:00Z")
	delay := fs.Int("delay", 0, "delay in minutes from now")
	rec := fs.String("recurrence", "", "daily, weekly or monthly")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch types.Action(*act) {
	case types.ActionWebhook, types.ActionMessage:
	default:
		return fmt.Errorf("--action must be webhook or message, got %q", *act)
	}
	if !json.Valid([]byte(*payload)) {
		return errors.New("invalid JSON payload")
	}
	if r := types.Recurrence(*rec); !r.Valid() {
		return fmt.Errorf("--recurrence must be daily, weekly or monthly, got %q", *rec)
	}
	when := strings.TrimSpace(*runAt)
	if when == "" {
		if *delay <= 0 {
			return errors.New("either --run-at or --delay must be specified")
		}
		when = types.FormatTime(time.Now().Add(time.Duration(*delay) * time.Minute))
	}

	id, err := client.New(*apiURL).Schedule(ctx, client.ScheduleRequest{
		Action:     types.Action(*act),
		Payload:    json.RawMessage(*payload),
		RunAt:      when,
		Recurrence: types.Recurrence(*rec),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Task scheduled successfully with ID: %s\n", id)
	fmt.Fprintf(out, "Will run at: %s\n", when)
	return nil
}

func runList(ctx context.Context, args []string, out io.Writer) error {
	fs, apiURL := apiFlags("list")
	status := fs.String("status", "", "filter by status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *status != "" && !types.TaskStatus(*status).Valid() {
		return fmt.Errorf("invalid --status %q", *status)
	}

	tasks, err := client.New(*apiURL).List(ctx, types.TaskStatus(*status))
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found")
		return nil
	}
	fmt.Fprintf(out, "Found %d tasks:\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(out, "%s  %-9s  %-7s  %s", t.ID, t.Status, t.Action, types.FormatTime(t.RunAt))
		if t.Recurrence != types.RecurrenceNone {
			fmt.Fprintf(out, "  (%s)", t.Recurrence)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runGet(ctx context.Context, args []string, out io.Writer) error {
	fs, apiURL := apiFlags("get")
	id := fs.String("task-id", "", "task ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--task-id is required")
	}
	task, err := client.New(*apiURL).Get(ctx, *id)
	if err != nil {
		return err
	}
	return printJSON(out, task)
}

func runDelete(ctx context.Context, args []string, out io.Writer) error {
	fs, apiURL := apiFlags("delete")
	id := fs.String("task-id", "", "task ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--task-id is required")
	}
	if err := client.New(*apiURL).Delete(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Task %s deleted successfully\n", *id)
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
