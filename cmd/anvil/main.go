// Command anvil runs a workflow against the current workspace: it loads the
// runtime config and workflow, dispatches the task event, and prints the
// agent message stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	anvil "github.com/nevindra/anvil"
	"github.com/nevindra/anvil/internal/config"
	"github.com/nevindra/anvil/observer"
	"github.com/nevindra/anvil/provider/anthropic"
	"github.com/nevindra/anvil/provider/openaicompat"
	"github.com/nevindra/anvil/store/postgres"
	"github.com/nevindra/anvil/store/sqlite"
	"github.com/nevindra/anvil/tools/fetch"
	"github.com/nevindra/anvil/tools/fs"
	"github.com/nevindra/anvil/tools/patch"
	"github.com/nevindra/anvil/tools/shell"
)

func main() {
	configPath := flag.String("config", "anvil.toml", "runtime config file")
	mode := flag.String("mode", "act", "event mode (act, plan, help)")
	flag.Parse()

	task := strings.Join(flag.Args(), " ")
	if task == "" {
		fmt.Fprintln(os.Stderr, "usage: anvil [-config anvil.toml] [-mode act] <task>")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var provider anvil.Provider
	switch cfg.Provider.Kind {
	case "anthropic":
		provider = anthropic.New(cfg.Provider.APIKey)
	default:
		provider = openaicompat.New(cfg.Provider.APIKey, cfg.Provider.BaseURL)
	}

	tools := anvil.NewToolRegistry(
		fs.New(cfg.Shell.Workspace),
		patch.New(cfg.Shell.Workspace),
		shell.New(cfg.Shell.Workspace, cfg.Shell.TimeoutSeconds),
		fetch.New(),
	)

	wf, err := anvil.LoadWorkflow(cfg.Workflow)
	if err != nil {
		log.Fatalf("load workflow: %v", err)
	}
	if wf.Model == "" {
		wf.Model = cfg.Provider.Model
	}
	conv := anvil.NewConversation(anvil.NewID(), wf)

	opts := []anvil.OrchestratorOption{
		anvil.WithLogger(logger),
		anvil.WithAttachments(&anvil.LocalAttachments{Root: cfg.Shell.Workspace}),
		anvil.WithRetryPolicy(retryPolicy(cfg.Retry)),
	}

	switch cfg.Store.Backend {
	case "sqlite":
		store := sqlite.New(cfg.Store.Path)
		if err := store.Init(ctx); err != nil {
			log.Fatalf("init store: %v", err)
		}
		defer store.Close()
		opts = append(opts, anvil.WithStore(store))
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pool.Close()
		store := postgres.New(pool)
		if err := store.Init(ctx); err != nil {
			log.Fatalf("init store: %v", err)
		}
		opts = append(opts, anvil.WithStore(store))
	}

	if cfg.Observer.Enabled {
		instruments, shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("init observer: %v", err)
		}
		defer shutdown(context.Background())
		opts = append(opts,
			anvil.WithTracer(observer.NewTracer()),
			anvil.WithMeter(instruments))
	}

	sender, messages, stopSender := anvil.NewSender(64)
	opts = append(opts, anvil.WithSender(sender))

	orch := anvil.NewOrchestrator(provider, tools, conv, opts...)

	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		printMessages(messages)
	}()

	event := anvil.NewEvent(*mode+"/"+anvil.EventUserTaskInit, task)
	err = orch.Dispatch(ctx, event)
	stopSender()
	<-printerDone
	if err != nil {
		log.Fatalf("dispatch: %v", err)
	}
}

func retryPolicy(cfg config.RetryConfig) anvil.RetryPolicy {
	policy := anvil.DefaultRetryPolicy()
	if cfg.InitialBackoffMS > 0 {
		policy.InitialBackoff = time.Duration(cfg.InitialBackoffMS) * time.Millisecond
	}
	if cfg.BackoffFactor > 0 {
		policy.Factor = cfg.BackoffFactor
	}
	if cfg.MaxRetryAttempts > 0 {
		policy.MaxAttempts = cfg.MaxRetryAttempts
	}
	return policy
}

func printMessages(messages <-chan anvil.AgentMessage) {
	for msg := range messages {
		event := msg.Event
		switch event.Type {
		case anvil.EventText:
			if !event.IsComplete {
				fmt.Print(event.Text)
			} else {
				fmt.Println()
			}
		case anvil.EventToolCallStart:
			fmt.Printf("\n[%s] %s(%s)\n", msg.AgentID, event.ToolCall.Name, event.ToolCall.Arguments)
		case anvil.EventToolCallEnd:
			status := "ok"
			if event.Result.IsError {
				status = "error"
			}
			fmt.Printf("[%s] %s -> %s\n", msg.AgentID, event.Result.Name, status)
		case anvil.EventError:
			fmt.Fprintf(os.Stderr, "\n[%s] error: %v\n", msg.AgentID, event.Err)
		case anvil.EventComplete:
			fmt.Printf("\n[%s] done\n", msg.AgentID)
		}
	}
}
