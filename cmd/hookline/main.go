// Package main provides the command-line interface for the hookline engine.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	hookline "github.com/hookline/hookline"
	"github.com/hookline/hookline/pkg/config"
	"github.com/hookline/hookline/pkg/events"
	"github.com/hookline/hookline/pkg/types"
)

const (
	version = "dev" // Set via ldflags during build
	appName = "hookline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file path (default: ~/.hookline/config.json)")
	showVersion := fs.Bool("version", false, "Show version information")
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	rest := fs.Args()
	command := "serve"
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	switch command {
	case "serve":
		return cmdServe(cfg)
	case "add":
		return cmdAdd(cfg, rest)
	case "list":
		return cmdList(cfg)
	case "remove":
		return cmdRemove(cfg, rest)
	case "trigger":
		return cmdTrigger(cfg, rest)
	case "help":
		usage(fs)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		usage(fs)
		return 2
	}
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `%s - reactive AI hooks for your workspace

Usage:
  %s [flags] <command> [arguments]

Commands:
  serve                 Run the engine and watch the configured roots (default)
  add                   Add a hook definition
  list                  List hook definitions
  remove <id>           Remove a hook definition
  trigger <kind> <path> Inject a manual file event
  help                  Show this help

Flags:
`, appName, appName)
	fs.PrintDefaults()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}

func cmdServe(cfg *config.Config) int {
	engine, err := hookline.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = engine.Close() }()

	engine.Events().On(events.EventHookCompleted, func(ev events.Event) {
		if status, ok := ev.Data.(types.HookStatus); ok {
			fmt.Printf("hook %s completed\n", status.HookID)
		}
	})
	engine.Events().On(events.EventHookFailed, func(ev events.Event) {
		if status, ok := ev.Data.(types.HookStatus); ok {
			fmt.Fprintf(os.Stderr, "hook %s failed: %v\n", status.HookID, status.Err)
		}
	})

	if err := engine.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("%s watching %d root(s), %d hook(s) active\n",
		appName, len(cfg.Watch.Roots), len(engine.Hooks()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Println("shutting down...")
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.WaitIdle(drainCtx); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: executions still in flight, cancelling")
	}
	return 0
}

func cmdAdd(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	id := fs.String("id", "", "Hook ID (default: generated)")
	name := fs.String("name", "", "Human-readable label")
	instruction := fs.String("instruction", "", "What the hook should do (required)")
	scope := fs.String("scope", "", "Comma-separated glob patterns (default: match everything)")
	trigger := fs.String("trigger", string(types.TriggerOnSave), "Trigger kind (on-save, on-change, on-open, on-create, on-delete)")
	mode := fs.String("mode", string(types.ModeSingle), "Execution mode (single, multiple, restart)")
	priority := fs.Int("priority", 50, "Queue priority, 0 to 100")
	provider := fs.String("provider", "", "Pin to a named provider (default: engine default)")
	maxSteps := fs.Int("max-steps", 0, "Step budget for multi-step hooks (0 = single step)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	engine, err := hookline.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = engine.Close() }()

	hook := &types.Hook{
		ID:            *id,
		Name:          *name,
		Instruction:   *instruction,
		ScopePattern:  *scope,
		TriggerKind:   types.TriggerKind(*trigger),
		ExecutionMode: types.ExecutionMode(*mode),
		Priority:      *priority,
		IsActive:      true,
		Provider:      *provider,
		MaxSteps:      *maxSteps,
	}
	if err := engine.AddHook(context.Background(), hook); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("added hook %s\n", hook.ID)
	return 0
}

func cmdList(cfg *config.Config) int {
	engine, err := hookline.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = engine.Close() }()

	hooks := engine.Hooks()
	if len(hooks) == 0 {
		fmt.Println("no hooks defined")
		return 0
	}

	out, err := json.MarshalIndent(hooks, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func cmdRemove(cfg *config.Config, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: remove requires exactly one hook ID")
		return 2
	}

	engine, err := hookline.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = engine.Close() }()

	if err := engine.RemoveHook(context.Background(), args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("removed hook %s\n", args[0])
	return 0
}

func cmdTrigger(cfg *config.Config, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "Error: trigger requires <kind> and <path>")
		return 2
	}

	engine, err := hookline.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = engine.Close() }()

	err = engine.Trigger(&types.TriggerContext{
		FilePath: args[1],
		Kind:     types.TriggerKind(args[0]),
		Time:     time.Now(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := engine.WaitIdle(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: executions did not settle: %v\n", err)
		return 1
	}

	snap := engine.Metrics()
	fmt.Printf("triggered: %d started, %d succeeded, %d failed\n",
		snap.ExecutionsStarted, snap.ExecutionsSucceeded, snap.ExecutionsFailed)
	return 0
}
