// Taskpilot is an autonomous tool-use agent.
//
// It drives a conversation loop against a generative model, executing
// the tools the model asks for: built-in shell and file tools running
// in-process, plus remote tools discovered from an optional tool
// provider child process spoken to over newline-delimited JSON-RPC on
// its stdin/stdout. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	taskpilot run <instruction>   Execute a task
//	taskpilot tools               List available tools
//	taskpilot history             Show recent runs from the transcript store
//	taskpilot version             Print version and build information
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mkeller/taskpilot/internal/agent"
	"github.com/mkeller/taskpilot/internal/buildinfo"
	"github.com/mkeller/taskpilot/internal/config"
	"github.com/mkeller/taskpilot/internal/llm"
	"github.com/mkeller/taskpilot/internal/mcp"
	"github.com/mkeller/taskpilot/internal/tools"
	"github.com/mkeller/taskpilot/internal/transcript"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// cliOptions are the flags shared by the subcommands.
type cliOptions struct {
	configPath string
	model      string
	maxTurns   int
	logLevel   string
}

// run is the real entry point for the taskpilot command. OS-level
// dependencies are injected as parameters; arguments are parsed by hand
// because the flag package's global state interferes with parallel
// tests and the argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var opts cliOptions
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-model" && i+1 < len(args):
			opts.model = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-model="):
			opts.model = strings.TrimPrefix(args[i], "-model=")
		case args[i] == "-max-turns" && i+1 < len(args):
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid -max-turns value: %s", args[i+1])
			}
			opts.maxTurns = n
			i++
		case args[i] == "-log-level" && i+1 < len(args):
			opts.logLevel = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-log-level="):
			opts.logLevel = strings.TrimPrefix(args[i], "-log-level=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "run":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: taskpilot run <instruction>")
		}
		return runTask(ctx, stdout, stderr, opts, strings.Join(cmdArgs, " "))
	case "tools":
		return runTools(ctx, stdout, stderr, opts)
	case "history":
		limit := 10
		if len(cmdArgs) > 0 {
			n, err := strconv.Atoi(cmdArgs[0])
			if err != nil {
				return fmt.Errorf("invalid history limit: %s", cmdArgs[0])
			}
			limit = n
		}
		return runHistory(stdout, opts, limit)
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runTask executes a single agent run: boot the tool provider (when
// configured), bridge its tools alongside the built-ins, and drive the
// conversation loop until the model finishes or a budget runs out.
func runTask(ctx context.Context, stdout io.Writer, stderr io.Writer, opts cliOptions, instruction string) error {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opts)

	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)
	logger.Info(buildinfo.String())

	apiKey := cfg.APIKey()
	if apiKey == "" {
		return fmt.Errorf("no Anthropic API key (set anthropic.api_key or ANTHROPIC_API_KEY)")
	}

	// Cancel the run on SIGINT/SIGTERM so the child and the loop wind
	// down together.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, teardown, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer teardown()

	llmClient := llm.NewAnthropicClient(apiKey, logger)

	loop := agent.New(logger, llmClient, registry, agent.Config{
		Model:        cfg.Agent.Model,
		SystemPrompt: cfg.Agent.SystemPrompt,
		MaxTurns:     cfg.Agent.MaxTurns,
		MaxDuration:  cfg.MaxDuration(),
	})

	result, runErr := loop.Run(ctx, instruction)

	if cfg.Transcript.Enabled && result != nil {
		if err := recordRun(cfg, instruction, result, runErr); err != nil {
			logger.Warn("transcript record failed", "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}

	fmt.Fprintln(stdout, result.Content)
	if result.Truncated {
		fmt.Fprintf(stderr, "run truncated (%s) after %d turns\n", result.ExhaustReason, result.Turns)
	}
	return nil
}

// runTools boots the tool surface without calling the model, then
// prints the merged namespace.
func runTools(ctx context.Context, stdout io.Writer, stderr io.Writer, opts cliOptions) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opts)

	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, teardown, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer teardown()

	for _, t := range registry.List() {
		desc := t.Description
		if i := strings.IndexByte(desc, '\n'); i >= 0 {
			desc = desc[:i]
		}
		fmt.Fprintf(stdout, "%-28s %-8s %s\n", t.Name, t.Origin, desc)
	}
	return nil
}

// runHistory prints recent runs from the transcript store.
func runHistory(stdout io.Writer, opts cliOptions, limit int) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", cfg.Transcript.Path)
	if err != nil {
		return fmt.Errorf("open transcript db %s: %w", cfg.Transcript.Path, err)
	}
	defer db.Close()

	store, err := transcript.NewStore(db)
	if err != nil {
		return err
	}

	records, err := store.List(limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "no recorded runs")
		return nil
	}

	for _, rec := range records {
		status := "done"
		if rec.Error != "" {
			status = "error"
		} else if rec.Truncated {
			status = rec.ExhaustReason
		}
		instruction := rec.Instruction
		if len(instruction) > 60 {
			instruction = instruction[:57] + "..."
		}
		fmt.Fprintf(stdout, "%s  %s  turns=%d  %-10s  %s\n",
			rec.StartedAt.Format(time.DateTime), rec.ID, rec.Turns, status, instruction)
	}
	return nil
}

// runVersion prints build metadata.
func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	info := buildinfo.Info()
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// buildRegistry assembles the merged tool namespace: built-ins first,
// then remote tools bridged from the provider when one is configured.
// The returned teardown closes the RPC client and the child process.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tools.Registry, func(), error) {
	registry := tools.NewRegistry()

	shell := tools.NewShellExec(tools.ShellExecConfig{
		WorkingDir:      cfg.Shell.WorkingDir,
		DeniedPatterns:  cfg.Shell.DeniedPatterns,
		AllowedPrefixes: cfg.Shell.AllowedPrefixes,
		DefaultTimeout:  time.Duration(cfg.Shell.DefaultTimeoutSec) * time.Second,
		MaxOutputBytes:  cfg.Shell.MaxOutputKB * 1024,
	})
	registry.Register(shell.Tool())

	ft := tools.NewFileTools(cfg.Workspace.Path)
	for _, t := range ft.Tools() {
		registry.Register(t)
	}

	if cfg.Provider.Command == "" {
		logger.Info("no tool provider configured, built-in tools only",
			"tools", registry.Len())
		return registry, func() {}, nil
	}

	proc, err := mcp.StartProc(mcp.ProcConfig{
		Command: cfg.Provider.Command,
		Args:    cfg.Provider.Args,
		Env:     cfg.Provider.Env,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}

	client := mcp.NewClient(proc.Stdout(), proc, logger)
	teardown := func() {
		client.Close()
		if err := proc.Close(); err != nil {
			logger.Warn("tool provider shutdown", "error", err)
		}
	}

	if err := client.Initialize(ctx); err != nil {
		teardown()
		return nil, nil, err
	}

	count, err := mcp.BridgeTools(ctx, client, registry, logger)
	if err != nil {
		teardown()
		return nil, nil, err
	}

	logger.Info("tool namespace assembled",
		"builtin", registry.Len()-count,
		"remote", count,
	)
	return registry, teardown, nil
}

// recordRun persists a completed (or failed) run in the transcript
// store. Store failures are the caller's to log; they never fail the run.
func recordRun(cfg *config.Config, instruction string, result *agent.Result, runErr error) error {
	db, err := sql.Open("sqlite3", cfg.Transcript.Path)
	if err != nil {
		return fmt.Errorf("open transcript db %s: %w", cfg.Transcript.Path, err)
	}
	defer db.Close()

	store, err := transcript.NewStore(db)
	if err != nil {
		return err
	}

	rec := &transcript.RunRecord{
		ID:            result.RunID,
		Instruction:   instruction,
		Model:         cfg.Agent.Model,
		Turns:         result.Turns,
		MaxTurns:      cfg.Agent.MaxTurns,
		InputTokens:   result.InputTokens,
		OutputTokens:  result.OutputTokens,
		Truncated:     result.Truncated,
		ExhaustReason: result.ExhaustReason,
		ToolsCalled:   transcript.ExtractToolsCalled(result.Messages),
		Messages:      result.Messages,
		ResultContent: result.Content,
		StartedAt:     result.StartedAt,
		CompletedAt:   result.StartedAt.Add(result.Duration),
		DurationMs:    result.Duration.Milliseconds(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return store.Record(rec)
}

// applyOverrides lets command-line flags win over the config file.
func applyOverrides(cfg *config.Config, opts cliOptions) {
	if opts.model != "" {
		cfg.Agent.Model = opts.model
	}
	if opts.maxTurns > 0 {
		cfg.Agent.MaxTurns = opts.maxTurns
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
}

// newLogger builds the structured logger. Logs go to stderr so stdout
// stays clean for the run's result.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: config.ReplaceLogLevelNames,
	})
	return slog.New(handler), nil
}

// loadConfig locates and parses the YAML configuration file. A missing
// file is not fatal; defaults apply when nothing is found and no
// explicit path was given.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Taskpilot - Autonomous Tool-Use Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: taskpilot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run <instruction>  Execute a task")
	fmt.Fprintln(w, "  tools              List available tools (builtin and remote)")
	fmt.Fprintln(w, "  history [n]        Show the n most recent runs (default 10)")
	fmt.Fprintln(w, "  version            Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>     Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -model <id>        Override the configured model")
	fmt.Fprintln(w, "  -max-turns <n>     Override the turn budget")
	fmt.Fprintln(w, "  -log-level <lvl>   trace, debug, info, warn, or error")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./taskpilot.yaml, ~/.config/taskpilot/config.yaml, /etc/taskpilot/config.yaml")
	return nil
}
