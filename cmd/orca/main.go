// Package main provides the CLI entry point for orca, a streaming
// terminal coding agent.
//
// # Basic usage
//
//	orca                     start an interactive session
//	orca resume <id>         resume a saved session
//	orca sessions list       list saved sessions newest-first
//	orca sessions tree       show the fork tree of saved sessions
//	orca fork <id>           fork a saved session into a new one
//
// # Environment variables
//
//   - ORCA_CONFIG: path to the YAML config file (default: orca.yaml)
//   - OPENAI_API_KEY: API key for the configured chat-completions backend
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/orcacoder/orca/internal/agent"
	"github.com/orcacoder/orca/internal/config"
	"github.com/orcacoder/orca/internal/memorystore"
	"github.com/orcacoder/orca/internal/metrics"
	"github.com/orcacoder/orca/internal/process"
	"github.com/orcacoder/orca/internal/provider"
	"github.com/orcacoder/orca/internal/ratelimit"
	"github.com/orcacoder/orca/internal/sessions"
	"github.com/orcacoder/orca/internal/subagent"
	"github.com/orcacoder/orca/internal/tools"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with every subcommand attached.
// Separated from main() to keep it testable.
func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "orca",
		Short: "orca - a streaming terminal coding agent",
		Long: `orca couples a streaming chat-completions client to a tool registry,
with permission gating, hooks, checkpoints, and sub-agent fan-out.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), configPath, "")
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: orca.yaml, or $ORCA_CONFIG)")

	rootCmd.AddCommand(
		buildResumeCmd(&configPath),
		buildSessionsCmd(&configPath),
		buildForkCmd(&configPath),
	)
	return rootCmd
}

func buildResumeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), *configPath, args[0])
		},
	}
}

func buildSessionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect saved sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved sessions newest-first",
			RunE: func(cc *cobra.Command, args []string) error {
				env, err := wireEnvironment(*configPath)
				if err != nil {
					return err
				}
				list, err := env.Sessions.List()
				if err != nil {
					return err
				}
				for _, s := range list {
					fmt.Printf("%s  %-20s  %s\n", s.ID, s.Title, s.UpdatedAt.Format(time.RFC3339))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "tree",
			Short: "Show the fork tree of saved sessions",
			RunE: func(cc *cobra.Command, args []string) error {
				env, err := wireEnvironment(*configPath)
				if err != nil {
					return err
				}
				nodes, err := env.Sessions.Tree()
				if err != nil {
					return err
				}
				for _, n := range nodes {
					fmt.Printf("%s%s  %s\n", strings.Repeat("  ", n.Depth), n.ID, n.Title)
				}
				return nil
			},
		},
	)
	return cmd
}

func buildForkCmd(configPath *string) *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "fork <session-id>",
		Short: "Fork a saved session into a new one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			env, err := wireEnvironment(*configPath)
			if err != nil {
				return err
			}
			loaded, err := env.Sessions.Load(args[0])
			if err != nil {
				return err
			}
			forkID, err := env.Sessions.Fork(loaded.Conversation, loaded.Title+" (fork)", args[0], index)
			if err != nil {
				return err
			}
			fmt.Println(forkID)
			return nil
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "message index the fork branches from")
	return cmd
}

// environment bundles every component wired together for one run of orca.
type environment struct {
	Config       *config.Config
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Provider     agent.Provider
	Registry     *agent.ToolRegistry
	Gate         *agent.PermissionGate
	Hooks        *agent.HookRunner
	Checkpoint   *agent.CheckpointStore
	RateLimit    *ratelimit.Limiter
	Supervisor   *process.Supervisor
	Sessions     *sessions.Store
	Memory       *memorystore.Store
	Orchestrator *subagent.Orchestrator
	Engine       *agent.AgentTurnEngine
	Loop         *agent.AgentLoopRunner
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orca"
	}
	return filepath.Join(home, ".config", "orca")
}

func wireEnvironment(configPath string) (*environment, error) {
	if configPath == "" {
		configPath = os.Getenv("ORCA_CONFIG")
	}
	if configPath == "" {
		configPath = "orca.yaml"
	}
	if err := config.LoadDotEnv(""); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	reg := prometheusDefaultRegisterer()
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	apiKey := cfg.Provider.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	chatProvider := provider.NewOpenAIProvider(cfg.Provider.BaseURL, apiKey, cfg.Provider.Model)

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	configDir := defaultConfigDir()

	supervisor := process.New()
	limiter := ratelimit.New(cfg.RateLimit.MinInterval)
	registry := buildToolRegistry(cwd, supervisor, limiter, logger)

	prompter := newStdinPrompter()
	gate := agent.NewPermissionGate(prompter)
	gate.AllowGlobs = cfg.Permission.AllowGlobs
	gate.DenyGlobs = cfg.Permission.DenyGlobs
	gate.AutoApproveModerate = cfg.Permission.AutoApproveModerate
	gate.AutoApproveAll = cfg.Permission.AutoApproveAll

	hooks := agent.NewHookRunner(logger)
	for name, command := range cfg.Hooks.Pre {
		hooks.PreHooks[name] = command
	}
	for name, command := range cfg.Hooks.Post {
		hooks.PostHooks[name] = command
	}

	checkpoint := agent.NewCheckpointStore(filepath.Join(configDir, "checkpoints"))
	sessionStore := sessions.New(filepath.Join(configDir, "sessions"))
	memStore := memorystore.New(cwd, configDir, logger)
	memStore.MaxMemoryFiles = cfg.Memory.MaxMemoryFiles

	orchestrator := subagent.New(chatProvider, registry, gate, hooks, checkpoint, logger)
	orchestrator.ProjectDir = cwd
	orchestrator.ConfigDir = configDir
	if err := orchestrator.LoadDefinitions(); err != nil {
		logger.Warn("failed to load sub-agent definitions", "error", err)
	}

	engine := agent.NewAgentTurnEngine(chatProvider, registry, gate, hooks, checkpoint, logger)
	loop := agent.NewAgentLoopRunner(engine, nil, logger)

	return &environment{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Provider:     chatProvider,
		Registry:     registry,
		Gate:         gate,
		Hooks:        hooks,
		Checkpoint:   checkpoint,
		RateLimit:    limiter,
		Supervisor:   supervisor,
		Sessions:     sessionStore,
		Memory:       memStore,
		Orchestrator: orchestrator,
		Engine:       engine,
		Loop:         loop,
	}, nil
}

func buildToolRegistry(workspace string, supervisor *process.Supervisor, limiter *ratelimit.Limiter, logger *slog.Logger) *agent.ToolRegistry {
	registry := agent.NewToolRegistry()
	registry.Register(tools.NewReadFileTool(workspace), logger)
	registry.Register(tools.NewWriteFileTool(workspace), logger)
	registry.Register(tools.NewEditFileTool(workspace), logger)
	registry.Register(tools.NewMultiEditFileTool(workspace), logger)
	registry.Register(tools.NewDeleteFileTool(workspace), logger)
	registry.Register(tools.NewMoveFileTool(workspace), logger)
	registry.Register(tools.NewListDirTool(workspace), logger)
	registry.Register(tools.NewGrepTool(workspace), logger)
	registry.Register(tools.NewBashTool(supervisor), logger)
	registry.Register(tools.NewGetProcessOutputTool(supervisor), logger)
	registry.Register(tools.NewStopProcessTool(supervisor), logger)
	registry.Register(tools.NewHTTPFetchTool(limiter), logger)
	return registry
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}

// runInteractive drives a REPL: each line of stdin becomes a user turn run
// through the AgentLoopRunner until EOF or interrupt.
func runInteractive(ctx context.Context, configPath, resumeID string) error {
	env, err := wireEnvironment(configPath)
	if err != nil {
		return err
	}
	// Process-exit hook of spec.md §4.5: terminate any background processes the
	// bash tool spawned before the host process itself exits.
	defer env.Supervisor.StopAll()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var conv *agent.Conversation
	sessionID := resumeID
	title := ""
	if resumeID != "" {
		loaded, err := env.Sessions.Load(resumeID)
		if err != nil {
			return fmt.Errorf("resume %s: %w", resumeID, err)
		}
		conv = loaded.Conversation
		title = loaded.Title
	} else {
		system := "You are orca, a terminal coding agent with access to file, search, shell, and sub-agent tools."
		if notes := env.Memory.Load(); notes != "" {
			system += "\n\nPrior session notes:\n" + notes
		}
		conv = agent.NewConversation(system)
	}

	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	opts := agent.DefaultLoopOptions()
	opts.MaxIterations = env.Config.Loop.MaxIterations
	opts.AutoCompactFraction = env.Config.Loop.AutoCompactFraction
	opts.PreserveLastN = env.Config.Loop.PreserveLastN
	opts.ContextWindow = env.Config.Loop.ContextWindow
	opts.WallClockTimeout = env.Config.Loop.WallClockTimeout
	opts.NativeTools = env.Config.Provider.NativeTools
	opts.Temperature = env.Config.Provider.Temperature
	opts.MaxTokens = env.Config.Provider.MaxTokens
	opts.StreamIdleLimit = env.Config.Loop.StreamIdleLimit
	opts.Mode = agent.Mode(env.Config.Permission.Mode)
	opts.OnText = func(chunk string) { fmt.Print(chunk) }

	fmt.Fprintln(os.Stderr, "orca ready. Type a task and press enter (Ctrl-D to quit).")
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !reader.Scan() {
			break
		}
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		conv.AppendUser(line)
		opts.SessionID = sessionID

		if err := env.Loop.Run(ctx, conv, opts); err != nil {
			env.Logger.Error("turn failed", "error", err)
		}
		fmt.Println()

		savedID, err := env.Sessions.Save(conv, title, sessionID)
		if err != nil {
			env.Logger.Warn("failed to save session", "error", err)
		} else {
			sessionID = savedID
		}

		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

// stdinPrompter implements agent.Prompter against the controlling terminal,
// falling back to denial when stdin is not a tty.
type stdinPrompter struct {
	reader *bufio.Reader
}

func newStdinPrompter() *stdinPrompter {
	return &stdinPrompter{reader: bufio.NewReader(os.Stdin)}
}

func (p *stdinPrompter) Confirm(toolName, argsJSON string) (always bool, approved bool) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, false
	}
	fmt.Fprintf(os.Stderr, "\nAllow %s(%s)? [y]es/[n]o/[a]lways: ", toolName, argsJSON)
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return false, true
	case "a", "always":
		return true, true
	default:
		return false, false
	}
}

func parseIndex(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
