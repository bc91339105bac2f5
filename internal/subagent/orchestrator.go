package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/orcacoder/orca/internal/agent"
)

const defaultWallClock = 300 * time.Second
const watchDebounce = 250 * time.Millisecond

// Orchestrator spawns specialist agents as independent turn loops sharing the
// parent's provider, permission gate, hooks, and checkpoint store, but a
// restricted view of the tool registry.
type Orchestrator struct {
	Provider   agent.Provider
	Registry   *agent.ToolRegistry
	Gate       *agent.PermissionGate
	Hooks      *agent.HookRunner
	Checkpoint *agent.CheckpointStore
	Summarizer agent.Summarizer
	Logger     *slog.Logger

	ProjectDir string
	ConfigDir  string

	MaxIterations    int
	DefaultWallClock time.Duration
	MaxActive        int

	mu          sync.RWMutex
	custom      map[string]AgentType
	results     map[string]*Result
	activeCount int64

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// Watch starts an fsnotify watch over the project and global agent-definition
// directories, reloading custom types (debounced) whenever a file is
// created, written, removed, or renamed. A no-op if already watching.
func (o *Orchestrator) Watch(ctx context.Context) error {
	o.watchMu.Lock()
	if o.watcher != nil {
		o.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		o.watchMu.Unlock()
		return fmt.Errorf("subagent: create watcher: %w", err)
	}
	for _, dir := range []string{filepath.Join(o.ConfigDir, "agents"), filepath.Join(o.ProjectDir, ".orca", "agents")} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err == nil {
			_ = watcher.Add(dir)
		}
	}
	o.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	o.watchCancel = cancel
	o.watchMu.Unlock()

	o.watchWg.Add(1)
	go o.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the definition-directory watcher, if running.
func (o *Orchestrator) Close() error {
	o.watchMu.Lock()
	if o.watchCancel != nil {
		o.watchCancel()
		o.watchCancel = nil
	}
	watcher := o.watcher
	o.watcher = nil
	o.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	o.watchWg.Wait()
	return nil
}

func (o *Orchestrator) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer o.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if err := o.LoadDefinitions(); err != nil {
				o.Logger.Warn("subagent: reload after watch event failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			o.Logger.Warn("subagent: watch error", "error", err)
		}
	}
}

// New wires an Orchestrator. ProjectDir/ConfigDir are used to locate
// "<ProjectDir>/.orca/agents" and "<ConfigDir>/agents" custom definitions.
func New(provider agent.Provider, registry *agent.ToolRegistry, gate *agent.PermissionGate, hooks *agent.HookRunner, checkpoint *agent.CheckpointStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Provider:         provider,
		Registry:         registry,
		Gate:             gate,
		Hooks:            hooks,
		Checkpoint:       checkpoint,
		Logger:           logger,
		MaxIterations:    25,
		DefaultWallClock: defaultWallClock,
		MaxActive:        5,
		custom:           make(map[string]AgentType),
		results:          make(map[string]*Result),
	}
}

// LoadDefinitions (re)reads custom agent-type markdown files from the project
// and global directories. Project definitions shadow global ones of the same
// name. Malformed files are skipped rather than failing the whole load.
func (o *Orchestrator) LoadDefinitions() error {
	merged := make(map[string]AgentType)

	if o.ConfigDir != "" {
		o.loadDir(filepath.Join(o.ConfigDir, "agents"), merged)
	}
	if o.ProjectDir != "" {
		o.loadDir(filepath.Join(o.ProjectDir, ".orca", "agents"), merged)
	}

	o.mu.Lock()
	o.custom = merged
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) loadDir(dir string, merged map[string]AgentType) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			o.Logger.Warn("subagent: failed to read definition file", "file", e.Name(), "error", err)
			continue
		}
		def, ok := parseDefinition(string(data))
		if !ok {
			o.Logger.Warn("subagent: skipping malformed agent definition", "file", e.Name())
			continue
		}
		merged[strings.ToLower(def.Name)] = def
	}
}

// resolve looks up an agent type by name: custom definitions (already
// project-over-global merged by LoadDefinitions) take precedence over
// built-ins.
func (o *Orchestrator) resolve(name string) (AgentType, bool) {
	if name == "" {
		name = "general"
	}
	key := strings.ToLower(name)

	o.mu.RLock()
	def, ok := o.custom[key]
	o.mu.RUnlock()
	if ok {
		return def, true
	}
	def, ok = builtinTypes[key]
	return def, ok
}

// Spawn runs one specialist agent to completion and returns its result.
func (o *Orchestrator) Spawn(ctx context.Context, task, typeName string) (*Result, error) {
	def, ok := o.resolve(typeName)
	if !ok {
		return nil, fmt.Errorf("subagent: unknown agent type %q", typeName)
	}
	if atomic.LoadInt64(&o.activeCount) >= int64(o.MaxActive) {
		return nil, fmt.Errorf("subagent: max active sub-agents reached (%d)", o.MaxActive)
	}

	id := uuid.NewString()
	res := &Result{ID: id, Type: def.Name, Task: task, Status: StatusPending, StartedAt: time.Now()}
	o.mu.Lock()
	o.results[id] = res
	o.mu.Unlock()

	o.run(ctx, res, def)
	return res, nil
}

// SpawnParallel runs every task concurrently under typeName (or "general" if
// empty) and collects results by agent id once all have finished.
func (o *Orchestrator) SpawnParallel(ctx context.Context, tasks []string, typeName string) (map[string]*Result, error) {
	out := make(map[string]*Result, len(tasks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, task := range tasks {
		task := task
		def, ok := o.resolve(typeName)
		if !ok {
			return nil, fmt.Errorf("subagent: unknown agent type %q", typeName)
		}

		id := uuid.NewString()
		res := &Result{ID: id, Type: def.Name, Task: task, Status: StatusPending, StartedAt: time.Now()}
		o.mu.Lock()
		o.results[id] = res
		o.mu.Unlock()
		mu.Lock()
		out[id] = res
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			o.run(ctx, res, def)
		}()
	}
	wg.Wait()
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, res *Result, def AgentType) {
	atomic.AddInt64(&o.activeCount, 1)
	defer atomic.AddInt64(&o.activeCount, -1)

	res.Status = StatusRunning

	subset := o.Registry
	if def.AllowedTools != nil {
		subset = o.Registry.Subset(def.AllowedTools)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	prompt := renderPrompt(def.PromptTemplate, res.Task, cwd, runtime.GOOS)

	conv := agent.NewConversation("You are a specialist sub-agent. Complete the assigned task and stop.")
	conv.AppendUser(prompt)

	engine := agent.NewAgentTurnEngine(o.Provider, subset, o.Gate, o.Hooks, o.Checkpoint, o.Logger)
	runner := agent.NewAgentLoopRunner(engine, o.Summarizer, o.Logger)

	wallClock := o.DefaultWallClock
	if wallClock <= 0 {
		wallClock = defaultWallClock
	}
	maxIter := o.MaxIterations
	if maxIter <= 0 {
		maxIter = 25
	}

	opts := agent.DefaultLoopOptions()
	opts.MaxIterations = maxIter
	opts.WallClockTimeout = wallClock
	opts.TurnOptions.NativeTools = true
	opts.TurnOptions.SessionID = res.ID

	runErr := runner.Run(ctx, conv, opts)
	res.EndedAt = time.Now()

	if runErr != nil {
		res.Status = StatusFailed
		res.Err = runErr
		if ctx.Err() != nil {
			res.Status = StatusCancelled
		}
		return
	}

	res.Status = StatusCompleted
	res.Output = lastAssistantText(conv)
}

func lastAssistantText(conv *agent.Conversation) string {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		m := conv.Messages[i]
		if m.Role == agent.RoleAssistant {
			if text := m.Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

// Get returns a spawned agent's current result by id.
func (o *Orchestrator) Get(id string) (*Result, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.results[id]
	return r, ok
}

// List returns every spawned agent's current result.
func (o *Orchestrator) List() []*Result {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Result, 0, len(o.results))
	for _, r := range o.results {
		out = append(out, r)
	}
	return out
}

// ActiveCount reports how many spawned agents are currently running.
func (o *Orchestrator) ActiveCount() int {
	return int(atomic.LoadInt64(&o.activeCount))
}
