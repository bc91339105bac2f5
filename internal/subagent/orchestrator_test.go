package subagent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/orcacoder/orca/internal/agent"
)

type fakeProvider struct {
	text string
}

func (f *fakeProvider) StreamChat(ctx context.Context, req agent.ChatRequest, onEvent func(agent.StreamEvent)) (agent.ChatResponse, error) {
	onEvent(agent.StreamEvent{TextDelta: f.text})
	return agent.ChatResponse{Text: f.text}, nil
}

func newTestOrchestrator(provider agent.Provider, registry *agent.ToolRegistry) *Orchestrator {
	gate := agent.NewPermissionGate(nil)
	gate.AutoApproveAll = true
	o := New(provider, registry, gate, agent.NewHookRunner(nil), nil, nil)
	o.MaxIterations = 5
	return o
}

func TestResolveBuiltinTypes(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, agent.NewToolRegistry())
	for _, name := range []string{"explore", "plan", "bash", "review", "general"} {
		def, ok := o.resolve(name)
		if !ok {
			t.Fatalf("expected builtin type %q to resolve", name)
		}
		if def.Name != name {
			t.Fatalf("expected resolved name %q, got %q", name, def.Name)
		}
	}
	if _, ok := o.resolve("does-not-exist"); ok {
		t.Fatal("expected unknown type to fail resolution")
	}
}

func TestSpawnRunsToCompletion(t *testing.T) {
	registry := agent.NewToolRegistry()
	o := newTestOrchestrator(&fakeProvider{text: "done investigating"}, registry)

	res, err := o.Spawn(context.Background(), "find the bug", "explore")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (err=%v)", res.Status, res.Err)
	}
	if res.Output != "done investigating" {
		t.Fatalf("unexpected output: %q", res.Output)
	}
}

func TestSpawnUnknownTypeErrors(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, agent.NewToolRegistry())
	if _, err := o.Spawn(context.Background(), "task", "nonexistent"); err == nil {
		t.Fatal("expected error for unknown agent type")
	}
}

func TestSpawnParallelCollectsAllResults(t *testing.T) {
	registry := agent.NewToolRegistry()
	o := newTestOrchestrator(&fakeProvider{text: "ok"}, registry)
	o.MaxActive = 10

	results, err := o.SpawnParallel(context.Background(), []string{"task one", "task two", "task three"}, "general")
	if err != nil {
		t.Fatalf("spawn parallel: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for id, r := range results {
		if r.Status != StatusCompleted {
			t.Fatalf("agent %s did not complete: %s", id, r.Status)
		}
	}
}

func TestLoadDefinitionsProjectShadowsGlobal(t *testing.T) {
	global := t.TempDir()
	project := t.TempDir()

	globalAgents := filepath.Join(global, "agents")
	projectAgents := filepath.Join(project, ".orca", "agents")
	if err := os.MkdirAll(globalAgents, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(projectAgents, 0o755); err != nil {
		t.Fatal(err)
	}

	globalDef := "---\nname: researcher\ndescription: global researcher\ntools: [read_file]\n---\nGlobal prompt for {{TASK}}."
	projectDef := "---\nname: researcher\ndescription: project researcher\ntools: [read_file, grep]\n---\nProject prompt for {{TASK}}."
	if err := os.WriteFile(filepath.Join(globalAgents, "researcher.md"), []byte(globalDef), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(projectAgents, "researcher.md"), []byte(projectDef), 0o644); err != nil {
		t.Fatal(err)
	}

	o := newTestOrchestrator(&fakeProvider{}, agent.NewToolRegistry())
	o.ConfigDir = global
	o.ProjectDir = project
	if err := o.LoadDefinitions(); err != nil {
		t.Fatalf("load definitions: %v", err)
	}

	def, ok := o.resolve("researcher")
	if !ok {
		t.Fatal("expected custom type to resolve")
	}
	if def.Description != "project researcher" {
		t.Fatalf("expected project definition to shadow global, got %q", def.Description)
	}
	if len(def.AllowedTools) != 2 {
		t.Fatalf("expected project tool list, got %v", def.AllowedTools)
	}
}

func TestLoadDefinitionsSkipsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	agentsDir := filepath.Join(dir, ".orca", "agents")
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(agentsDir, "broken.md"), []byte("no frontmatter here"), 0o644); err != nil {
		t.Fatal(err)
	}

	o := newTestOrchestrator(&fakeProvider{}, agent.NewToolRegistry())
	o.ProjectDir = dir
	if err := o.LoadDefinitions(); err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if _, ok := o.resolve("broken"); ok {
		t.Fatal("expected malformed definition to be skipped")
	}
}

func TestParseDefinitionSubstitutesTemplateVars(t *testing.T) {
	raw := "---\nname: custom\ndescription: a custom agent\ntools: [bash]\n---\nRun on {{CWD}} ({{PLATFORM}}): {{TASK}}"
	def, ok := parseDefinition(raw)
	if !ok {
		t.Fatal("expected definition to parse")
	}
	rendered := renderPrompt(def.PromptTemplate, "build it", "/tmp/proj", "linux")
	if rendered != "Run on /tmp/proj (linux): build it" {
		t.Fatalf("unexpected rendered prompt: %q", rendered)
	}
}
