// Package subagent spawns restricted-tool-set specialist agents — built-in
// types plus custom markdown+frontmatter definitions — as independent turn
// loops against the same provider and tool registry as the parent.
package subagent

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Status is the lifecycle of one spawned agent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// AgentType is a named specialist: a prompt template plus an allowed-tool
// list. A nil AllowedTools means unrestricted (the "general" built-in).
type AgentType struct {
	Name         string
	Description  string
	AllowedTools []string
	PromptTemplate string
}

var builtinTypes = map[string]AgentType{
	"explore": {
		Name:        "explore",
		Description: "Read-only search across the codebase.",
		AllowedTools: []string{"read_file", "list_dir", "grep"},
		PromptTemplate: "You are a read-only exploration agent. Investigate the codebase at {{CWD}} on " +
			"{{PLATFORM}} to accomplish the following task, using only search and read tools. Do not " +
			"attempt to modify anything.\n\nTask: {{TASK}}",
	},
	"plan": {
		Name:        "plan",
		Description: "Read-only research plus web access to produce a plan.",
		AllowedTools: []string{"read_file", "list_dir", "grep", "http_fetch"},
		PromptTemplate: "You are a planning agent. Research the task below from {{CWD}} on {{PLATFORM}} " +
			"using read-only and web tools, then produce a concrete step-by-step plan. Do not modify " +
			"anything.\n\nTask: {{TASK}}",
	},
	"bash": {
		Name:        "bash",
		Description: "Shell and process control plus read-only search.",
		AllowedTools: []string{"bash", "get_process_output", "stop_process", "read_file", "list_dir", "grep"},
		PromptTemplate: "You are a shell agent operating from {{CWD}} on {{PLATFORM}}. Use the bash and " +
			"process-control tools to accomplish the task below.\n\nTask: {{TASK}}",
	},
	"review": {
		Name:        "review",
		Description: "Read-only search plus git history inspection.",
		AllowedTools: []string{"read_file", "list_dir", "grep", "bash"},
		PromptTemplate: "You are a code review agent working from {{CWD}} on {{PLATFORM}}. Inspect the " +
			"relevant code and, if useful, recent git history via bash (read-only git subcommands only), " +
			"then report findings for the task below.\n\nTask: {{TASK}}",
	},
	"general": {
		Name:           "general",
		Description:    "Unrestricted access to every registered tool.",
		AllowedTools:   nil,
		PromptTemplate: "You are a general-purpose agent working from {{CWD}} on {{PLATFORM}}.\n\nTask: {{TASK}}",
	},
}

// frontmatter is the YAML header of a custom agent-type definition file.
type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools"`
}

// parseDefinition splits a markdown file with a leading "---"-delimited YAML
// frontmatter block from its prompt-template body. Returns ok=false if the
// file has no well-formed frontmatter block.
func parseDefinition(raw string) (AgentType, bool) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(raw, "---\n") {
		return AgentType{}, false
	}
	rest := raw[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return AgentType{}, false
	}
	header := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return AgentType{}, false
	}
	if fm.Name == "" || fm.Description == "" {
		return AgentType{}, false
	}
	return AgentType{
		Name:           fm.Name,
		Description:    fm.Description,
		AllowedTools:   fm.Tools,
		PromptTemplate: strings.TrimRight(body, "\n"),
	}, true
}

// renderPrompt substitutes the {{TASK}}, {{CWD}}, {{PLATFORM}} template
// variables into an agent type's prompt template.
func renderPrompt(tmpl, task, cwd, platform string) string {
	r := strings.NewReplacer("{{TASK}}", task, "{{CWD}}", cwd, "{{PLATFORM}}", platform)
	return r.Replace(tmpl)
}

// Result is the outcome of one spawned agent, collected by id.
type Result struct {
	ID        string
	Type      string
	Task      string
	Status    Status
	Output    string
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}
