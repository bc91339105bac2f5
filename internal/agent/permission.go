package agent

import (
	"path"
	"strings"
	"sync"
)

// Mode selects how PermissionGate treats otherwise-approvable calls.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModePlan   Mode = "plan"
	ModeAsk    Mode = "ask"
)

// Decision is the outcome of one PermissionGate.Check call.
type Decision string

const (
	DecisionApproved     Decision = "approved"
	DecisionDenied       Decision = "denied"
	DecisionPlanDeferred Decision = "plan_deferred"
	DecisionPrompt       Decision = "prompt"
)

// Prompter asks the user a yes/no/always question about one pending call and
// returns the answer. Implementations back onto a terminal or other UI.
type Prompter interface {
	Confirm(toolName, argsJSON string) (always bool, approved bool)
}

// PermissionGate decides whether a tool call may proceed, applying risk tier,
// allow/deny glob patterns, and (when nothing else resolves it) an interactive
// prompt (spec.md §4.2).
type PermissionGate struct {
	mu sync.Mutex

	AllowGlobs []string
	DenyGlobs  []string

	AutoApproveModerate bool
	AutoApproveAll      bool

	Prompter Prompter

	// alwaysApprove accumulates tool names the user approved with "always" this
	// session. It is in-memory only; it does not persist across sessions.
	alwaysApprove map[string]bool
}

// NewPermissionGate returns a gate with no patterns and no auto-approve ceiling
// beyond read-only tools.
func NewPermissionGate(prompter Prompter) *PermissionGate {
	return &PermissionGate{Prompter: prompter, alwaysApprove: make(map[string]bool)}
}

// Check applies the ordered decision rule of spec.md §4.2 and, when it resolves
// to "prompt", invokes the configured Prompter.
func (g *PermissionGate) Check(mode Mode, toolName string, risk RiskTier, argsJSON string) Decision {
	name := strings.ToLower(toolName)

	if mode == ModePlan && risk != RiskReadOnly {
		return DecisionPlanDeferred
	}
	if mode == ModeAsk {
		return DecisionDenied
	}
	if g.matchesDeny(name, argsJSON) {
		return DecisionDenied
	}
	if g.autoApproved(name, argsJSON, risk) {
		return DecisionApproved
	}

	if g.Prompter == nil {
		return DecisionDenied
	}
	always, approved := g.Prompter.Confirm(toolName, argsJSON)
	if always && approved {
		g.mu.Lock()
		g.alwaysApprove[name] = true
		g.mu.Unlock()
	}
	if approved {
		return DecisionApproved
	}
	return DecisionDenied
}

func (g *PermissionGate) matchesDeny(name, argsJSON string) bool {
	for _, pattern := range g.DenyGlobs {
		if matchToolGlob(pattern, name, argsJSON) {
			return true
		}
	}
	return false
}

func (g *PermissionGate) autoApproved(name, argsJSON string, risk RiskTier) bool {
	g.mu.Lock()
	always := g.alwaysApprove[name]
	g.mu.Unlock()
	if always {
		return true
	}
	for _, pattern := range g.AllowGlobs {
		if matchToolGlob(pattern, name, argsJSON) {
			return true
		}
	}
	switch risk {
	case RiskReadOnly:
		return true
	case RiskModerate:
		return g.AutoApproveModerate || g.AutoApproveAll
	case RiskDangerous:
		return g.AutoApproveAll
	default:
		return false
	}
}

// matchToolGlob matches patterns of the form "ToolName" or "ToolName(argGlob)".
// Tool-name matching is case-insensitive; the optional parenthesised glob is
// matched against the canonical JSON argument string using path.Match
// semantics (*, ?, character classes), except that '/' is an ordinary
// character, so '*' also matches across it.
func matchToolGlob(pattern, name, argsJSON string) bool {
	toolPart := pattern
	argGlob := ""
	if open := strings.IndexByte(pattern, '('); open >= 0 && strings.HasSuffix(pattern, ")") {
		toolPart = pattern[:open]
		argGlob = pattern[open+1 : len(pattern)-1]
	}
	if !strings.EqualFold(toolPart, name) {
		return false
	}
	if argGlob == "" {
		return true
	}
	// path.Match stops '*' at '/'; map '/' to NUL on both sides (canonical JSON
	// never contains a raw NUL) so paths inside arguments do not block a match.
	ok, err := path.Match(strings.ReplaceAll(argGlob, "/", "\x00"), strings.ReplaceAll(argsJSON, "/", "\x00"))
	return err == nil && ok
}
