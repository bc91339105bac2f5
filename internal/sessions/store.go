// Package sessions persists conversations as JSON files on disk, with
// fork/tree support for branching a conversation at any point.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orcacoder/orca/internal/agent"
)

// Record is the on-disk representation of one session.
type Record struct {
	ID        string          `json:"id"`
	ParentID  string          `json:"parent_id,omitempty"`
	ForkIndex int             `json:"fork_index,omitempty"`
	Title     string          `json:"title,omitempty"`
	System    string          `json:"system"`
	Messages  []StoredMessage `json:"messages"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StoredMessage is the JSON-friendly form of agent.Message.
type StoredMessage struct {
	Role    agent.Role      `json:"role"`
	Content []StoredContent `json:"content"`
}

// StoredContent mirrors agent.Content, using RawArguments instead of a
// typed map so malformed tool-call argument blobs can be preserved under
// RawArguments rather than dropped on a failed unmarshal.
type StoredContent struct {
	Kind string `json:"kind"`

	Text string `json:"text,omitempty"`

	CallID       string          `json:"call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	Arguments    map[string]any  `json:"arguments,omitempty"`
	RawArguments json.RawMessage `json:"_raw_json,omitempty"`

	ResultCallID string `json:"result_call_id,omitempty"`
	Result       string `json:"result,omitempty"`
}

// rawStoredContent is StoredContent's wire shape with Arguments left as raw
// JSON, so UnmarshalJSON can attempt its own decode and fall back instead of
// letting encoding/json silently zero the field on a type mismatch.
type rawStoredContent struct {
	Kind         string          `json:"kind"`
	Text         string          `json:"text,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	RawArguments json.RawMessage `json:"_raw_json,omitempty"`
	ResultCallID string          `json:"result_call_id,omitempty"`
	Result       string          `json:"result,omitempty"`
}

// MarshalJSON writes Arguments normally; RawArguments is only ever populated
// by UnmarshalJSON's fallback path, so a round-tripped record never carries
// both fields.
func (sc StoredContent) MarshalJSON() ([]byte, error) {
	aux := rawStoredContent{
		Kind: sc.Kind, Text: sc.Text, CallID: sc.CallID, ToolName: sc.ToolName,
		RawArguments: sc.RawArguments, ResultCallID: sc.ResultCallID, Result: sc.Result,
	}
	if sc.Arguments != nil {
		b, err := json.Marshal(sc.Arguments)
		if err != nil {
			return nil, err
		}
		aux.Arguments = b
	}
	return json.Marshal(aux)
}

// UnmarshalJSON decodes arguments defensively: when the "arguments" value
// does not deserialize into a map (spec.md:202's "forgiving" requirement), the
// verbatim bytes are kept under RawArguments instead of being dropped.
func (sc *StoredContent) UnmarshalJSON(data []byte) error {
	var aux rawStoredContent
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	sc.Kind = aux.Kind
	sc.Text = aux.Text
	sc.CallID = aux.CallID
	sc.ToolName = aux.ToolName
	sc.ResultCallID = aux.ResultCallID
	sc.Result = aux.Result
	sc.RawArguments = aux.RawArguments

	if len(aux.Arguments) > 0 {
		var m map[string]any
		if err := json.Unmarshal(aux.Arguments, &m); err == nil {
			sc.Arguments = m
		} else if len(sc.RawArguments) == 0 {
			sc.RawArguments = append(json.RawMessage(nil), aux.Arguments...)
		}
	}
	return nil
}

// UnmarshalJSON decodes Content item-by-item so one malformed item degrades
// gracefully instead of failing the whole message (spec.md:202).
func (sm *StoredMessage) UnmarshalJSON(data []byte) error {
	var aux struct {
		Role    agent.Role        `json:"role"`
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	sm.Role = aux.Role
	sm.Content = make([]StoredContent, 0, len(aux.Content))
	for _, raw := range aux.Content {
		var sc StoredContent
		if err := sc.UnmarshalJSON(raw); err != nil {
			continue
		}
		sm.Content = append(sm.Content, sc)
	}
	return nil
}

// UnmarshalJSON decodes Messages message-by-message so one malformed message
// degrades gracefully instead of failing the whole session file (spec.md:202).
func (r *Record) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID        string            `json:"id"`
		ParentID  string            `json:"parent_id,omitempty"`
		ForkIndex int               `json:"fork_index,omitempty"`
		Title     string            `json:"title,omitempty"`
		System    string            `json:"system"`
		Messages  []json.RawMessage `json:"messages"`
		CreatedAt time.Time         `json:"created_at"`
		UpdatedAt time.Time         `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.ID = aux.ID
	r.ParentID = aux.ParentID
	r.ForkIndex = aux.ForkIndex
	r.Title = aux.Title
	r.System = aux.System
	r.CreatedAt = aux.CreatedAt
	r.UpdatedAt = aux.UpdatedAt
	r.Messages = make([]StoredMessage, 0, len(aux.Messages))
	for _, raw := range aux.Messages {
		var sm StoredMessage
		if err := json.Unmarshal(raw, &sm); err != nil {
			continue
		}
		r.Messages = append(r.Messages, sm)
	}
	return nil
}

// Store persists sessions as one JSON file per id under baseDir.
type Store struct {
	baseDir string
}

// New returns a store rooted at baseDir (typically "<config>/sessions").
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

// Save serializes conv to disk under id (generating a fresh uuid if id is
// empty) and returns the id used.
func (s *Store) Save(conv *agent.Conversation, title, existingID string) (string, error) {
	id := existingID
	if id == "" {
		id = uuid.NewString()
	}

	rec := Record{
		ID:        id,
		Title:     title,
		System:    conv.System,
		Messages:  toStoredMessages(conv.Messages),
		UpdatedAt: time.Now().UTC(),
	}
	if existingID != "" {
		if prior, err := s.Load(existingID); err == nil {
			rec.CreatedAt = prior.createdAt
			rec.ParentID = prior.parentID
			rec.ForkIndex = prior.forkIndex
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("sessions: create dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("sessions: marshal: %w", err)
	}
	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		return "", fmt.Errorf("sessions: write: %w", err)
	}
	return id, nil
}

// LoadedConversation pairs a reconstructed Conversation with its session
// metadata.
type LoadedConversation struct {
	Conversation *agent.Conversation
	Title        string
	createdAt    time.Time
	parentID     string
	forkIndex    int
}

// Load reads id back into a Conversation. A stored tool-call whose Arguments
// failed to deserialize keeps its raw JSON under "_raw_json" instead of being
// dropped.
func (s *Store) Load(id string) (LoadedConversation, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return LoadedConversation{}, fmt.Errorf("sessions: read %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return LoadedConversation{}, fmt.Errorf("sessions: parse %s: %w", id, err)
	}

	conv := agent.NewConversation(rec.System)
	for _, sm := range rec.Messages {
		conv.Messages = append(conv.Messages, fromStoredMessage(sm))
	}

	return LoadedConversation{
		Conversation: conv,
		Title:        rec.Title,
		createdAt:    rec.CreatedAt,
		parentID:     rec.ParentID,
		forkIndex:    rec.ForkIndex,
	}, nil
}

// Summary is the listing view of a session.
type Summary struct {
	ID        string
	Title     string
	ParentID  string
	UpdatedAt time.Time
}

// List returns every session newest-first by update time.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: list dir: %w", err)
	}
	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		data, err := os.ReadFile(filepath.Join(s.baseDir, e.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, Summary{ID: id, Title: rec.Title, ParentID: rec.ParentID, UpdatedAt: rec.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Fork writes conv under a fresh id with a parent pointer back to parentID.
func (s *Store) Fork(conv *agent.Conversation, title, parentID string, index int) (string, error) {
	id := uuid.NewString()
	rec := Record{
		ID:        id,
		ParentID:  parentID,
		ForkIndex: index,
		Title:     title,
		System:    conv.System,
		Messages:  toStoredMessages(conv.Messages),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("sessions: create dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("sessions: marshal: %w", err)
	}
	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		return "", fmt.Errorf("sessions: write: %w", err)
	}
	return id, nil
}

// TreeNode is one entry in an indented parent-link traversal.
type TreeNode struct {
	ID    string
	Title string
	Depth int
}

// Tree walks parent links starting at every root session (no parent) into an
// indented traversal.
func (s *Store) Tree() ([]TreeNode, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	byParent := make(map[string][]Summary)
	for _, rec := range all {
		byParent[rec.ParentID] = append(byParent[rec.ParentID], rec)
	}
	var out []TreeNode
	var walk func(parentID string, depth int)
	walk = func(parentID string, depth int) {
		children := byParent[parentID]
		sort.Slice(children, func(i, j int) bool { return children[i].UpdatedAt.Before(children[j].UpdatedAt) })
		for _, c := range children {
			out = append(out, TreeNode{ID: c.ID, Title: c.Title, Depth: depth})
			walk(c.ID, depth+1)
		}
	}
	walk("", 0)
	return out, nil
}

func toStoredMessages(messages []agent.Message) []StoredMessage {
	out := make([]StoredMessage, len(messages))
	for i, m := range messages {
		sm := StoredMessage{Role: m.Role}
		for _, c := range m.Content {
			sc := StoredContent{Kind: string(c.Kind), Text: c.Text, CallID: c.CallID, ToolName: c.ToolName,
				ResultCallID: c.ResultCallID, Result: c.Result}
			if c.Kind == agent.ContentFunctionCall {
				sc.Arguments = c.Arguments
			}
			sm.Content = append(sm.Content, sc)
		}
		out[i] = sm
	}
	return out
}

func fromStoredMessage(sm StoredMessage) agent.Message {
	m := agent.Message{Role: sm.Role}
	for _, sc := range sm.Content {
		switch agent.ContentKind(sc.Kind) {
		case agent.ContentText:
			m.Content = append(m.Content, agent.TextContent(sc.Text))
		case agent.ContentFunctionCall:
			args := sc.Arguments
			if args == nil && len(sc.RawArguments) > 0 {
				// The original arguments blob failed to deserialize into a map;
				// surface it verbatim rather than silently dropping it.
				args = map[string]any{"_raw_json": string(sc.RawArguments)}
			}
			m.Content = append(m.Content, agent.CallContent(sc.CallID, sc.ToolName, args))
		case agent.ContentFunctionResult:
			m.Content = append(m.Content, agent.ResultContent(sc.ResultCallID, sc.Result))
		}
	}
	return m
}
