package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/orcacoder/orca/internal/agent"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	conv := agent.NewConversation("be terse")
	conv.AppendUser("list the files")
	conv.AppendAssistant("", []agent.ToolCall{{CallID: "c1", Name: "list_dir", Arguments: map[string]any{"path": "."}}})
	conv.AppendToolResult("list_dir", "c1", "one.txt\ntwo.txt", true)

	id, err := s.Save(conv, "exploring", "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Title != "exploring" {
		t.Fatalf("expected title preserved, got %q", loaded.Title)
	}
	if loaded.Conversation.System != conv.System {
		t.Fatalf("system mismatch: %q vs %q", loaded.Conversation.System, conv.System)
	}
	if len(loaded.Conversation.Messages) != len(conv.Messages) {
		t.Fatalf("message count mismatch: got %d want %d", len(loaded.Conversation.Messages), len(conv.Messages))
	}

	call := loaded.Conversation.Messages[1].ToolCalls()
	if len(call) != 1 || call[0].ToolName != "list_dir" || call[0].Arguments["path"] != "." {
		t.Fatalf("tool call not round-tripped: %+v", call)
	}
	result := loaded.Conversation.Messages[2].Content[0]
	if result.Kind != agent.ContentFunctionResult || result.Result != "one.txt\ntwo.txt" {
		t.Fatalf("tool result not round-tripped: %+v", result)
	}
}

func TestSaveOverwritePreservesCreatedAtAndParent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	conv := agent.NewConversation("")
	conv.AppendUser("hi")
	id, err := s.Save(conv, "t1", "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	forkID, err := s.Fork(conv, "fork-of-t1", id, 1)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}

	forked, err := s.Load(forkID)
	if err != nil {
		t.Fatalf("load fork: %v", err)
	}
	if forked.parentID != id {
		t.Fatalf("expected parent %q, got %q", id, forked.parentID)
	}

	conv.AppendUser("more")
	if _, err := s.Save(conv, "t1", forkID); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	reloaded, err := s.Load(forkID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.parentID != id {
		t.Fatalf("expected parent pointer preserved across re-save, got %q", reloaded.parentID)
	}
	if reloaded.forkIndex != 1 {
		t.Fatalf("expected fork index preserved, got %d", reloaded.forkIndex)
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	convA := agent.NewConversation("")
	idA, _ := s.Save(convA, "a", "")
	convB := agent.NewConversation("")
	idB, _ := s.Save(convB, "b", "")

	// Re-save A so it becomes the most recently updated.
	if _, err := s.Save(convA, "a", idA); err != nil {
		t.Fatal(err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != idA {
		t.Fatalf("expected most recently updated first, got %q before %q", list[0].ID, idB)
	}
}

func TestTreeIndentsForkChain(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	root := agent.NewConversation("")
	rootID, _ := s.Save(root, "root", "")
	childID, err := s.Fork(root, "child", rootID, 2)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Fork(root, "grandchild", childID, 0)
	if err != nil {
		t.Fatal(err)
	}

	tree, err := s.Tree()
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(tree) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(tree))
	}
	if tree[0].ID != rootID || tree[0].Depth != 0 {
		t.Fatalf("expected root first at depth 0, got %+v", tree[0])
	}
	if tree[1].Depth != 1 || tree[2].Depth != 2 {
		t.Fatalf("expected increasing depth down the fork chain, got %+v %+v", tree[1], tree[2])
	}
}

func TestLoadMissingSessionErrors(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Load("does-not-exist"); err == nil {
		t.Fatal("expected error loading missing session")
	}
}

// TestLoadPreservesMalformedArgumentsVerbatim hand-writes a session file whose
// tool-call arguments blob is a string rather than an object. Load must not
// fail, and the content must not be silently dropped.
func TestLoadPreservesMalformedArgumentsVerbatim(t *testing.T) {
	dir := t.TempDir()
	raw := `{
		"id": "sess-1",
		"system": "be terse",
		"messages": [
			{
				"role": "user",
				"content": [{"kind": "text", "text": "list the files"}]
			},
			{
				"role": "assistant",
				"content": [{
					"kind": "function_call",
					"call_id": "c1",
					"tool_name": "list_dir",
					"arguments": "not-an-object"
				}]
			}
		]
	}`
	if err := os.WriteFile(filepath.Join(dir, "sess-1.json"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(dir)
	loaded, err := s.Load("sess-1")
	if err != nil {
		t.Fatalf("expected forgiving load, got error: %v", err)
	}
	if len(loaded.Conversation.Messages) != 2 {
		t.Fatalf("expected both messages preserved, got %d", len(loaded.Conversation.Messages))
	}
	calls := loaded.Conversation.Messages[1].ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("expected the malformed call to survive, got %+v", calls)
	}
	if calls[0].Arguments["_raw_json"] != `"not-an-object"` {
		t.Fatalf("expected the raw arguments bytes preserved verbatim, got %+v", calls[0].Arguments)
	}
}

// TestStoredContentRoundTripsRawArgumentsThroughJSON exercises
// StoredContent's Marshal/Unmarshal pair directly: a malformed "arguments"
// value is captured under "_raw_json" on decode, and a well-formed one never
// produces a "_raw_json" key in the encoded output.
func TestStoredContentRoundTripsRawArgumentsThroughJSON(t *testing.T) {
	var malformed StoredContent
	if err := json.Unmarshal([]byte(`{"kind":"function_call","arguments":[1,2,3]}`), &malformed); err != nil {
		t.Fatalf("expected forgiving decode, got error: %v", err)
	}
	if malformed.Arguments != nil {
		t.Fatalf("expected Arguments left nil for an undecodable blob, got %+v", malformed.Arguments)
	}
	if string(malformed.RawArguments) != "[1,2,3]" {
		t.Fatalf("expected raw bytes preserved, got %q", malformed.RawArguments)
	}

	wellFormed := StoredContent{Kind: "function_call", Arguments: map[string]any{"path": "."}}
	encoded, err := json.Marshal(wellFormed)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, has := decoded["_raw_json"]; has {
		t.Fatalf("expected no _raw_json key for well-formed arguments, got %s", encoded)
	}
}
