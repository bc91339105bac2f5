package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMultiEditAppliesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(a, []byte("alpha marker"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("beta marker"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMultiEditFileTool(dir)
	res, err := m.Execute(context.Background(), map[string]any{
		"edits": []any{
			map[string]any{"path": "a.txt", "old_string": "marker", "new_string": "replaced"},
			map[string]any{"path": "b.txt", "old_string": "marker", "new_string": "replaced"},
		},
	})
	if err != nil || res.IsError() {
		t.Fatalf("expected success, got %+v err=%v", res, err)
	}
	gotA, _ := os.ReadFile(a)
	gotB, _ := os.ReadFile(b)
	if string(gotA) != "alpha replaced" {
		t.Fatalf("unexpected a.txt content: %q", gotA)
	}
	if string(gotB) != "beta replaced" {
		t.Fatalf("unexpected b.txt content: %q", gotB)
	}
}

func TestMultiEditValidationFailureTouchesNoFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(a, []byte("alpha marker"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("beta haystack only"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMultiEditFileTool(dir)
	res, err := m.Execute(context.Background(), map[string]any{
		"edits": []any{
			map[string]any{"path": "a.txt", "old_string": "marker", "new_string": "replaced"},
			map[string]any{"path": "b.txt", "old_string": "needle", "new_string": "replaced"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError() {
		t.Fatal("expected failure when one edit's old_string is absent")
	}
	gotA, _ := os.ReadFile(a)
	if string(gotA) != "alpha marker" {
		t.Fatalf("expected a.txt untouched since validation happens before any write, got %q", gotA)
	}
}

func TestMultiEditRollbackRestoresPreWriteContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(a, []byte("original a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("original b"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Simulate phase 2 having already written both files, then exercise the
	// rollback helper directly: it must restore byte-identical pre-write
	// content to every path it is told about.
	if err := os.WriteFile(a, []byte("mutated a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("mutated b"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMultiEditFileTool(dir)
	m.rollback([]string{a, b}, map[string][]byte{a: []byte("original a"), b: []byte("original b")})

	gotA, _ := os.ReadFile(a)
	gotB, _ := os.ReadFile(b)
	if string(gotA) != "original a" || string(gotB) != "original b" {
		t.Fatalf("rollback did not restore pre-write content: a=%q b=%q", gotA, gotB)
	}
}

func TestMultiEditSequentialEditsOnSameFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(a, []byte("one two three"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMultiEditFileTool(dir)
	res, err := m.Execute(context.Background(), map[string]any{
		"edits": []any{
			map[string]any{"path": "a.txt", "old_string": "one", "new_string": "1"},
			map[string]any{"path": "a.txt", "old_string": "three", "new_string": "3"},
		},
	})
	if err != nil || res.IsError() {
		t.Fatalf("expected success, got %+v err=%v", res, err)
	}
	got, _ := os.ReadFile(a)
	if string(got) != "1 two 3" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestMultiEditMutationPathsDeduplicates(t *testing.T) {
	dir := t.TempDir()
	m := NewMultiEditFileTool(dir)
	paths := m.MutationPaths(map[string]any{
		"edits": []any{
			map[string]any{"path": "a.txt", "old_string": "x", "new_string": "y"},
			map[string]any{"path": "a.txt", "old_string": "y", "new_string": "z"},
			map[string]any{"path": "b.txt", "old_string": "x", "new_string": "y"},
		},
	})
	if len(paths) != 2 {
		t.Fatalf("expected 2 deduplicated paths, got %d: %v", len(paths), paths)
	}
}

func TestEditFileIndentationNormalisedMatch(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "d.txt")
	content := "func f() {\n\tif true {\n\t\tfmt.Println(\"hi\")\n\t}\n}\n"
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewEditFileTool(dir)
	// old_string has different (zero) indentation than the file's actual block.
	res, err := e.Execute(context.Background(), map[string]any{
		"path":       "d.txt",
		"old_string": "if true {\nfmt.Println(\"hi\")\n}",
		"new_string": "if false {\nfmt.Println(\"bye\")\n}",
	})
	if err != nil || res.IsError() {
		t.Fatalf("expected indentation-normalised match to succeed, got %+v err=%v", res, err)
	}
}
