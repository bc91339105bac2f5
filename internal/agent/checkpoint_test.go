package agent

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointSnapshotIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(filepath.Join(dir, "checkpoints"))

	target := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(target, []byte("version one"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := store.Snapshot(target, "sess-1"); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	// Mutate the file after the first snapshot; a second Snapshot call must be
	// a no-op, preserving the original bytes.
	if err := os.WriteFile(target, []byte("version two"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Snapshot(target, "sess-1"); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	entries, err := store.List("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one manifest entry, got %d", len(entries))
	}

	restored, err := store.Restore(target, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !restored {
		t.Fatal("expected restore to report true")
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "version one" {
		t.Fatalf("expected restore to recover the original bytes, got %q", data)
	}
}

func TestCheckpointRestoreByteIdentical(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(filepath.Join(dir, "checkpoints"))

	target := filepath.Join(dir, "b.bin")
	original := []byte{0, 1, 2, 3, 255, 254, 10, 13, 0}
	if err := os.WriteFile(target, original, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Snapshot(target, "sess-2"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("clobbered"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Restore(target, "sess-2"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(original) {
		t.Fatalf("restored length mismatch: got %d want %d", len(got), len(original))
	}
	for i := range original {
		if got[i] != original[i] {
			t.Fatalf("byte mismatch at %d: got %x want %x", i, got[i], original[i])
		}
	}
}

func TestCheckpointSnapshotOfNonexistentFileThenRestoreRemoves(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(filepath.Join(dir, "checkpoints"))
	target := filepath.Join(dir, "new.txt")

	if err := store.Snapshot(target, "sess-3"); err != nil {
		t.Fatalf("snapshot of absent file should not error: %v", err)
	}
	if err := os.WriteFile(target, []byte("created by tool"), 0o644); err != nil {
		t.Fatal(err)
	}

	restored, err := store.Restore(target, "sess-3")
	if err != nil {
		t.Fatal(err)
	}
	if !restored {
		t.Fatal("expected restore to report true")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed on restore, stat err=%v", err)
	}
}

func TestCheckpointRestoreWithoutSnapshotIsNoop(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(filepath.Join(dir, "checkpoints"))
	restored, err := store.Restore(filepath.Join(dir, "never-snapshotted.txt"), "sess-4")
	if err != nil {
		t.Fatal(err)
	}
	if restored {
		t.Fatal("expected no-op restore to report false")
	}
}

func TestCheckpointDiffReportsChanges(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(filepath.Join(dir, "checkpoints"))
	target := filepath.Join(dir, "c.txt")
	if err := os.WriteFile(target, []byte("line one\nline two\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Snapshot(target, "sess-5"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("line one\nline TWO changed\nline three\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	diff, err := store.Diff(target, "sess-5")
	if err != nil {
		t.Fatal(err)
	}
	if diff == "" {
		t.Fatal("expected a non-empty diff")
	}
}

func TestCheckpointClearRemovesSession(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(filepath.Join(dir, "checkpoints"))
	target := filepath.Join(dir, "d.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Snapshot(target, "sess-6"); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear("sess-6"); err != nil {
		t.Fatal(err)
	}
	entries, err := store.List("sess-6")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty manifest after clear, got %d entries", len(entries))
	}
}
