package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestGrepFindsMatches(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package main\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := NewGrepTool(dir)
	res, err := g.Execute(context.Background(), map[string]any{"pattern": "func main"})
	if err != nil || res.IsError() {
		t.Fatalf("grep failed: %+v err=%v", res, err)
	}
	if res.Content == "no matches" {
		t.Fatal("expected a match")
	}
}

func TestGrepNoMatches(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := NewGrepTool(dir)
	res, err := g.Execute(context.Background(), map[string]any{"pattern": "nonexistent_token"})
	if err != nil || res.IsError() {
		t.Fatalf("grep failed: %+v err=%v", res, err)
	}
	if res.Content != "no matches" {
		t.Fatalf("expected no matches, got %q", res.Content)
	}
}

func TestGrepInvalidPattern(t *testing.T) {
	dir := t.TempDir()
	g := NewGrepTool(dir)
	res, err := g.Execute(context.Background(), map[string]any{"pattern": "("})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError() {
		t.Fatal("expected invalid regex to error")
	}
}
