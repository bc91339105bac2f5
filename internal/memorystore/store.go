// Package memorystore persists short learnings paragraphs as markdown notes
// under a project-then-global directory pair, feeding them back into the
// system prompt of future conversations.
package memorystore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultMaxMemoryFiles = 50

// Store writes and reads learnings notes under a project directory
// ("<project>/.orca/memory") and a global fallback ("<config>/memory").
type Store struct {
	ProjectDir     string
	GlobalDir      string
	MaxMemoryFiles int
	Logger         *slog.Logger

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup

	onChange func()
}

// New wires a Store. Write targets "<ProjectDir>/.orca/memory" whenever
// ProjectDir is non-empty and "<GlobalDir>/memory" only when it is empty; Load
// reads both.
func New(projectDir, globalDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{ProjectDir: projectDir, GlobalDir: globalDir, MaxMemoryFiles: defaultMaxMemoryFiles, Logger: logger}
}

func (s *Store) projectMemoryDir() string {
	if s.ProjectDir == "" {
		return ""
	}
	return filepath.Join(s.ProjectDir, ".orca", "memory")
}

func (s *Store) globalMemoryDir() string {
	if s.GlobalDir == "" {
		return ""
	}
	return filepath.Join(s.GlobalDir, "memory")
}

func (s *Store) targetDir() string {
	if dir := s.projectMemoryDir(); dir != "" {
		return dir
	}
	return s.globalMemoryDir()
}

// Write saves a learnings paragraph as "<yyyymmdd>-<6-char-hash>.md" under the
// project memory directory (falling back to global when no project directory
// is configured), then prunes by modification time to MaxMemoryFiles entries.
func (s *Store) Write(learnings string) (string, error) {
	dir := s.targetDir()
	if dir == "" {
		return "", fmt.Errorf("memorystore: no project or global directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("memorystore: create dir: %w", err)
	}

	name := fileName(learnings, time.Now())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(learnings), 0o644); err != nil {
		return "", fmt.Errorf("memorystore: write: %w", err)
	}

	if err := s.prune(dir); err != nil {
		s.Logger.Warn("memorystore: prune failed", "dir", dir, "error", err)
	}
	return path, nil
}

func fileName(content string, now time.Time) string {
	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])[:6]
	return fmt.Sprintf("%s-%s.md", now.UTC().Format("20060102"), hash)
}

func (s *Store) maxFiles() int {
	if s.MaxMemoryFiles <= 0 {
		return defaultMaxMemoryFiles
	}
	return s.MaxMemoryFiles
}

// prune removes the oldest-by-mtime files in dir beyond the configured cap.
func (s *Store) prune(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	if len(files) <= s.maxFiles() {
		return nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	for _, f := range files[s.maxFiles():] {
		if err := os.Remove(f.path); err != nil {
			return err
		}
	}
	return nil
}

// Load concatenates every markdown note from the project directory then the
// global directory, newest-first within each, trimmed, for injection into a
// new conversation's system prompt.
func (s *Store) Load() string {
	var parts []string
	parts = append(parts, readDirNewestFirst(s.projectMemoryDir())...)
	parts = append(parts, readDirNewestFirst(s.globalMemoryDir())...)
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n")
}

func readDirNewestFirst(dir string) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	out := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Watch starts an fsnotify watch over both memory directories, invoking
// onChange (if non-nil) after a debounce whenever a note is added, edited, or
// removed. A no-op if already watching.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	s.watchMu.Lock()
	if s.watcher != nil {
		s.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.watchMu.Unlock()
		return fmt.Errorf("memorystore: create watcher: %w", err)
	}
	for _, dir := range []string{s.projectMemoryDir(), s.globalMemoryDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err == nil {
			_ = watcher.Add(dir)
		}
	}
	s.watcher = watcher
	s.onChange = onChange
	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	s.watchMu.Unlock()

	s.watchWg.Add(1)
	go s.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the memory-directory watcher, if running.
func (s *Store) Close() error {
	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	watcher := s.watcher
	s.watcher = nil
	s.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	s.watchWg.Wait()
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer s.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if s.onChange != nil {
				s.onChange()
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
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.Logger.Warn("memorystore: watch error", "error", err)
		}
	}
}
