package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Dir reads each secret from a file named after it in a directory.
// Files must not be readable by group or others. Values are trimmed of
// surrounding whitespace.
type Dir struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// OpenDir returns a Dir provider for path, which must be a directory.
func OpenDir(path string, logger *slog.Logger) (*Dir, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets path is not a directory: %s", path)
	}
	return &Dir{path: path, logger: logger.With("component", "secrets")}, nil
}

// Lookup implements Provider.
func (d *Dir) Lookup(_ context.Context, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	path := filepath.Join(d.path, name)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", path)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return "", fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Name implements Provider.
func (d *Dir) Name() string { return "dir" }

// Watch calls onChange after any file in the directory is created,
// written, removed or renamed. It may be called once.
func (d *Dir) Watch(onChange func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.watcher != nil {
		return errors.New("secrets directory is already watched")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(d.path); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch secrets directory: %w", err)
	}
	d.watcher = w
	d.done = make(chan struct{})

	go d.watchLoop(w, d.done, onChange)
	d.logger.Info("watching secrets directory", "path", d.path)
	return nil
}

func (d *Dir) watchLoop(w *fsnotify.Watcher, done chan struct{}, onChange func()) {
	defer close(done)
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			// Chmod alone does not change content.
			if event.Op == fsnotify.Chmod {
				continue
			}
			d.logger.Debug("secrets directory changed",
				"file", filepath.Base(event.Name),
				"op", event.Op.String(),
			)
			onChange()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.logger.Error("secrets watcher error", "error", err)
		}
	}
}

// Close stops watching. It is safe to call on an unwatched Dir.
func (d *Dir) Close() error {
	d.mu.Lock()
	w, done := d.watcher, d.done
	d.watcher = nil
	d.mu.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}
