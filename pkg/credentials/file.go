package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"tsapi/pkg/logging"
)

// FileSource reads credentials from a JSON file with the fields client_key,
// client_secret and call_back_domain.
//
// The parsed file is cached. Watch keeps the cache coherent when the file is
// replaced, so rotated secrets are used on the next refresh without a restart.
type FileSource struct {
	path string

	mu     sync.RWMutex
	cached *Credentials
}

// NewFileSource creates a source for the credential file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the credential file location.
func (s *FileSource) Path() string {
	return s.path
}

// Credentials returns the cached credentials, reading the file on first use
// or after an invalidation.
func (s *FileSource) Credentials(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.mu.RLock()
	if s.cached != nil {
		creds := *s.cached
		s.mu.RUnlock()
		return creds, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return *s.cached, nil
	}

	creds, err := s.read()
	if err != nil {
		return Credentials{}, err
	}
	s.cached = &creds
	return creds, nil
}

// Invalidate drops the cached credentials.
func (s *FileSource) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *FileSource) read() (Credentials, error) {
	// #nosec G304 -- path is chosen by the hosting application
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("%w: credential file not found at %s", ErrUnavailable, s.path)
		}
		return Credentials{}, fmt.Errorf("%w: failed to read %s: %w", ErrUnavailable, s.path, err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: invalid JSON in %s: %w", ErrUnavailable, s.path, err)
	}

	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("%s: %w", s.path, err)
	}

	logging.Debug("Credentials", "Loaded credentials from %s", s.path)
	return creds, nil
}

// Watch invalidates the cache whenever the credential file is written,
// created, renamed or removed. It watches the parent directory so editors
// that replace the file atomically are handled. Watch blocks until ctx is
// done and returns nil in that case.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			logging.Info("Credentials", "Credential file %s changed, reloading on next use", s.path)
			s.Invalidate()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("Credentials", err, "File watcher error")
		}
	}
}
