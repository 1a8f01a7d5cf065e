package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps the token state in a single JSON file.
//
// SECURITY: the file holds live OAuth credentials. It is created with 0600
// permissions inside a 0700 directory, and token values are never logged.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by path, creating the parent
// directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("token file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the token file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the token file. A missing file yields ErrNotFound.
func (s *FileStore) Load(ctx context.Context) (TokenState, error) {
	if err := ctx.Err(); err != nil {
		return TokenState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path is chosen by the hosting application
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TokenState{}, ErrNotFound
		}
		return TokenState{}, fmt.Errorf("failed to read token file: %w", err)
	}

	var state TokenState
	if err := json.Unmarshal(data, &state); err != nil {
		return TokenState{}, fmt.Errorf("failed to unmarshal token file %s: %w", s.path, err)
	}
	return state, nil
}

// Save writes the state to a temporary file in the same directory and
// renames it over the token file.
func (s *FileStore) Save(ctx context.Context, state TokenState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary token file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	committed = true

	slog.Debug("Token state persisted",
		"event", "token_stored",
		"path", s.path,
		"expires_at", state.ExpiresAt.Format(time.RFC3339),
		"has_refresh_token", state.HasRefreshToken(),
	)
	return nil
}

// Clear removes the token file. A missing file is not an error.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}

	slog.Debug("Token state cleared", "event", "token_deleted", "path", s.path)
	return nil
}
