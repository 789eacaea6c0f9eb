package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

// safeIDPattern defines the allowed characters for session IDs stored as
// file names. Only alphanumeric characters, hyphens, and underscores.
var safeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateID rejects IDs that could escape the store directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if len(id) > 256 {
		return fmt.Errorf("session ID too long (max 256 characters)")
	}
	if !safeIDPattern.MatchString(id) {
		return fmt.Errorf("session ID contains invalid characters: only alphanumeric, hyphens, and underscores allowed")
	}
	return nil
}

// FileStore implements Store using one JSON file per session. It is
// suitable for single-node deployments; per-session atomicity of Update
// comes from the store-wide write lock.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileStore creates a file-based session store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) sessionPath(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID+".json")
}

func (s *FileStore) readSession(sessionID string) (*Session, error) {
	// Path is constructed from a validated sessionID via filepath.Join.
	data, err := os.ReadFile(s.sessionPath(sessionID)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *FileStore) writeSession(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(s.sessionPath(sess.ID), data, 0600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Save persists a new session record.
func (s *FileStore) Save(ctx context.Context, sess *Session) error {
	if err := validateID(sess.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, err := os.Stat(s.sessionPath(sess.ID)); err == nil {
		return ErrSessionExists
	}

	return s.writeSession(sess)
}

// Load retrieves a session by ID.
func (s *FileStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.readSession(sessionID)
}

// Update applies a partial mutation under the store write lock.
func (s *FileStore) Update(ctx context.Context, sessionID string, update Update) (*Session, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	sess, err := s.readSession(sessionID)
	if err != nil {
		return nil, err
	}
	if err := update.apply(sess); err != nil {
		return nil, err
	}
	if err := s.writeSession(sess); err != nil {
		return nil, err
	}

	return sess.Clone(), nil
}

// Delete removes a session record.
func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := validateID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if err := os.Remove(s.sessionPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// ListActive scans the store directory for non-terminal sessions.
func (s *FileStore) ListActive(ctx context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	active := make([]*Session, 0)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		// Entry names come from os.ReadDir on the trusted base directory.
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name())) //nolint:gosec
		if err != nil {
			continue
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if !sess.Status.Terminal() {
			active = append(active, &sess)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	return active, nil
}

// Close marks the store closed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
