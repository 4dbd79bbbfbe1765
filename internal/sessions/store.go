// Package sessions persists the channel → assistant session token mapping
// as a small JSON file, rewritten wholesale after every mutation.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Store maps channel keys to resumable session tokens. Loaded once at
// startup, flushed after each mutation.
type Store struct {
	path string
	log  *zap.Logger

	mu      sync.Mutex
	entries map[string]string
}

// NewStore creates a store backed by the given file.
func NewStore(path string, log *zap.Logger) *Store {
	return &Store{
		path:    path,
		log:     log,
		entries: make(map[string]string),
	}
}

// Load reads the persisted mapping. An absent file is an empty mapping, not
// an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session file: %w", err)
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse session file %s: %w", s.path, err)
	}
	s.entries = entries
	s.log.Info("session store loaded", zap.Int("entries", len(entries)))
	return nil
}

// Get returns the token for a channel.
func (s *Store) Get(channel string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.entries[channel]
	return token, ok
}

// Set records a token and flushes.
func (s *Store) Set(channel, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[channel] = token
	return s.flushLocked()
}

// Invalidate removes a channel's token and flushes. The next invocation for
// that channel starts a fresh session.
func (s *Store) Invalidate(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[channel]; !ok {
		return nil
	}
	delete(s.entries, channel)
	s.log.Info("session invalidated", zap.String("channel", channel))
	return s.flushLocked()
}

// Len returns the number of stored tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// flushLocked rewrites the whole file. Caller must hold the lock.
func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
