package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/draycott/session-core/internal/auth"
)

// CachedSession is the on-disk snapshot of a session. The refresh token is
// the part that matters: a restarted process trades it for a fresh pair
// instead of asking for credentials again.
type CachedSession struct {
	RefreshToken string     `json:"refreshToken"`
	AccessToken  string     `json:"accessToken,omitempty"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	User         *auth.User `json:"user,omitempty"`
}

// Cache persists a session snapshot to a single JSON file.
//
// The file is written with 0600 permissions since it holds a live refresh
// token. A missing file is not an error; Load returns (nil, nil).
type Cache struct {
	path string
}

// NewCache creates a cache backed by the given file path.
func NewCache(path string) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	return &Cache{path: path}, nil
}

// Path returns the backing file path.
func (c *Cache) Path() string {
	return c.path
}

// Load reads the cached session. Returns (nil, nil) when no cache exists.
func (c *Cache) Load() (*CachedSession, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session cache: %w", err)
	}

	var cached CachedSession
	if err := json.Unmarshal(data, &cached); err != nil {
		// A corrupt cache is treated as absent rather than fatal.
		return nil, nil
	}
	if cached.RefreshToken == "" {
		return nil, nil
	}
	return &cached, nil
}

// Save writes the session snapshot, creating parent directories as needed.
func (c *Cache) Save(session *CachedSession) error {
	if session == nil || session.RefreshToken == "" {
		return fmt.Errorf("nothing to cache")
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a torn file.
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("install session cache: %w", err)
	}
	return nil
}

// Clear removes the cache file. Clearing an absent cache is a no-op.
func (c *Cache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session cache: %w", err)
	}
	return nil
}
