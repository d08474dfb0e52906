// Package photostore keeps registered identity photos and pending recognition uploads on disk.
package photostore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cuongbtq/face-recognition/internal/domain"
)

const pendingDir = "recognition"

// Store writes photos below a root directory shared by the API and the worker
type Store struct {
	root string
}

// New creates the root and pending directories if needed
func New(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, pendingDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create photo directories: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory identity photos are written to
func (s *Store) Root() string {
	return s.root
}

// SaveIdentityPhoto writes <root>/<identifier>.jpg and returns its path
func (s *Store) SaveIdentityPhoto(identifier string, data []byte) (string, error) {
	name := sanitize(identifier)
	if name == "" {
		return "", domain.ErrIdentityRequired
	}
	return s.write(filepath.Join(s.root, name+".jpg"), data)
}

// SavePending writes an async upload to <root>/recognition/<job_id>.jpg and returns its path
func (s *Store) SavePending(jobID string, data []byte) (string, error) {
	name := sanitize(jobID)
	if name == "" {
		return "", fmt.Errorf("%w: empty job id", domain.ErrInvalidPayload)
	}
	return s.write(filepath.Join(s.root, pendingDir, name+".jpg"), data)
}

func (s *Store) write(path string, data []byte) (string, error) {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write photo: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to move photo into place: %w", err)
	}
	return path, nil
}

// Read returns a stored photo
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read photo %s: %w", path, err)
	}
	return data, nil
}

// Remove deletes a stored photo; a missing file is not an error
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove photo %s: %w", path, err)
	}
	return nil
}

// Reset deletes every identity photo. Pending uploads belong to in-flight jobs and are kept.
func (s *Store) Reset() (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("failed to list photos: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove photo %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// sanitize keeps names inside the root directory. A name that had to be rewritten
// gets a short hash of the original so "a/b" and "a_b" stay distinct files.
func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "." || name == ".." {
		return ""
	}

	safe := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		default:
			return r
		}
	}, name)
	if safe == name {
		return name
	}
	return fmt.Sprintf("%s-%08x", safe, uint32(xxhash.Sum64String(name)))
}
