// Package session manages per-client working directories.
//
// A session is nothing more than a directory named by its id under the
// sessions root. The filesystem is the only index: existence is re-derived
// from disk on every lookup, and the directory mtime is the last-used clock.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a caller-supplied id has no directory.
var ErrSessionNotFound = errors.New("session not found")

// Info describes one session directory.
type Info struct {
	ID          string    `json:"session_id"`
	Path        string    `json:"-"`
	LastTouched time.Time `json:"last_touched"`
}

// Store owns the mapping from session id to directory.
type Store struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates the sessions root if needed and returns a Store over it.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving sessions root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: abs, logger: logger, now: time.Now}, nil
}

// Root returns the absolute sessions root.
func (s *Store) Root() string {
	return s.root
}

// Path returns <root>/<id>. ok is false when id cannot name a direct child
// of the root.
func (s *Store) Path(id string) (path string, ok bool) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", false
	}
	return filepath.Join(s.root, id), true
}

// Create generates a fresh id and creates its directory.
func (s *Store) Create() (string, error) {
	id := uuid.NewString()
	path, _ := s.Path(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating session directory: %w", err)
	}
	s.logger.Debug("session created", slog.String("session_id", id))
	return id, nil
}

// Resolve returns the directory of an existing session.
func (s *Store) Resolve(id string) (string, error) {
	path, ok := s.Path(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return "", fmt.Errorf("checking session %s: %w", id, err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return path, nil
}

// Delete removes a session directory and everything in it. Deleting an
// absent session, or an id that cannot name a session, is a no-op.
func (s *Store) Delete(id string) error {
	path, ok := s.Path(id)
	if !ok {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing session %s: %w", id, err)
	}
	s.logger.Debug("session deleted", slog.String("session_id", id))
	return nil
}

// Touch marks a session as used now.
func (s *Store) Touch(id string) error {
	path, err := s.Resolve(id)
	if err != nil {
		return err
	}
	now := s.now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("touching session %s: %w", id, err)
	}
	return nil
}

// List returns every session directory under the root.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading sessions root: %w", err)
	}

	sessions := make([]Info, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat session %s: %w", e.Name(), err)
		}
		sessions = append(sessions, Info{
			ID:          e.Name(),
			Path:        filepath.Join(s.root, e.Name()),
			LastTouched: fi.ModTime(),
		})
	}
	return sessions, nil
}

// SweepExpired deletes every session whose directory was last modified more
// than maxAge ago. Removal failures do not stop the sweep; they are joined
// into the returned error.
func (s *Store) SweepExpired(maxAge time.Duration) ([]string, error) {
	sessions, err := s.List()
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-maxAge)
	var removed []string
	var errs []error
	for _, sess := range sessions {
		if !sess.LastTouched.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(sess.Path); err != nil {
			errs = append(errs, fmt.Errorf("removing expired session %s: %w", sess.ID, err))
			continue
		}
		removed = append(removed, sess.ID)
		s.logger.Info("expired session removed",
			slog.String("session_id", sess.ID),
			slog.Time("last_touched", sess.LastTouched),
		)
	}
	return removed, errors.Join(errs...)
}
