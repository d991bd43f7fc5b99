// Package session persists the CLI login between invocations.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	Lifetime = 24 * time.Hour

	EnvHome         = "MARKETLENS_HOME"
	sessionFileName = "session.json"
	machineFileName = "machine-id"
)

type Session struct {
	UserID        string    `json:"userId"`
	MachineID     string    `json:"machineId"`
	SessionToken  string    `json:"sessionToken"`
	SessionJWT    string    `json:"sessionJwt"`
	Email         string    `json:"email"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
	ExpiresAt     time.Time `json:"expiresAt"`
	LastRequestID string    `json:"lastRequestId,omitempty"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// DefaultDir is $MARKETLENS_HOME, or ~/.marketlens.
func DefaultDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(EnvHome)); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory (set %s to override): %w", EnvHome, err)
	}
	return filepath.Join(home, ".marketlens"), nil
}

type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// WithClock replaces the time source used for expiry and activity stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, sessionFileName)
}

// New builds a session that expires Lifetime after now.
func (s *Store) New(userID, email, sessionToken, sessionJWT, machineID string) *Session {
	now := s.now()
	return &Session{
		UserID:       userID,
		MachineID:    machineID,
		SessionToken: sessionToken,
		SessionJWT:   sessionJWT,
		Email:        email,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(Lifetime),
	}
}

// Load returns nil when there is no session. An expired session file is
// deleted and reported as absent.
func (s *Store) Load() (*Session, error) {
	raw, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		log.Warn().Err(err).Str("path", s.Path()).Msg("discarding unreadable session file")
		return nil, s.Clear()
	}
	if sess.Expired(s.now()) {
		log.Debug().Time("expiresAt", sess.ExpiresAt).Msg("session expired, removing")
		return nil, s.Clear()
	}
	return &sess, nil
}

// Save writes the session atomically with owner-only permissions.
func (s *Store) Save(sess *Session) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	raw, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return writeFileAtomic(s.Path(), raw)
}

// Clear removes the session file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// Touch records activity on sess and persists it.
func (s *Store) Touch(sess *Session) error {
	sess.LastActivity = s.now()
	return s.Save(sess)
}

// RememberRequest stores id as the job `results` falls back to.
func (s *Store) RememberRequest(sess *Session, id string) error {
	sess.LastRequestID = id
	return s.Touch(sess)
}

// MachineID returns a stable identifier for this installation, creating it
// on first use. It survives logout.
func (s *Store) MachineID() (string, error) {
	path := filepath.Join(s.dir, machineFileName)
	raw, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read machine id: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	id := uuid.NewString()
	if err := writeFileAtomic(path, []byte(id+"\n")); err != nil {
		return "", err
	}
	return id, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
