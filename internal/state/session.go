package state

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/conserje/internal/types"
)

// SessionStore keeps one JSON file per conversation under
// <root>/sessions/. File names are the base64url form of the session key,
// so channel prefixes and chat IDs never clash with path rules.
type SessionStore struct {
	dir string
	now func() time.Time
	mu  sync.RWMutex
}

// NewSessionStore returns a file-backed store under root.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{dir: filepath.Join(root, "sessions"), now: time.Now}
}

func (s *SessionStore) path(key types.SessionKey) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+".json")
}

func readSession(path string) (*types.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &sess, nil
}

// Load returns the stored session, or a fresh neutral one that is not
// written until Save.
func (s *SessionStore) Load(_ context.Context, key types.SessionKey) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := readSession(s.path(key))
	switch {
	case err == nil:
		return sess, nil
	case os.IsNotExist(err):
		return types.NewSession(key, s.now()), nil
	default:
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
}

func (s *SessionStore) Save(_ context.Context, session *types.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.Key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	return writeAtomic(s.path(session.Key), data)
}

// Clear deletes the session file; a missing file is not an error.
func (s *SessionStore) Clear(_ context.Context, key types.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session %s: %w", key, err)
	}
	return nil
}

// List reads every stored session, ordered by key. Unreadable files are
// reported rather than skipped.
func (s *SessionStore) List(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var out []*types.Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		sess, err := readSession(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
