package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/conserje/internal/types"
)

// MemorySessionStore keeps sessions in process memory. Sessions are copied
// on the way in and out so callers never alias stored state.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[types.SessionKey][]byte
	now      func() time.Time
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[types.SessionKey][]byte),
		now:      time.Now,
	}
}

func (m *MemorySessionStore) Load(_ context.Context, key types.SessionKey) (*types.Session, error) {
	m.mu.RLock()
	data, ok := m.sessions[key]
	m.mu.RUnlock()
	if !ok {
		return types.NewSession(key, m.now()), nil
	}
	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (m *MemorySessionStore) Save(_ context.Context, session *types.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Key] = data
	return nil
}

func (m *MemorySessionStore) Clear(_ context.Context, key types.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

func (m *MemorySessionStore) List(ctx context.Context) ([]*types.Session, error) {
	m.mu.RLock()
	keys := make([]types.SessionKey, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]*types.Session, 0, len(keys))
	for _, k := range keys {
		sess, err := m.Load(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}
