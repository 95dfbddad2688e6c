package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/conserje/internal/types"
)

// DefaultRedisPrefix namespaces session keys in Redis.
const DefaultRedisPrefix = "conserje:session:"

// RedisSessionStore keeps each session as a JSON string with a TTL that is
// refreshed on every save.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisSessionStore creates a store. A zero ttl keeps sessions forever.
func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisSessionStore) key(k types.SessionKey) string {
	return r.prefix + string(k)
}

func (r *RedisSessionStore) Load(ctx context.Context, key types.SessionKey) (*types.Session, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.NewSession(key, r.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, session *types.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(session.Key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Clear(ctx context.Context, key types.SessionKey) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// List scans the prefix. Sessions that expire mid-scan are skipped.
func (r *RedisSessionStore) List(ctx context.Context) ([]*types.Session, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan sessions: %w", err)
	}
	sort.Strings(keys)

	out := make([]*types.Session, 0, len(keys))
	for _, k := range keys {
		data, err := r.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get session: %w", err)
		}
		var sess types.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", strings.TrimPrefix(k, r.prefix), err)
		}
		out = append(out, &sess)
	}
	return out, nil
}
