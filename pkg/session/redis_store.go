package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxUpdateRetries bounds optimistic-lock retries when concurrent writers
// race on the same session key.
const maxUpdateRetries = 5

// RedisStore implements Store using Redis. It provides distributed session
// storage suitable for multi-node deployments; per-session atomicity of
// Update is implemented with WATCH-based optimistic transactions.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all session keys (default: "gamecast:session:").
	Prefix string
	// SessionTTL is the expiry applied to terminal sessions (0 = never expire).
	// Non-terminal sessions never expire; the workflow owns their lifetime.
	SessionTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore creates a new Redis session store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "gamecast:session:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.SessionTTL,
	}, nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "gamecast:session:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "record:" + sessionID
}

func (s *RedisStore) activeIndexKey() string {
	return s.prefix + "active"
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save persists a new session record and adds it to the active index.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.sessionKey(sess.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}

	if !sess.Status.Terminal() {
		if err := s.client.SAdd(ctx, s.activeIndexKey(), sess.ID).Err(); err != nil {
			return fmt.Errorf("index session: %w", err)
		}
	}

	return nil
}

// Load retrieves a session by ID.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &sess, nil
}

// Update applies a partial mutation inside a WATCH transaction so a
// concurrent writer can never make the result reflect neither update.
func (s *RedisStore) Update(ctx context.Context, sessionID string, update Update) (*Session, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	key := s.sessionKey(sessionID)
	var updated *Session

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("get session: %w", err)
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}

		if err := update.apply(&sess); err != nil {
			return err
		}

		out, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if sess.Status.Terminal() {
				pipe.Set(ctx, key, out, s.ttl)
				pipe.SRem(ctx, s.activeIndexKey(), sessionID)
			} else {
				pipe.Set(ctx, key, out, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}

		updated = &sess
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("update session %s: too many concurrent writers", sessionID)
}

// Delete removes a session record and its index entry.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.sessionKey(sessionID))
	pipe.SRem(ctx, s.activeIndexKey(), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

// ListActive returns all sessions in the active index. Records vanished
// from under the index (manual deletion, TTL race) are pruned as we go.
func (s *RedisStore) ListActive(ctx context.Context) ([]*Session, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.activeIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				s.client.SRem(ctx, s.activeIndexKey(), id)
				continue
			}
			return nil, err
		}
		if sess.Status.Terminal() {
			// Terminal record left in the index by an interrupted update.
			s.client.SRem(ctx, s.activeIndexKey(), id)
			continue
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// Close releases resources held by the store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}
