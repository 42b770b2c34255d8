package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/redis/go-redis/v9"
)

type (
	// TokenStore keeps the session attached to each opaque token.
	TokenStore interface {
		Save(ctx context.Context, token string, s Session) error
		Lookup(ctx context.Context, token string) (*Session, error)
		Delete(ctx context.Context, token string) error
	}

	memStore struct {
		cache *bigcache.BigCache
	}

	redisStore struct {
		client redis.UniversalClient
		prefix string
		ttl    time.Duration
	}
)

var (
	ErrNoSession = errors.New("session not found")
)

// InMemoryTokenStore keeps sessions in process memory. Sessions are lost
// when the process restarts or when they are evicted after ttl.
func InMemoryTokenStore(ctx context.Context, ttl time.Duration) (TokenStore, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.CleanWindow = time.Minute
	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create in-memory session store, cause %w", err)
	}
	return &memStore{cache: cache}, nil
}

func (m *memStore) Save(ctx context.Context, token string, s Session) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.cache.Set(token, buf)
}

func (m *memStore) Lookup(ctx context.Context, token string) (*Session, error) {
	buf, err := m.cache.Get(token)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, ErrNoSession
	} else if err != nil {
		return nil, err
	}
	return decode(buf)
}

func (m *memStore) Delete(ctx context.Context, token string) error {
	err := m.cache.Delete(token)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}

// RedisTokenStore keeps sessions in redis under prefix, each key expires
// after ttl.
func RedisTokenStore(client redis.UniversalClient, prefix string, ttl time.Duration) TokenStore {
	return &redisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisStore) key(token string) string {
	return r.prefix + token
}

func (r *redisStore) Save(ctx context.Context, token string, s Session) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(token), buf, r.ttl).Err(); err != nil {
		return fmt.Errorf("unable to save session in redis, cause %w", err)
	}
	return nil
}

func (r *redisStore) Lookup(ctx context.Context, token string) (*Session, error) {
	buf, err := r.client.Get(ctx, r.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	} else if err != nil {
		return nil, fmt.Errorf("unable to read session from redis, cause %w", err)
	}
	return decode(buf)
}

func (r *redisStore) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, r.key(token)).Err(); err != nil {
		return fmt.Errorf("unable to delete session from redis, cause %w", err)
	}
	return nil
}

func decode(buf []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("corrupted session entry, cause %w", err)
	}
	return &s, nil
}
