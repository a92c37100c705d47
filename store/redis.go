package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaymesh/navajo/fserrors"
	"github.com/relaymesh/navajo/p2p/message"
)

// queueKeyPrefix and queueSeparator match the original relay's Redis key
// layout so an operator migrating from the original deployment keeps
// reading the same queues.
const (
	queueKeyPrefix = "key_message_queue_address:"
	queueSeparator = ">"
)

// RedisQueueStore is a QueueStore backed by a single Redis string key per
// address, holding JSON-encoded envelopes joined by queueSeparator.
// The whole value's TTL is refreshed to the store's TTL on every Append, so
// an address that keeps receiving traffic while offline never expires
// early.
type RedisQueueStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisQueueStore wraps an already-configured client. Pass ttl <= 0 to
// use DefaultQueueTTL.
func NewRedisQueueStore(client *redis.Client, ttl time.Duration) *RedisQueueStore {
	if ttl <= 0 {
		ttl = DefaultQueueTTL
	}
	return &RedisQueueStore{client: client, ttl: ttl}
}

func (s *RedisQueueStore) key(address string) string {
	return queueKeyPrefix + address
}

// Acquire implements QueueStore.
func (s *RedisQueueStore) Acquire(ctx context.Context, address string) ([]message.P2PMessage, error) {
	value, err := s.client.Get(ctx, s.key(address)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	parts := strings.Split(value, queueSeparator)
	msgs := make([]message.P2PMessage, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		var env message.P2PMessage
		if err := json.Unmarshal([]byte(part), &env); err != nil {
			continue // a corrupted entry is dropped rather than failing the whole queue
		}
		msgs = append(msgs, env)
	}
	return msgs, nil
}

// Append implements QueueStore.
func (s *RedisQueueStore) Append(ctx context.Context, address string, msg message.P2PMessage) error {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeInvalidParam, err)
	}
	key := s.key(address)
	existing, err := s.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	value := string(encoded)
	if existing != "" {
		value = existing + queueSeparator + value
	}
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	return nil
}

// Remove implements QueueStore.
func (s *RedisQueueStore) Remove(ctx context.Context, address string) error {
	if err := s.client.Del(ctx, s.key(address)).Err(); err != nil {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	return nil
}

// client prefixes for the client-side session cache, mirroring the
// original client's Redis-backed SessionClient key layout.
const (
	clientSessionPrefix  = "client_session:"
	clientSecretPrefix   = "client_secret:"
	clientDeviceIDPrefix = "client_device_id:"
)

// RedisSessionStore is a client-side SessionStore backed by Redis, used so
// a client's negotiated session survives a process restart.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore wraps an already-configured client. Pass ttl <= 0 to
// use DefaultSessionTTL.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (s *RedisSessionStore) get(ctx context.Context, prefix, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	return val, true, nil
}

func (s *RedisSessionStore) set(ctx context.Context, prefix, key, value string) error {
	if err := s.client.Set(ctx, prefix+key, value, s.ttl).Err(); err != nil {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	return nil
}

// GetSession implements SessionStore.
func (s *RedisSessionStore) GetSession(ctx context.Context, key string) (string, bool, error) {
	return s.get(ctx, clientSessionPrefix, key)
}

// SetSession implements SessionStore.
func (s *RedisSessionStore) SetSession(ctx context.Context, key, session string) error {
	return s.set(ctx, clientSessionPrefix, key, session)
}

// GetSecret implements SessionStore.
func (s *RedisSessionStore) GetSecret(ctx context.Context, key string) (string, bool, error) {
	return s.get(ctx, clientSecretPrefix, key)
}

// SetSecret implements SessionStore.
func (s *RedisSessionStore) SetSecret(ctx context.Context, key, secret string) error {
	return s.set(ctx, clientSecretPrefix, key, secret)
}

// GetDeviceID implements SessionStore.
func (s *RedisSessionStore) GetDeviceID(ctx context.Context, key string) (string, bool, error) {
	return s.get(ctx, clientDeviceIDPrefix, key)
}

// SetDeviceID implements SessionStore.
func (s *RedisSessionStore) SetDeviceID(ctx context.Context, key, deviceID string) error {
	return s.set(ctx, clientDeviceIDPrefix, key, deviceID)
}
