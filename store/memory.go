package store

import (
	"context"
	"sync"
	"time"

	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/p2p/message"
)

// MemoryUserStore is an in-process UserStore for tests and single-node runs.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byAddr  map[string]UserRecord
	byDev   map[string]string // device_id -> address
	bySess  map[string]string // session -> address
}

// NewMemoryUserStore returns an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byAddr: make(map[string]UserRecord),
		byDev:  make(map[string]string),
		bySess: make(map[string]string),
	}
}

func (s *MemoryUserStore) FindByAddress(_ context.Context, address string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byAddr[address]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryUserStore) FindByDeviceID(ctx context.Context, deviceID string) (*UserRecord, error) {
	s.mu.RLock()
	addr, ok := s.byDev[deviceID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.FindByAddress(ctx, addr)
}

func (s *MemoryUserStore) FindBySession(ctx context.Context, session string) (*UserRecord, error) {
	s.mu.RLock()
	addr, ok := s.bySess[session]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.FindByAddress(ctx, addr)
}

func (s *MemoryUserStore) InsertOrUpdate(_ context.Context, rec UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byAddr[rec.Address]; ok {
		delete(s.bySess, old.Session)
	}
	s.byAddr[rec.Address] = rec
	s.byDev[rec.DeviceID] = rec.Address
	s.bySess[rec.Session] = rec.Address
	return nil
}

// MemoryQueueStore is an in-process QueueStore with TTL expiry evaluated
// lazily on access, matching the semantics of a Redis SETEX-backed store
// without requiring a background sweep.
type MemoryQueueStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	queue map[string]*queueEntry
}

type queueEntry struct {
	messages []message.P2PMessage
	expires  time.Time
}

// NewMemoryQueueStore returns an empty MemoryQueueStore with the given TTL.
// Pass 0 to use DefaultQueueTTL.
func NewMemoryQueueStore(ttl time.Duration) *MemoryQueueStore {
	if ttl <= 0 {
		ttl = DefaultQueueTTL
	}
	return &MemoryQueueStore{ttl: ttl, queue: make(map[string]*queueEntry)}
}

func (s *MemoryQueueStore) Acquire(_ context.Context, address string) ([]message.P2PMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue[address]
	if !ok || time.Now().After(entry.expires) {
		delete(s.queue, address)
		return nil, nil
	}
	return entry.messages, nil
}

func (s *MemoryQueueStore) Append(_ context.Context, address string, msg message.P2PMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue[address]
	if !ok || time.Now().After(entry.expires) {
		entry = &queueEntry{}
	}
	entry.messages = append(entry.messages, msg)
	entry.expires = time.Now().Add(s.ttl)
	s.queue[address] = entry
	return nil
}

func (s *MemoryQueueStore) Remove(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue, address)
	return nil
}

// MemorySessionStore is an in-process client-side SessionStore.
type MemorySessionStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemorySessionStore returns an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{data: make(map[string]string)}
}

func (s *MemorySessionStore) get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemorySessionStore) set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemorySessionStore) GetSession(_ context.Context, key string) (string, bool, error) {
	return s.get("session:" + key)
}
func (s *MemorySessionStore) SetSession(_ context.Context, key, session string) error {
	return s.set("session:"+key, session)
}
func (s *MemorySessionStore) GetSecret(_ context.Context, key string) (string, bool, error) {
	return s.get("secret:" + key)
}
func (s *MemorySessionStore) SetSecret(_ context.Context, key, secret string) error {
	return s.set("secret:"+key, secret)
}
func (s *MemorySessionStore) GetDeviceID(_ context.Context, key string) (string, bool, error) {
	return s.get("device_id:" + key)
}
func (s *MemorySessionStore) SetDeviceID(_ context.Context, key, deviceID string) error {
	return s.set("device_id:"+key, deviceID)
}

// MemoryKeyStore is an in-process KeyStore, useful for tests.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	data map[string]*keys.Account
}

// NewMemoryKeyStore returns an empty MemoryKeyStore.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{data: make(map[string]*keys.Account)}
}

func (s *MemoryKeyStore) Load(_ context.Context, deviceID string) (*keys.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.data[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return acc, nil
}

func (s *MemoryKeyStore) Save(_ context.Context, deviceID string, account *keys.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[deviceID] = account
	return nil
}

func (s *MemoryKeyStore) Remove(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, deviceID)
	return nil
}
