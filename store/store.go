// Package store defines the persistence collaborators navajo depends on:
// account/key storage, client-side session caching, the relay's user
// directory, and the offline message queue. Each has an in-memory
// implementation for tests and local runs, plus a production-grade
// implementation backed by a real store (file, Postgres, Redis).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/p2p/message"
)

// ErrNotFound is returned by lookups that find nothing, so callers can
// distinguish "absent" from a transport/storage failure.
var ErrNotFound = errors.New("store: not found")

// UserRecord is the relay's directory entry for one device: its address,
// the device id it registered with, and the live session binding it to a
// shared secret. A device's session and secret change on every successful
// handshake; address and device_id are stable identity.
type UserRecord struct {
	Address  string
	DeviceID string
	Session  string
	Secret   string
}

// UserStore is the relay-side directory of known devices, grounded on the
// original protocol's relational user table (address/device_id/session are
// each independently queryable, and a handshake upserts by address).
type UserStore interface {
	FindByAddress(ctx context.Context, address string) (*UserRecord, error)
	FindByDeviceID(ctx context.Context, deviceID string) (*UserRecord, error)
	FindBySession(ctx context.Context, session string) (*UserRecord, error)
	InsertOrUpdate(ctx context.Context, rec UserRecord) error
}

// QueueStore is the relay's offline-message buffer: messages addressed to a
// peer with no live connection accumulate here until that peer's next Ping,
// bounded by a TTL so an address nobody ever reconnects under does not leak
// storage forever.
type QueueStore interface {
	// Acquire returns every buffered message for address, oldest first.
	// A miss (no queue, or an expired one) returns (nil, nil).
	Acquire(ctx context.Context, address string) ([]message.P2PMessage, error)
	// Append adds msg to address's queue and refreshes its TTL.
	Append(ctx context.Context, address string, msg message.P2PMessage) error
	// Remove discards address's entire queue, called once its contents have
	// been delivered.
	Remove(ctx context.Context, address string) error
}

// DefaultQueueTTL matches the original protocol's 180-day retention for
// buffered chat messages.
const DefaultQueueTTL = 180 * 24 * time.Hour

// SessionStore is the client's local cache of its current handshake state:
// the session id and shared secret negotiated with the relay, and the
// device id it registered under. Keyed by an identifier stable across
// reconnects (the client's configured local tcp port, in the original
// protocol).
type SessionStore interface {
	GetSession(ctx context.Context, key string) (string, bool, error)
	SetSession(ctx context.Context, key, session string) error
	GetSecret(ctx context.Context, key string) (string, bool, error)
	SetSecret(ctx context.Context, key, secret string) error
	GetDeviceID(ctx context.Context, key string) (string, bool, error)
	SetDeviceID(ctx context.Context, key, deviceID string) error
}

// DefaultSessionTTL matches the original protocol's 30-day session cache
// lifetime.
const DefaultSessionTTL = 30 * 24 * time.Hour

// KeyStore persists a client's long-lived secp256k1 identity across
// restarts, keyed by device id.
type KeyStore interface {
	Load(ctx context.Context, deviceID string) (*keys.Account, error)
	Save(ctx context.Context, deviceID string, account *keys.Account) error
	// Remove permanently deletes deviceID's identity. A device that has
	// never had an identity saved is not an error.
	Remove(ctx context.Context, deviceID string) error
}
