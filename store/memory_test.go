package store

import (
	"context"
	"testing"
	"time"

	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/p2p/message"
)

func TestMemoryUserStore_InsertAndLookups(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryUserStore()
	rec := UserRecord{Address: "addrA", DeviceID: "dev-1", Session: "sess-1", Secret: "secret-1"}
	if err := s.InsertOrUpdate(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.FindByAddress(ctx, "addrA")
	if err != nil || got.Session != "sess-1" {
		t.Fatalf("FindByAddress: %+v, %v", got, err)
	}
	if got, err := s.FindByDeviceID(ctx, "dev-1"); err != nil || got.Address != "addrA" {
		t.Fatalf("FindByDeviceID: %+v, %v", got, err)
	}
	if got, err := s.FindBySession(ctx, "sess-1"); err != nil || got.Address != "addrA" {
		t.Fatalf("FindBySession: %+v, %v", got, err)
	}

	// Updating with a new session must drop the stale session index.
	if err := s.InsertOrUpdate(ctx, UserRecord{Address: "addrA", DeviceID: "dev-1", Session: "sess-2", Secret: "secret-2"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.FindBySession(ctx, "sess-1"); err != ErrNotFound {
		t.Fatalf("expected stale session to be gone, got %v", err)
	}
	if got, err := s.FindBySession(ctx, "sess-2"); err != nil || got.Secret != "secret-2" {
		t.Fatalf("FindBySession after update: %+v, %v", got, err)
	}
}

func TestMemoryUserStore_MissingReturnsErrNotFound(t *testing.T) {
	s := NewMemoryUserStore()
	if _, err := s.FindByAddress(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryQueueStore_AppendAcquireRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryQueueStore(time.Hour)
	msg1, _ := message.Encode(&message.ChatInfo{CommonInfo: message.NewCommonInfo(), FromAddr: "a", ToAddr: "b", Content: "hi"})
	msg2, _ := message.Encode(&message.ChatInfo{CommonInfo: message.NewCommonInfo(), FromAddr: "a", ToAddr: "b", Content: "again"})

	if err := s.Append(ctx, "b", msg1); err != nil {
		t.Fatalf("append1: %v", err)
	}
	if err := s.Append(ctx, "b", msg2); err != nil {
		t.Fatalf("append2: %v", err)
	}

	got, err := s.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 queued messages, got %d", len(got))
	}

	if err := s.Remove(ctx, "b"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err = s.Acquire(ctx, "b")
	if err != nil || got != nil {
		t.Fatalf("expected empty queue after remove, got %+v, %v", got, err)
	}
}

func TestMemoryQueueStore_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryQueueStore(10 * time.Millisecond)
	msg, _ := message.Encode(&message.Ping{Address: "a", DeviceID: "d"})
	if err := s.Append(ctx, "a", msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	got, err := s.Acquire(ctx, "a")
	if err != nil || got != nil {
		t.Fatalf("expected expired queue to read as empty, got %+v, %v", got, err)
	}
}

func TestMemorySessionStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()
	if err := s.SetSession(ctx, "9000", "sess-1"); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if v, ok, err := s.GetSession(ctx, "9000"); err != nil || !ok || v != "sess-1" {
		t.Fatalf("get session: %q %v %v", v, ok, err)
	}
	if _, ok, err := s.GetSecret(ctx, "9000"); err != nil || ok {
		t.Fatalf("expected no secret set yet, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryKeyStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryKeyStore()
	acc, err := keys.New()
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if err := s.Save(ctx, "dev-1", acc); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx, "dev-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Address != acc.Address {
		t.Fatalf("address mismatch: %q vs %q", got.Address, acc.Address)
	}
}

func TestMemoryKeyStore_Remove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryKeyStore()
	acc, err := keys.New()
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if err := s.Save(ctx, "dev-1", acc); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Remove(ctx, "dev-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Load(ctx, "dev-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if err := s.Remove(ctx, "dev-1"); err != nil {
		t.Fatalf("remove again should be a no-op, got %v", err)
	}
}
