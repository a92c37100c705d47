package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/relaymesh/navajo/crypto/keys"
)

func TestFileKeyStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileKeyStore(dir)
	if err != nil {
		t.Fatalf("new file key store: %v", err)
	}

	account, err := keys.New()
	if err != nil {
		t.Fatalf("new account: %v", err)
	}

	ctx := context.Background()
	if err := s.Save(ctx, "dev-1", account); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx, "dev-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Address != account.Address {
		t.Fatalf("expected address %q, got %q", account.Address, got.Address)
	}
	if string(got.KeyPair.PrivateBytes()) != string(account.KeyPair.PrivateBytes()) {
		t.Fatalf("private key did not round-trip")
	}
}

func TestFileKeyStore_Load_MissingReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileKeyStore(dir)
	if err != nil {
		t.Fatalf("new file key store: %v", err)
	}
	if _, err := s.Load(context.Background(), "nobody"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileKeyStore_Remove_DeletesFileAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileKeyStore(dir)
	if err != nil {
		t.Fatalf("new file key store: %v", err)
	}
	account, err := keys.New()
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	ctx := context.Background()
	if err := s.Save(ctx, "dev-1", account); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Remove(ctx, "dev-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dev-1.key")); !os.IsNotExist(err) {
		t.Fatalf("expected key file to be gone, stat err=%v", err)
	}
	if _, err := s.Load(ctx, "dev-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if err := s.Remove(ctx, "dev-1"); err != nil {
		t.Fatalf("remove again should be a no-op, got %v", err)
	}
}

func TestFileKeyStore_FileOnDiskIsNotPlaintext(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileKeyStore(dir)
	if err != nil {
		t.Fatalf("new file key store: %v", err)
	}
	account, err := keys.New()
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	if err := s.Save(context.Background(), "dev-1", account); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "dev-1.key"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(raw) == "" {
		t.Fatalf("expected non-empty sealed file")
	}
	// The address is base58 plaintext in the JSON form; it must not appear
	// verbatim in the sealed bytes on disk.
	if bytes.Contains(raw, []byte(account.Address)) {
		t.Fatalf("account address leaked into sealed file contents")
	}
}
