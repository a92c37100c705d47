package store

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/relaymesh/navajo/crypto/aesgcm"
	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/fserrors"
	"github.com/relaymesh/navajo/internal/securefile"
)

// FileKeyStore persists one Account per device id as an AES-256-GCM sealed
// JSON blob, atomically written with owner-only permissions. The original
// protocol's KeyDB stored this file as plaintext JSON; this adds
// encryption-at-rest as a deliberate hardening, deriving the key from the
// host's primary MAC address the same way the original client derives its
// machine-local seed material.
type FileKeyStore struct {
	dir    string
	mu     sync.Mutex
	keyB64 string
}

// NewFileKeyStore opens (creating if necessary) a key store rooted at dir,
// deriving its encryption key via HKDF-SHA256 over the host's MAC address.
func NewFileKeyStore(dir string) (*FileKeyStore, error) {
	if err := securefile.MkdirAllOwnerOnly(dir); err != nil {
		return nil, fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	mac, err := primaryMACAddress()
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeMacAddr, err)
	}
	keyB64, err := deriveKeyB64(mac)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathStore, fserrors.StageCrypto, fserrors.CodeMacAddr, err)
	}
	return &FileKeyStore{dir: dir, keyB64: keyB64}, nil
}

func primaryMACAddress() ([]byte, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		return iface.HardwareAddr, nil
	}
	return nil, errors.New("store: no network interface with a hardware address")
}

func deriveKeyB64(mac []byte) (string, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, mac, []byte("navajo-filekeystore"), []byte("account-key-v1"))
	if _, err := r.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func (s *FileKeyStore) path(deviceID string) string {
	return filepath.Join(s.dir, deviceID+".key")
}

// Load implements KeyStore.
func (s *FileKeyStore) Load(_ context.Context, deviceID string) (*keys.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.path(deviceID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}

	plaintext, err := aesgcm.Open(s.keyB64, sealed, aesgcm.RandomNonce)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathStore, fserrors.StageCrypto, fserrors.CodeEcdsaEncrypt, err)
	}

	var account keys.Account
	if err := json.Unmarshal(plaintext, &account); err != nil {
		return nil, fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeInvalidParam, err)
	}
	return &account, nil
}

// Save implements KeyStore.
func (s *FileKeyStore) Save(_ context.Context, deviceID string, account *keys.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := json.Marshal(account)
	if err != nil {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeInvalidParam, err)
	}
	sealed, err := aesgcm.Seal(s.keyB64, plaintext, aesgcm.RandomNonce)
	if err != nil {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageCrypto, fserrors.CodeEcdsaEncrypt, err)
	}
	if err := securefile.WriteFileAtomic(s.path(deviceID), sealed, 0o600); err != nil {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	return nil
}

// Remove implements KeyStore, deleting deviceID's sealed key file. A
// missing file is not an error.
func (s *FileKeyStore) Remove(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(deviceID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	return nil
}
