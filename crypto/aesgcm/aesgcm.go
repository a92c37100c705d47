// Package aesgcm implements the AES-256-GCM envelope cipher used to seal
// P2P message bytes for the wire.
//
// The wire protocol uses a fixed all-zero 12-byte nonce with a key reused
// across the whole session lifetime — a known weakness. NonceMode selects
// between that wire-compatible mode and a random-nonce mode recommended for
// any deployment not constrained by backward wire compatibility.
package aesgcm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// ErrInvalidKey is returned when the decoded key is not 32 bytes.
var ErrInvalidKey = errors.New("aesgcm: key must be 32 bytes")

// NonceMode selects how the 12-byte GCM nonce is produced.
type NonceMode int

const (
	// FixedZeroNonce reproduces the original wire protocol: a static
	// all-zero nonce reused for every message under a given secret.
	//
	// This is cryptographically broken under key reuse; it exists only for
	// wire compatibility with the original protocol's envelope format.
	FixedZeroNonce NonceMode = iota
	// RandomNonce prepends a fresh random 12-byte nonce to each ciphertext.
	// Recommended whenever strict wire compatibility is not required.
	RandomNonce
)

var zeroNonce = make([]byte, 12)

// Seal encrypts plaintext under the base64-encoded key using the given nonce
// mode, returning raw ciphertext bytes (with the nonce prefixed, for
// RandomNonce).
func Seal(secretB64 string, plaintext []byte, mode NonceMode) ([]byte, error) {
	aead, err := newAEAD(secretB64)
	if err != nil {
		return nil, err
	}
	switch mode {
	case RandomNonce:
		nonce := make([]byte, aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, err
		}
		out := aead.Seal(nil, nonce, plaintext, nil)
		return append(nonce, out...), nil
	default:
		return aead.Seal(nil, zeroNonce, plaintext, nil), nil
	}
}

// Open decrypts ciphertext produced by Seal under the same key and nonce mode.
func Open(secretB64 string, ciphertext []byte, mode NonceMode) ([]byte, error) {
	aead, err := newAEAD(secretB64)
	if err != nil {
		return nil, err
	}
	switch mode {
	case RandomNonce:
		if len(ciphertext) < aead.NonceSize() {
			return nil, errors.New("aesgcm: ciphertext too short")
		}
		nonce := ciphertext[:aead.NonceSize()]
		return aead.Open(nil, nonce, ciphertext[aead.NonceSize():], nil)
	default:
		return aead.Open(nil, zeroNonce, ciphertext, nil)
	}
}

func newAEAD(secretB64 string) (cipher.AEAD, error) {
	key, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
