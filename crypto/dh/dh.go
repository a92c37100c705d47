// Package dh implements the X25519 ephemeral key agreement used to derive
// per-session AES secrets during the handshake.
//
// Unlike the HKDF-expanded session keys used elsewhere in this codebase's
// ambient E2EE stack, the wire protocol here requires the raw, un-expanded
// 32-byte ECDH output (base64-encoded) as the shared secret, to stay
// bit-compatible with the original relay implementation.
package dh

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// ErrInvalidPublicKey is returned when a peer's encoded public key is malformed.
var ErrInvalidPublicKey = errors.New("dh: invalid public key")

// KeyPair is an ephemeral X25519 key pair.
type KeyPair struct {
	priv *ecdh.PrivateKey
}

// Generate creates a fresh ephemeral X25519 key pair.
func Generate() (*KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{priv: priv}, nil
}

// PublicBytes returns the raw 32-byte X25519 public key.
func (kp *KeyPair) PublicBytes() []byte {
	return kp.priv.PublicKey().Bytes()
}

// PublicB64 returns the base64-encoded public key, as carried in
// DeviceInfoRequest.dh_pub / DeviceInfoResponse.dh_pub.
func (kp *KeyPair) PublicB64() string {
	return base64.StdEncoding.EncodeToString(kp.PublicBytes())
}

// SharedSecretB64 computes the ECDH shared secret against a peer's
// base64-encoded public key and returns it base64-encoded, matching the
// wire's secret_b64 representation.
func (kp *KeyPair) SharedSecretB64(peerPubB64 string) (string, error) {
	peerBytes, err := base64.StdEncoding.DecodeString(peerPubB64)
	if err != nil {
		return "", ErrInvalidPublicKey
	}
	peerPub, err := ecdh.X25519().NewPublicKey(peerBytes)
	if err != nil {
		return "", ErrInvalidPublicKey
	}
	shared, err := kp.priv.ECDH(peerPub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(shared), nil
}
