// Package keys implements account identity: secp256k1 signing keys and the
// base58(sha256(pubkey)) address derived from them.
package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
)

// ErrInvalidSignature is returned when a signature fails to verify or is malformed.
var ErrInvalidSignature = errors.New("keys: invalid signature")

// KeyPair is a secp256k1 identity key pair.
type KeyPair struct {
	Priv *secp256k1.PrivateKey
	Pub  *secp256k1.PublicKey
}

// Generate creates a fresh random secp256k1 key pair.
func Generate() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Priv: priv, Pub: priv.PubKey()}, nil
}

// FromPrivateBytes reconstructs a key pair from a 32-byte scalar, as used by
// Recover.
func FromPrivateBytes(b []byte) (*KeyPair, error) {
	if len(b) != 32 {
		return nil, errors.New("keys: private key must be 32 bytes")
	}
	priv := secp256k1.PrivKeyFromBytes(b)
	return &KeyPair{Priv: priv, Pub: priv.PubKey()}, nil
}

// PrivateBytes returns the raw 32-byte scalar.
func (kp *KeyPair) PrivateBytes() []byte {
	return kp.Priv.Serialize()
}

// PublicBytes returns the compressed SEC1 public key encoding.
func (kp *KeyPair) PublicBytes() []byte {
	return kp.Pub.SerializeCompressed()
}

// PublicKeyFromBytes parses a compressed SEC1 public key.
func PublicKeyFromBytes(b []byte) (*secp256k1.PublicKey, error) {
	return secp256k1.ParsePubKey(b)
}

// Address derives the routable address for a public key: base58(sha256(pubkey)).
func Address(pub *secp256k1.PublicKey) string {
	sum := sha256.Sum256(pub.SerializeCompressed())
	return base58.Encode(sum[:])
}

// Sign hashes content with SHA-256 and produces a 64-byte compact ECDSA
// signature (r‖s, not ASN.1 DER).
func (kp *KeyPair) Sign(content []byte) ([]byte, error) {
	hash := sha256.Sum256(content)
	r, s, err := ecdsa.Sign(rand.Reader, kp.Priv.ToECDSA(), hash[:])
	if err != nil {
		return nil, err
	}
	return serializeCompact(r, s), nil
}

// SignB64 signs content and base64-encodes the compact signature.
func (kp *KeyPair) SignB64(content []byte) (string, error) {
	sig, err := kp.Sign(content)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether sig is a valid compact ECDSA signature over
// sha256(content) under pub.
func Verify(pub *secp256k1.PublicKey, content, sig []byte) bool {
	r, s, err := deserializeCompact(sig)
	if err != nil {
		return false
	}
	hash := sha256.Sum256(content)
	return ecdsa.Verify(pub.ToECDSA(), hash[:], r, s)
}

// VerifyB64 base64-decodes sig and pubKey before verifying.
func VerifyB64(pubKeyB64 string, content []byte, sigB64 string) bool {
	pubBytes, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		return false
	}
	pub, err := PublicKeyFromBytes(pubBytes)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	return Verify(pub, content, sig)
}

func serializeCompact(r, s *big.Int) []byte {
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	out := make([]byte, 64)
	copy(out[32-len(rBytes):32], rBytes)
	copy(out[64-len(sBytes):64], sBytes)
	return out
}

func deserializeCompact(sig []byte) (*big.Int, *big.Int, error) {
	if len(sig) != 64 {
		return nil, nil, ErrInvalidSignature
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return r, s, nil
}
