package aesgcm

import "testing"

const testSecretB64 = "fgVobm2TEGDyWX6GOJrXTuuUoNbfeMpJSa0WhdTcO0k="

func TestSeal_FixedZeroNonce_RoundTrip(t *testing.T) {
	plaintext := []byte("hello relay")
	ct, err := Seal(testSecretB64, plaintext, FixedZeroNonce)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	pt, err := Open(testSecretB64, ct, FixedZeroNonce)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("got %q, want %q", pt, plaintext)
	}
}

func TestSeal_FixedZeroNonce_IsDeterministic(t *testing.T) {
	plaintext := []byte("same plaintext every time")
	ct1, err := Seal(testSecretB64, plaintext, FixedZeroNonce)
	if err != nil {
		t.Fatalf("seal1: %v", err)
	}
	ct2, err := Seal(testSecretB64, plaintext, FixedZeroNonce)
	if err != nil {
		t.Fatalf("seal2: %v", err)
	}
	if string(ct1) != string(ct2) {
		t.Fatalf("expected identical ciphertext under fixed nonce (this is the documented weakness)")
	}
}

func TestSeal_RandomNonce_RoundTripAndVaries(t *testing.T) {
	plaintext := []byte("hello relay, randomized")
	ct1, err := Seal(testSecretB64, plaintext, RandomNonce)
	if err != nil {
		t.Fatalf("seal1: %v", err)
	}
	ct2, err := Seal(testSecretB64, plaintext, RandomNonce)
	if err != nil {
		t.Fatalf("seal2: %v", err)
	}
	if string(ct1) == string(ct2) {
		t.Fatalf("expected distinct ciphertexts under random nonce")
	}
	pt, err := Open(testSecretB64, ct1, RandomNonce)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("got %q, want %q", pt, plaintext)
	}
}

func TestOpen_RejectsWrongKey(t *testing.T) {
	ct, err := Seal(testSecretB64, []byte("secret"), FixedZeroNonce)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	otherKey := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	if _, err := Open(otherKey, ct, FixedZeroNonce); err == nil {
		t.Fatalf("expected decryption under wrong key to fail")
	}
}

func TestSeal_RejectsInvalidKeyLength(t *testing.T) {
	if _, err := Seal("AAAA", []byte("x"), FixedZeroNonce); err == nil {
		t.Fatalf("expected error for short key")
	}
}
