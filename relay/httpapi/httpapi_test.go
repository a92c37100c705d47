package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/handshake"
	"github.com/relaymesh/navajo/store"
)

func newTestServer(t *testing.T, users store.UserStore) *httptest.Server {
	t.Helper()
	s, err := New(Options{Users: users})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mux := http.NewServeMux()
	s.Register(mux)
	return httptest.NewServer(mux)
}

func TestCreateSessionHandler_EndToEnd(t *testing.T) {
	users := store.NewMemoryUserStore()
	srv := newTestServer(t, users)
	defer srv.Close()

	account, err := keys.New()
	if err != nil {
		t.Fatalf("new account: %v", err)
	}

	result, err := handshake.ClientCreateSession(context.Background(), srv.Client(), srv.URL+"/device/create_session", account, "dev-1")
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if result.Session == "" || result.SecretB64 == "" {
		t.Fatalf("expected non-empty session/secret, got %+v", result)
	}

	rec, err := users.FindByAddress(context.Background(), account.Address)
	if err != nil {
		t.Fatalf("expected UserRecord: %v", err)
	}
	if rec.Secret != result.SecretB64 || rec.Session != result.Session {
		t.Fatalf("relay/client session mismatch: relay=%+v client=%+v", rec, result)
	}
}

func TestCreateSessionHandler_MalformedBodyReturnsCodedError(t *testing.T) {
	users := store.NewMemoryUserStore()
	srv := newTestServer(t, users)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/device/create_session", "application/json", bytes.NewBufferString("not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var env handshake.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Code == 0 {
		t.Fatalf("expected a nonzero error code, got %+v", env)
	}
}

func TestCreateSessionHandler_RejectsNonPost(t *testing.T) {
	users := store.NewMemoryUserStore()
	srv := newTestServer(t, users)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/device/create_session")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHealthz_ReturnsOK(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryUserStore())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
