package transport

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/p2p/message"
	"github.com/relaymesh/navajo/p2p/packet"
	"github.com/relaymesh/navajo/store"
)

func newTestAccount(t *testing.T) *keys.Account {
	t.Helper()
	account, err := keys.New()
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	return account
}

// instantSleep is a SleepFunc substitute that never actually waits, so a
// test exercising several reconnect attempts runs in milliseconds instead
// of several times ReconnectInterval seconds.
func instantSleep(calls *int64) SleepFunc {
	return func(ctx context.Context, d time.Duration) {
		atomic.AddInt64(calls, 1)
	}
}

func TestTransport_ReconnectsAfterDialFailures_WithoutRealSleep(t *testing.T) {
	var sleepCalls int64
	var dialAttempts int64
	errDial := errors.New("dial refused")

	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		n := atomic.AddInt64(&dialAttempts, 1)
		if n <= 3 {
			return nil, errDial
		}
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}

	cfg := DefaultConfig()
	cfg.RelayAddr = "relay.invalid:6000"
	cfg.SessionKey = "port-1"
	cfg.DeviceID = "dev-1"
	cfg.Account = newTestAccount(t)
	cfg.Sessions = store.NewMemorySessionStore()
	cfg.ReconnectInterval = time.Hour // would block the test for real if Sleep weren't stubbed
	cfg.Dial = dial
	cfg.Sleep = instantSleep(&sleepCalls)

	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&dialAttempts) < 4 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for dial attempts, got %d", atomic.LoadInt64(&dialAttempts))
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done

	if got := atomic.LoadInt64(&sleepCalls); got < 3 {
		t.Fatalf("expected at least 3 reconnect sleeps, got %d", got)
	}
}

func TestTransport_Send_EncodesAndWritesUnderCachedSession(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sessions := store.NewMemorySessionStore()
	ctx := context.Background()
	if err := sessions.SetSession(ctx, "port-1", "sess-abc"); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if err := sessions.SetSecret(ctx, "port-1", "c2VjcmV0LWJ5dGVzLXNlY3JldC1ieXRlcy0zMmJ5dGU="); err != nil {
		t.Fatalf("set secret: %v", err)
	}

	dialed := make(chan struct{})
	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		close(dialed)
		return client, nil
	}

	cfg := DefaultConfig()
	cfg.RelayAddr = "relay.invalid:6000"
	cfg.SessionKey = "port-1"
	cfg.DeviceID = "dev-1"
	cfg.Account = newTestAccount(t)
	cfg.Sessions = sessions
	cfg.PingInterval = time.Hour
	cfg.Dial = dial

	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(runCtx)
	<-dialed

	chat := &message.ChatInfo{CommonInfo: message.NewCommonInfo(), FromAddr: "a", ToAddr: "b", Content: "hi"}
	if err := tr.Send(context.Background(), chat); err != nil {
		t.Fatalf("send: %v", err)
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	ex := packet.NewExtractor()
	var pcs []packet.PacketContent
	for len(pcs) == 0 {
		n, err := server.Read(buf)
		if err != nil {
			t.Fatalf("server read: %v", err)
		}
		pcs = ex.Feed(buf[:n])
	}

	env, err := packet.DecryptPacketContent(pcs[0], "c2VjcmV0LWJ5dGVzLXNlY3JldC1ieXRlcy0zMmJ5dGU=")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	got, err := message.Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gotChat, ok := got.(*message.ChatInfo)
	if !ok {
		t.Fatalf("expected *message.ChatInfo, got %T", got)
	}
	if gotChat.Content != "hi" || gotChat.ToAddr != "b" {
		t.Fatalf("unexpected chat content: %+v", gotChat)
	}
}

func TestTransport_Incoming_DeliversDecodedChatInfo(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sessions := store.NewMemorySessionStore()
	ctx := context.Background()
	const secret = "YW5vdGhlci1zZWNyZXQtMzItYnl0ZXMtbG9uZyEhISE="
	if err := sessions.SetSession(ctx, "port-1", "sess-xyz"); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if err := sessions.SetSecret(ctx, "port-1", secret); err != nil {
		t.Fatalf("set secret: %v", err)
	}

	dial := func(ctx context.Context, addr string) (net.Conn, error) { return client, nil }

	cfg := DefaultConfig()
	cfg.RelayAddr = "relay.invalid:6000"
	cfg.SessionKey = "port-1"
	cfg.DeviceID = "dev-1"
	cfg.Account = newTestAccount(t)
	cfg.Sessions = sessions
	cfg.PingInterval = time.Hour
	cfg.Dial = dial

	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(runCtx)

	chat := &message.ChatInfo{CommonInfo: message.NewCommonInfo(), FromAddr: "b", ToAddr: "a", Content: "incoming"}
	env, err := message.Encode(chat)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, err := packet.EncodeFrame(env, "sess-xyz", secret)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}

	go func() {
		server.SetWriteDeadline(time.Now().Add(2 * time.Second))
		server.Write(frame)
	}()

	select {
	case got := <-tr.Incoming():
		if got.Content != "incoming" {
			t.Fatalf("unexpected content: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for incoming chat message")
	}
}
