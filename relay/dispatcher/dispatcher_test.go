package dispatcher

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/relaymesh/navajo/p2p/message"
	"github.com/relaymesh/navajo/p2p/packet"
	"github.com/relaymesh/navajo/store"
)

const (
	secretA = "fgVobm2TEGDyWX6GOJrXTuuUoNbfeMpJSa0WhdTcO0k="
	secretB = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
)

// testRelay starts a Dispatcher on an ephemeral loopback port and returns it
// plus a cancel func that shuts it down.
func testRelay(t *testing.T, users store.UserStore, queueStore store.QueueStore) (d *Dispatcher, addr string, cancel func()) {
	t.Helper()
	d, err := New(Config{ListenAddr: "127.0.0.1:0"}, users, queueStore)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Bind up front so we know the ephemeral port before the loops start.
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", d.cfg.ListenAddr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	go d.acceptLoop(ln)
	go d.eventLoop(ctx)

	return d, ln.Addr().String(), func() {
		stop()
		ln.Close()
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func sendPing(t *testing.T, conn net.Conn, address, deviceID, session, secret string) {
	t.Helper()
	env, err := message.Encode(&message.Ping{Address: address, DeviceID: deviceID})
	if err != nil {
		t.Fatalf("encode ping: %v", err)
	}
	frame, err := packet.EncodeFrame(env, session, secret)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write ping: %v", err)
	}
}

func readMessage(t *testing.T, conn net.Conn, secret string) message.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	ex := packet.NewExtractor()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for _, pc := range ex.Feed(buf[:n]) {
			env, err := packet.DecryptPacketContent(pc, secret)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			msg, err := message.Decode(env)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			return msg
		}
	}
}

func TestDispatcher_PingThenChatInfo_RoutesToLiveConnection(t *testing.T) {
	users := store.NewMemoryUserStore()
	ctx := context.Background()
	if err := users.InsertOrUpdate(ctx, store.UserRecord{Address: "addrA", DeviceID: "devA", Session: "sessA", Secret: secretA}); err != nil {
		t.Fatalf("seed A: %v", err)
	}
	if err := users.InsertOrUpdate(ctx, store.UserRecord{Address: "addrB", DeviceID: "devB", Session: "sessB", Secret: secretB}); err != nil {
		t.Fatalf("seed B: %v", err)
	}
	queueStore := store.NewMemoryQueueStore(store.DefaultQueueTTL)

	_, addr, stop := testRelay(t, users, queueStore)
	defer stop()

	connA := dial(t, addr)
	defer connA.Close()
	connB := dial(t, addr)
	defer connB.Close()

	// Both peers announce themselves so the dispatcher's address map knows
	// which socket each address lives on.
	sendPing(t, connA, "addrA", "devA", "sessA", secretA)
	sendPing(t, connB, "addrB", "devB", "sessB", secretB)
	time.Sleep(100 * time.Millisecond)

	chat := &message.ChatInfo{CommonInfo: message.NewCommonInfo(), FromAddr: "addrA", ToAddr: "addrB", Content: "hello b"}
	env, err := message.Encode(chat)
	if err != nil {
		t.Fatalf("encode chat: %v", err)
	}
	frame, err := packet.EncodeFrame(env, "sessA", secretA)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if _, err := connA.Write(frame); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	got := readMessage(t, connB, secretB)
	chatGot, ok := got.(*message.ChatInfo)
	if !ok || chatGot.Content != "hello b" || chatGot.FromAddr != "addrA" {
		t.Fatalf("unexpected message delivered to B: %+v", got)
	}
}

func TestDispatcher_ChatInfoToOfflineAddress_IsQueuedThenFlushedOnPing(t *testing.T) {
	users := store.NewMemoryUserStore()
	ctx := context.Background()
	if err := users.InsertOrUpdate(ctx, store.UserRecord{Address: "addrA", DeviceID: "devA", Session: "sessA", Secret: secretA}); err != nil {
		t.Fatalf("seed A: %v", err)
	}
	if err := users.InsertOrUpdate(ctx, store.UserRecord{Address: "addrB", DeviceID: "devB", Session: "sessB", Secret: secretB}); err != nil {
		t.Fatalf("seed B: %v", err)
	}
	queueStore := store.NewMemoryQueueStore(store.DefaultQueueTTL)

	_, addr, stop := testRelay(t, users, queueStore)
	defer stop()

	connA := dial(t, addr)
	defer connA.Close()
	sendPing(t, connA, "addrA", "devA", "sessA", secretA)
	time.Sleep(50 * time.Millisecond)

	chat := &message.ChatInfo{CommonInfo: message.NewCommonInfo(), FromAddr: "addrA", ToAddr: "addrB", Content: "while you were out"}
	env, err := message.Encode(chat)
	if err != nil {
		t.Fatalf("encode chat: %v", err)
	}
	frame, err := packet.EncodeFrame(env, "sessA", secretA)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if _, err := connA.Write(frame); err != nil {
		t.Fatalf("write chat: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	// B wasn't connected yet: the message must have landed in the offline
	// queue rather than being dropped.
	buffered, err := queueStore.Acquire(ctx, "addrB")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(buffered) != 1 {
		t.Fatalf("expected 1 buffered message for addrB, got %d", len(buffered))
	}

	// Now B connects and pings: the dispatcher should flush the queue over
	// B's own fresh connection.
	connB := dial(t, addr)
	defer connB.Close()
	sendPing(t, connB, "addrB", "devB", "sessB", secretB)

	got := readMessage(t, connB, secretB)
	chatGot, ok := got.(*message.ChatInfo)
	if !ok || chatGot.Content != "while you were out" {
		t.Fatalf("unexpected flushed message: %+v", got)
	}
}

func TestDispatcher_Stats_ReflectsConnectionsAndAddresses(t *testing.T) {
	users := store.NewMemoryUserStore()
	ctx := context.Background()
	if err := users.InsertOrUpdate(ctx, store.UserRecord{Address: "addrA", DeviceID: "devA", Session: "sessA", Secret: secretA}); err != nil {
		t.Fatalf("seed A: %v", err)
	}
	queueStore := store.NewMemoryQueueStore(store.DefaultQueueTTL)

	d, addr, stop := testRelay(t, users, queueStore)
	defer stop()

	connA := dial(t, addr)
	defer connA.Close()
	sendPing(t, connA, "addrA", "devA", "sessA", secretA)
	time.Sleep(100 * time.Millisecond)

	stats := d.Stats()
	if stats.ConnCount != 1 {
		t.Fatalf("expected 1 connection, got %d", stats.ConnCount)
	}
	if stats.AddressCount != 1 {
		t.Fatalf("expected 1 registered address, got %d", stats.AddressCount)
	}
}
