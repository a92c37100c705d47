// Package dispatcher implements the relay's accept loop and event loop: it
// owns the connection map and address map exclusively (no per-map lock;
// the accept loop and the event loop mutate them under a single mutex
// shared with the read-mostly Stats snapshot), and routes
// Ping/ChatInfo messages between connected peers, falling back to the
// offline queue when the destination has no live connection.
package dispatcher

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/relaymesh/navajo/fserrors"
	"github.com/relaymesh/navajo/observability"
	"github.com/relaymesh/navajo/p2p/message"
	"github.com/relaymesh/navajo/relay/connection"
	"github.com/relaymesh/navajo/relay/queue"
	"github.com/relaymesh/navajo/store"
)

// eventBufferSize bounds how many connection events can be pending before
// the accept loop and connection read loops start blocking on a slow event
// loop.
const eventBufferSize = 256

// Config configures a Dispatcher.
type Config struct {
	ListenAddr string // TCP address to accept connections on.
	QueueTTL   int64  // Offline-queue retention, in seconds. The Dispatcher does not read it; retention is the TTL of the QueueStore passed to New.

	Observer observability.RelayObserver // Optional relay metrics observer.
}

// DefaultConfig returns the relay's default runtime configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "127.0.0.1:6000",
		Observer:   observability.NoopRelayObserver,
	}
}

// Dispatcher accepts TCP connections and routes messages between them.
type Dispatcher struct {
	cfg   Config
	users store.UserStore
	queue *queue.OfflineQueue
	obs   observability.RelayObserver

	events chan connection.Event

	mu          sync.Mutex
	connections map[string]*connection.Connection // peer_addr -> Connection
	addresses   map[string]string                 // address -> peer_addr
	connCount   int64
}

// Stats is a point-in-time snapshot of dispatcher state.
type Stats struct {
	ConnCount    int64
	AddressCount int
}

// New validates cfg and constructs a Dispatcher over users and queueStore.
func New(cfg Config, users store.UserStore, queueStore store.QueueStore) (*Dispatcher, error) {
	if cfg.ListenAddr == "" {
		return nil, errors.New("dispatcher: missing listen address")
	}
	obs := cfg.Observer
	if obs == nil {
		obs = observability.NoopRelayObserver
	}
	return &Dispatcher{
		cfg:         cfg,
		users:       users,
		queue:       queue.New(queueStore),
		obs:         obs,
		events:      make(chan connection.Event, eventBufferSize),
		connections: make(map[string]*connection.Connection),
		addresses:   make(map[string]string),
	}, nil
}

// Stats returns a snapshot of the current connection and address counts.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{ConnCount: d.connCount, AddressCount: len(d.addresses)}
}

// Run listens on cfg.ListenAddr and runs the accept loop and event loop
// until ctx is canceled or the listener fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", d.cfg.ListenAddr)
	if err != nil {
		return fserrors.Wrap(fserrors.PathRelay, fserrors.StageConnect, fserrors.CodeInvalidParam, err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go func() {
		d.acceptLoop(ln)
		cancel()
	}()
	d.eventLoop(ctx)
	return nil
}

func (d *Dispatcher) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		c := connection.Accept(conn, d.users, d.events)
		d.mu.Lock()
		d.connections[c.PeerAddr()] = c
		d.connCount++
		count := d.connCount
		d.mu.Unlock()
		d.obs.ConnCount(count)
	}
}

func (d *Dispatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.events:
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev connection.Event) {
	switch e := ev.(type) {
	case connection.Closed:
		d.removeConnection(e.PeerAddr)
		d.obs.Close(observability.CloseReasonPeerClosed)
	case connection.Errored:
		d.removeConnection(e.PeerAddr)
		d.obs.Close(observability.CloseReasonReadError)
	case connection.Remote:
		d.handleRemote(ctx, e)
	}
}

func (d *Dispatcher) removeConnection(peerAddr string) {
	d.mu.Lock()
	delete(d.connections, peerAddr)
	if d.connCount > 0 {
		d.connCount--
	}
	count := d.connCount
	d.mu.Unlock()
	// Address-map entries pointing at peerAddr are not proactively evicted:
	// they self-correct on that address's next Ping.
	d.obs.ConnCount(count)
}

func (d *Dispatcher) handleRemote(ctx context.Context, e connection.Remote) {
	switch m := e.Message.(type) {
	case *message.Ping:
		d.handlePing(ctx, e.PeerAddr, m)
	case *message.ChatInfo:
		d.handleChatInfo(ctx, m)
	}
}

func (d *Dispatcher) handlePing(ctx context.Context, peerAddr string, ping *message.Ping) {
	d.obs.Ping()

	buffered, err := d.queue.Flush(ctx, ping.Address)
	if err == nil && len(buffered) > 0 {
		d.mu.Lock()
		conn := d.connections[peerAddr]
		d.mu.Unlock()
		if conn != nil {
			for _, env := range buffered {
				msg, decErr := message.Decode(env)
				if decErr != nil {
					continue
				}
				conn.Call(ctx, ping.Address, msg)
			}
		}
	}

	d.mu.Lock()
	d.addresses[ping.Address] = peerAddr
	addrCount := len(d.addresses)
	d.mu.Unlock()
	d.obs.AddressCount(addrCount)
}

func (d *Dispatcher) handleChatInfo(ctx context.Context, chat *message.ChatInfo) {
	d.mu.Lock()
	dstPeerAddr, ok := d.addresses[chat.ToAddr]
	var dstConn *connection.Connection
	if ok {
		dstConn = d.connections[dstPeerAddr]
	}
	d.mu.Unlock()

	if dstConn == nil {
		env, err := message.Encode(chat)
		if err != nil {
			d.obs.Route(observability.RouteResultDropped)
			return
		}
		if err := d.queue.Enqueue(ctx, chat.ToAddr, env); err != nil {
			d.obs.Route(observability.RouteResultDropped)
			return
		}
		d.obs.Route(observability.RouteResultQueued)
		return
	}

	if dstConn.Call(ctx, chat.ToAddr, chat) {
		d.obs.Route(observability.RouteResultDelivered)
	} else {
		d.obs.Route(observability.RouteResultDropped)
	}
}
