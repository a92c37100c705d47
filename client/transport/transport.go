// Package transport implements the client's long-lived TCP connection to
// the relay: a reconnect loop that redials on any disconnect, a read
// goroutine decoding inbound frames, an encode goroutine serializing
// outbound messages under whatever session is currently cached, a socket
// write goroutine, and a ping goroutine announcing this address to the
// relay every PingInterval.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/observability"
	"github.com/relaymesh/navajo/p2p/message"
	"github.com/relaymesh/navajo/p2p/packet"
	"github.com/relaymesh/navajo/store"
)

// readBufferSize matches the original protocol's per-read buffer size.
const readBufferSize = 256

// commandQueueSize bounds how many outbound application messages (Send
// calls plus pings) can be buffered ahead of a connection being ready to
// encode and write them.
const commandQueueSize = 1024

// writeQueueSize bounds how many already-encoded frames can be buffered
// ahead of the socket write goroutine for one connection.
const writeQueueSize = 1024

// shutdownBroadcastSize is the buffer on the close signal used to tear
// down every goroutine across every past and future connection attempt.
const shutdownBroadcastSize = 1

// ErrClosed is returned by Send once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// DialFunc opens a TCP connection to the relay. Tests substitute a fake to
// avoid binding a real socket and to control exactly when and how dialing
// fails.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// SleepFunc waits d, or returns early if ctx is canceled. Tests substitute
// one that returns immediately (while still recording that it was called),
// so reconnect-timing behavior can be exercised without real 5-second
// sleeps.
type SleepFunc func(ctx context.Context, d time.Duration)

func defaultDial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func defaultSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Config configures a Transport.
type Config struct {
	RelayAddr string // "host:port" of the relay's TCP listener.

	// SessionKey identifies this client's cached handshake state in
	// Sessions — the original protocol keys this by local tcp port; any
	// stable-per-process value works.
	SessionKey string
	DeviceID   string
	Account    *keys.Account
	Sessions   store.SessionStore

	PingInterval      time.Duration
	ReconnectInterval time.Duration

	Dial     DialFunc
	Sleep    SleepFunc
	Observer observability.ClientObserver
}

// DefaultConfig returns conservative defaults; callers still must set
// RelayAddr, SessionKey, DeviceID, Account, and Sessions.
func DefaultConfig() Config {
	return Config{
		PingInterval:      5 * time.Second,
		ReconnectInterval: 5 * time.Second,
		Dial:              defaultDial,
		Sleep:             defaultSleep,
		Observer:          observability.NoopClientObserver,
	}
}

// Transport owns the client's relay connection across reconnects.
type Transport struct {
	cfg Config

	commandCh  chan message.Message
	incomingCh chan *message.ChatInfo

	closeOnce sync.Once
	closeCh   chan struct{}
}

// New validates cfg and constructs a Transport. Run must be called to
// actually dial the relay.
func New(cfg Config) (*Transport, error) {
	if cfg.RelayAddr == "" {
		return nil, errors.New("transport: missing RelayAddr")
	}
	if cfg.SessionKey == "" {
		return nil, errors.New("transport: missing SessionKey")
	}
	if cfg.DeviceID == "" {
		return nil, errors.New("transport: missing DeviceID")
	}
	if cfg.Account == nil {
		return nil, errors.New("transport: missing Account")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("transport: missing Sessions store")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}
	if cfg.Sleep == nil {
		cfg.Sleep = defaultSleep
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopClientObserver
	}
	return &Transport{
		cfg:        cfg,
		commandCh:  make(chan message.Message, commandQueueSize),
		incomingCh: make(chan *message.ChatInfo, commandQueueSize),
		closeCh:    make(chan struct{}, shutdownBroadcastSize),
	}, nil
}

// Send enqueues msg for delivery on the current (or next) connection. It
// blocks only if the command queue is full.
func (t *Transport) Send(ctx context.Context, msg message.Message) error {
	select {
	case t.commandCh <- msg:
		return nil
	case <-t.closeCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Incoming delivers ChatInfo messages received from the relay.
func (t *Transport) Incoming() <-chan *message.ChatInfo {
	return t.incomingCh
}

// Close stops Run's reconnect loop and tears down the active connection,
// if any. Safe to call more than once.
func (t *Transport) Close() {
	t.closeOnce.Do(func() { close(t.closeCh) })
}

// Run dials the relay and keeps reconnecting, forever, until ctx is
// canceled or Close is called. A dial failure or a dropped connection both
// lead to the same ReconnectInterval wait before retrying, matching the
// original protocol's unconditional 5-second retry.
func (t *Transport) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.closeCh:
			return nil
		default:
		}

		conn, err := t.cfg.Dial(ctx, t.cfg.RelayAddr)
		if err != nil {
			t.cfg.Observer.Connect(observability.ConnectResultError)
			if !t.waitReconnect(ctx) {
				return ctx.Err()
			}
			continue
		}
		t.cfg.Observer.Connect(observability.ConnectResultOK)

		t.runConnection(ctx, conn)

		if !t.waitReconnect(ctx) {
			return ctx.Err()
		}
	}
}

func (t *Transport) waitReconnect(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-t.closeCh:
		return false
	default:
	}
	t.cfg.Sleep(ctx, t.cfg.ReconnectInterval)
	select {
	case <-ctx.Done():
		return false
	case <-t.closeCh:
		return false
	default:
		return true
	}
}

// runConnection drives one TCP connection's three goroutines (encode,
// socket write, ping) until the read loop — run on the calling goroutine —
// returns, then tears all three down via connCtx cancellation. A fourth
// goroutine closes the socket when ctx is canceled or Close is called, which
// ends the read loop.
func (t *Transport) runConnection(ctx context.Context, conn net.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	var closeConnOnce sync.Once
	closeConn := func() { closeConnOnce.Do(func() { _ = conn.Close() }) }

	go func() {
		select {
		case <-connCtx.Done():
		case <-t.closeCh:
		}
		closeConn()
	}()

	frameCh := make(chan []byte, writeQueueSize)

	go t.encodeLoop(connCtx, frameCh)
	go t.socketWriteLoop(connCtx, conn, frameCh, closeConn)
	go t.pingLoop(connCtx)

	t.readLoop(conn, closeConn)
}

// encodeLoop drains commandCh, looks up whichever session is currently
// cached, and pushes the encoded frame onto frameCh. A message sent before
// any handshake has completed — or after the cached session has expired —
// is silently dropped, matching the original protocol's encode_message
// returning None rather than blocking the channel.
func (t *Transport) encodeLoop(ctx context.Context, frameCh chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.commandCh:
			frame, ok := t.encode(ctx, msg)
			if !ok {
				continue
			}
			select {
			case frameCh <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *Transport) encode(ctx context.Context, msg message.Message) ([]byte, bool) {
	session, ok, err := t.cfg.Sessions.GetSession(ctx, t.cfg.SessionKey)
	if err != nil || !ok {
		return nil, false
	}
	secret, ok, err := t.cfg.Sessions.GetSecret(ctx, t.cfg.SessionKey)
	if err != nil || !ok {
		return nil, false
	}
	env, err := message.Encode(msg)
	if err != nil {
		return nil, false
	}
	frame, err := packet.EncodeFrame(env, session, secret)
	if err != nil {
		return nil, false
	}
	return frame, true
}

func (t *Transport) socketWriteLoop(ctx context.Context, conn net.Conn, frameCh <-chan []byte, closeConn func()) {
	for {
		select {
		case frame := <-frameCh:
			if _, err := conn.Write(frame); err != nil {
				closeConn()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// pingLoop announces this address to the relay every PingInterval. A full
// command queue drops the tick rather than blocking; the next tick tries
// again.
func (t *Transport) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := &message.Ping{Address: t.cfg.Account.Address, DeviceID: t.cfg.DeviceID}
			select {
			case t.commandCh <- ping:
			default:
			}
			t.cfg.Observer.Ping()
		}
	}
}

func (t *Transport) readLoop(conn net.Conn, closeConn func()) {
	ex := packet.NewExtractor()
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, pc := range ex.Feed(buf[:n]) {
				msg, ok := t.decode(pc)
				if !ok {
					continue // undecryptable or stale-session frame: drop, never tear down
				}
				if chat, ok := msg.(*message.ChatInfo); ok {
					select {
					case t.incomingCh <- chat:
						t.cfg.Observer.Receive()
					default: // consumer too slow: drop rather than block the reader
					}
				}
			}
		}
		if err != nil {
			closeConn()
			reason := observability.CloseReasonReadError
			if errors.Is(err, io.EOF) {
				reason = observability.CloseReasonPeerClosed
			}
			t.cfg.Observer.Close(reason)
			return
		}
	}
}

func (t *Transport) decode(pc packet.PacketContent) (message.Message, bool) {
	secret, ok, err := t.cfg.Sessions.GetSecret(context.Background(), t.cfg.SessionKey)
	if err != nil || !ok {
		return nil, false
	}
	env, err := packet.DecryptPacketContent(pc, secret)
	if err != nil {
		return nil, false
	}
	msg, err := message.Decode(env)
	if err != nil {
		return nil, false
	}
	return msg, true
}
