// Package connection implements the per-socket read/write halves of a
// relay-accepted TCP connection: decrypting inbound frames against the
// bearer session's secret, and re-keying outbound frames to whichever
// peer they are addressed to.
package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/relaymesh/navajo/p2p/message"
	"github.com/relaymesh/navajo/p2p/packet"
	"github.com/relaymesh/navajo/store"
)

// readBufferSize matches the original protocol's per-read buffer size.
const readBufferSize = 256

// writeQueueSize bounds how many pending outbound frames a connection will
// buffer before a slow peer starts losing messages rather than stalling the
// dispatcher's event loop.
const writeQueueSize = 1024

// Event is the sum type a Connection emits onto the dispatcher's event
// channel: Closed, Errored, or Remote.
type Event interface{ isEvent() }

// Closed reports a clean EOF on peerAddr's socket.
type Closed struct{ PeerAddr string }

func (Closed) isEvent() {}

// Errored reports a read error on peerAddr's socket.
type Errored struct{ PeerAddr string }

func (Errored) isEvent() {}

// Remote reports a successfully decoded message from peerAddr.
type Remote struct {
	PeerAddr string
	Message  message.Message
}

func (Remote) isEvent() {}

// Connection wraps one accepted TCP socket: a read goroutine that decodes
// frames and emits events, and a write goroutine that drains an internal
// channel of pre-encoded byte frames onto the socket.
type Connection struct {
	peerAddr string
	conn     net.Conn
	users    store.UserStore
	writeCh  chan []byte
	done     chan struct{}

	closeOnce sync.Once
}

// Accept starts a Connection's read and write goroutines over conn,
// emitting events onto events until the socket closes or errors.
func Accept(conn net.Conn, users store.UserStore, events chan<- Event) *Connection {
	c := &Connection{
		peerAddr: conn.RemoteAddr().String(),
		conn:     conn,
		users:    users,
		writeCh:  make(chan []byte, writeQueueSize),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop(events)
	return c
}

// PeerAddr is the "ip:port" key this connection is registered under in the
// dispatcher's connection map.
func (c *Connection) PeerAddr() string {
	return c.peerAddr
}

func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.writeCh:
			if _, err := c.conn.Write(frame); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) readLoop(events chan<- Event) {
	ex := packet.NewExtractor()
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, pc := range ex.Feed(buf[:n]) {
				msg, ok := c.decode(pc)
				if !ok {
					continue // undecryptable or unknown-session frame: drop, never tear down
				}
				events <- Remote{PeerAddr: c.peerAddr, Message: msg}
			}
		}
		if err != nil {
			c.Close()
			if errors.Is(err, io.EOF) {
				events <- Closed{PeerAddr: c.peerAddr}
			} else {
				events <- Errored{PeerAddr: c.peerAddr}
			}
			return
		}
	}
}

func (c *Connection) decode(pc packet.PacketContent) (message.Message, bool) {
	user, err := c.users.FindBySession(context.Background(), pc.Session)
	if err != nil {
		return nil, false
	}
	env, err := packet.DecryptPacketContent(pc, user.Secret)
	if err != nil {
		return nil, false
	}
	msg, err := message.Decode(env)
	if err != nil {
		return nil, false
	}
	return msg, true
}

// Call encodes msg for delivery to toAddress, keyed under that address's
// own (session, secret) binding rather than the sender's — the relay
// re-keys per hop by knowing both users' secrets. A toAddress with no
// UserRecord, or a full write queue, drops the message and returns false.
func (c *Connection) Call(ctx context.Context, toAddress string, msg message.Message) bool {
	user, err := c.users.FindByAddress(ctx, toAddress)
	if err != nil {
		return false
	}
	env, err := message.Encode(msg)
	if err != nil {
		return false
	}
	frame, err := packet.EncodeFrame(env, user.Session, user.Secret)
	if err != nil {
		return false
	}
	select {
	case c.writeCh <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close shuts down the write goroutine and the underlying socket. Safe to
// call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
