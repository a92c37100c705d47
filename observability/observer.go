// Package observability defines the metric events the relay and client
// emit, decoupled from any particular exporter (see the prom subpackage for
// the Prometheus implementation).
package observability

import (
	"sync"
	"sync/atomic"
)

// CloseReason classifies why a relay-side or client-side connection ended.
type CloseReason string

const (
	CloseReasonPeerClosed CloseReason = "peer_closed"
	CloseReasonReadError  CloseReason = "read_error"
	CloseReasonWriteError CloseReason = "write_error"
)

// RouteResult classifies the outcome of routing one ChatInfo message.
type RouteResult string

const (
	RouteResultDelivered RouteResult = "delivered"
	RouteResultQueued    RouteResult = "queued"
	RouteResultDropped   RouteResult = "dropped"
)

// HandshakeResult classifies the outcome of a create_session attempt.
type HandshakeResult string

const (
	HandshakeResultOK         HandshakeResult = "ok"
	HandshakeResultBadSign    HandshakeResult = "bad_sign"
	HandshakeResultStoreError HandshakeResult = "store_error"
)

// ConnectResult classifies the outcome of one client dial attempt against
// the relay's TCP listener.
type ConnectResult string

const (
	ConnectResultOK    ConnectResult = "ok"
	ConnectResultError ConnectResult = "error"
)

// RelayObserver receives relay-level metric events.
type RelayObserver interface {
	ConnCount(n int64)
	AddressCount(n int)
	Ping()
	Route(result RouteResult)
	QueueDepth(n int)
	Close(reason CloseReason)
	Handshake(result HandshakeResult)
}

type noopRelayObserver struct{}

func (noopRelayObserver) ConnCount(int64)           {}
func (noopRelayObserver) AddressCount(int)          {}
func (noopRelayObserver) Ping()                     {}
func (noopRelayObserver) Route(RouteResult)         {}
func (noopRelayObserver) QueueDepth(int)            {}
func (noopRelayObserver) Close(CloseReason)         {}
func (noopRelayObserver) Handshake(HandshakeResult) {}

// NoopRelayObserver is a zero-cost observer used when metrics are disabled.
var NoopRelayObserver RelayObserver = noopRelayObserver{}

// AtomicRelayObserver swaps its delegate at runtime, so a relay can start
// with the no-op observer and attach a real exporter once one is wired up.
type AtomicRelayObserver struct {
	once sync.Once
	v    atomic.Value
}

type relayObserverHolder struct {
	obs RelayObserver
}

// NewAtomicRelayObserver returns an initialized atomic observer defaulting
// to NoopRelayObserver.
func NewAtomicRelayObserver() *AtomicRelayObserver {
	a := &AtomicRelayObserver{}
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicRelayObserver) Set(obs RelayObserver) {
	if obs == nil {
		obs = NoopRelayObserver
	}
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	a.v.Store(&relayObserverHolder{obs: obs})
}

func (a *AtomicRelayObserver) load() RelayObserver {
	a.once.Do(func() { a.v.Store(&relayObserverHolder{obs: NoopRelayObserver}) })
	return a.v.Load().(*relayObserverHolder).obs
}

func (a *AtomicRelayObserver) ConnCount(n int64)  { a.load().ConnCount(n) }
func (a *AtomicRelayObserver) AddressCount(n int) { a.load().AddressCount(n) }
func (a *AtomicRelayObserver) Ping()              { a.load().Ping() }
func (a *AtomicRelayObserver) Route(result RouteResult) {
	a.load().Route(result)
}
func (a *AtomicRelayObserver) QueueDepth(n int)         { a.load().QueueDepth(n) }
func (a *AtomicRelayObserver) Close(reason CloseReason) { a.load().Close(reason) }
func (a *AtomicRelayObserver) Handshake(result HandshakeResult) {
	a.load().Handshake(result)
}

// ClientObserver receives client-transport metric events.
type ClientObserver interface {
	Connect(result ConnectResult)
	Ping()
	Receive()
	Close(reason CloseReason)
}

type noopClientObserver struct{}

func (noopClientObserver) Connect(ConnectResult) {}
func (noopClientObserver) Ping()                 {}
func (noopClientObserver) Receive()              {}
func (noopClientObserver) Close(CloseReason)     {}

// NoopClientObserver is a zero-cost observer used when metrics are disabled.
var NoopClientObserver ClientObserver = noopClientObserver{}

// AtomicClientObserver swaps its delegate at runtime, mirroring
// AtomicRelayObserver.
type AtomicClientObserver struct {
	once sync.Once
	v    atomic.Value
}

type clientObserverHolder struct {
	obs ClientObserver
}

// NewAtomicClientObserver returns an initialized atomic observer defaulting
// to NoopClientObserver.
func NewAtomicClientObserver() *AtomicClientObserver {
	a := &AtomicClientObserver{}
	a.once.Do(func() { a.v.Store(&clientObserverHolder{obs: NoopClientObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicClientObserver) Set(obs ClientObserver) {
	if obs == nil {
		obs = NoopClientObserver
	}
	a.once.Do(func() { a.v.Store(&clientObserverHolder{obs: NoopClientObserver}) })
	a.v.Store(&clientObserverHolder{obs: obs})
}

func (a *AtomicClientObserver) load() ClientObserver {
	a.once.Do(func() { a.v.Store(&clientObserverHolder{obs: NoopClientObserver}) })
	return a.v.Load().(*clientObserverHolder).obs
}

func (a *AtomicClientObserver) Connect(result ConnectResult) { a.load().Connect(result) }
func (a *AtomicClientObserver) Ping()                        { a.load().Ping() }
func (a *AtomicClientObserver) Receive()                     { a.load().Receive() }
func (a *AtomicClientObserver) Close(reason CloseReason)      { a.load().Close(reason) }
