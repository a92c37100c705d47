package observability

import "testing"

type recordingObserver struct {
	conns int64
}

func (r *recordingObserver) ConnCount(n int64)    { r.conns = n }
func (r *recordingObserver) AddressCount(int)     {}
func (r *recordingObserver) Ping()                {}
func (r *recordingObserver) Route(RouteResult)    {}
func (r *recordingObserver) QueueDepth(int)        {}
func (r *recordingObserver) Close(CloseReason)    {}
func (r *recordingObserver) Handshake(HandshakeResult) {}

func TestAtomicRelayObserver_DefaultsToNoop(t *testing.T) {
	a := NewAtomicRelayObserver()
	// Must not panic with nothing set.
	a.ConnCount(1)
	a.AddressCount(1)
	a.Ping()
	a.Route(RouteResultDelivered)
	a.QueueDepth(1)
	a.Close(CloseReasonPeerClosed)
	a.Handshake(HandshakeResultOK)
}

func TestAtomicRelayObserver_SetSwapsDelegate(t *testing.T) {
	a := NewAtomicRelayObserver()
	rec := &recordingObserver{}
	a.Set(rec)
	a.ConnCount(42)
	if rec.conns != 42 {
		t.Fatalf("expected delegate to receive ConnCount, got %d", rec.conns)
	}
}

func TestAtomicRelayObserver_SetNilFallsBackToNoop(t *testing.T) {
	a := NewAtomicRelayObserver()
	a.Set(nil)
	a.ConnCount(1) // must not panic
}
