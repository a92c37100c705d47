// Package prom exports observability.RelayObserver events to Prometheus.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaymesh/navajo/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RelayObserver exports relay metrics to Prometheus.
type RelayObserver struct {
	connGauge       prometheus.Gauge
	addressGauge    prometheus.Gauge
	queueDepthGauge prometheus.Gauge
	pingTotal       prometheus.Counter
	routeTotal      *prometheus.CounterVec
	closeTotal      *prometheus.CounterVec
	handshakeTotal  *prometheus.CounterVec
}

// NewRelayObserver registers relay metrics on the registry.
func NewRelayObserver(reg *prometheus.Registry) *RelayObserver {
	o := &RelayObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navajo_relay_connections",
			Help: "Current accepted TCP connection count.",
		}),
		addressGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navajo_relay_addresses",
			Help: "Current entries in the address-to-connection map.",
		}),
		queueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navajo_relay_offline_queue_depth",
			Help: "Total messages buffered across all offline queues.",
		}),
		pingTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navajo_relay_pings_total",
			Help: "Ping messages received.",
		}),
		routeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navajo_relay_route_total",
			Help: "ChatInfo routing outcomes.",
		}, []string{"result"}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navajo_relay_close_total",
			Help: "Connection close reasons.",
		}, []string{"reason"}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navajo_relay_handshake_total",
			Help: "create_session outcomes.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		o.connGauge,
		o.addressGauge,
		o.queueDepthGauge,
		o.pingTotal,
		o.routeTotal,
		o.closeTotal,
		o.handshakeTotal,
	)
	return o
}

func (o *RelayObserver) ConnCount(n int64)  { o.connGauge.Set(float64(n)) }
func (o *RelayObserver) AddressCount(n int) { o.addressGauge.Set(float64(n)) }
func (o *RelayObserver) QueueDepth(n int)   { o.queueDepthGauge.Set(float64(n)) }
func (o *RelayObserver) Ping()              { o.pingTotal.Inc() }

func (o *RelayObserver) Route(result observability.RouteResult) {
	o.routeTotal.WithLabelValues(string(result)).Inc()
}

func (o *RelayObserver) Close(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}

func (o *RelayObserver) Handshake(result observability.HandshakeResult) {
	o.handshakeTotal.WithLabelValues(string(result)).Inc()
}

// ClientObserver exports client-transport metrics to Prometheus.
type ClientObserver struct {
	connectTotal *prometheus.CounterVec
	pingTotal    prometheus.Counter
	receiveTotal prometheus.Counter
	closeTotal   *prometheus.CounterVec
}

// NewClientObserver registers client-transport metrics on the registry.
func NewClientObserver(reg *prometheus.Registry) *ClientObserver {
	o := &ClientObserver{
		connectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navajo_client_connect_total",
			Help: "Relay dial attempts by outcome.",
		}, []string{"result"}),
		pingTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navajo_client_pings_total",
			Help: "Ping messages sent.",
		}),
		receiveTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navajo_client_receive_total",
			Help: "ChatInfo messages received from the relay.",
		}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navajo_client_close_total",
			Help: "Connection close reasons.",
		}, []string{"reason"}),
	}
	reg.MustRegister(o.connectTotal, o.pingTotal, o.receiveTotal, o.closeTotal)
	return o
}

func (o *ClientObserver) Connect(result observability.ConnectResult) {
	o.connectTotal.WithLabelValues(string(result)).Inc()
}

func (o *ClientObserver) Ping()    { o.pingTotal.Inc() }
func (o *ClientObserver) Receive() { o.receiveTotal.Inc() }

func (o *ClientObserver) Close(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}
