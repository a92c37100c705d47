// Command navajo-relay runs the relay: the HTTP bootstrap endpoint that
// negotiates per-device sessions, and the TCP listener that routes
// ChatInfo messages between connected peers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/relaymesh/navajo/internal/cmdutil"
	fsversion "github.com/relaymesh/navajo/internal/version"
	"github.com/relaymesh/navajo/observability"
	"github.com/relaymesh/navajo/observability/prom"
	"github.com/relaymesh/navajo/relay/dispatcher"
	"github.com/relaymesh/navajo/relay/httpapi"
	"github.com/relaymesh/navajo/store"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 10 * time.Second
	httpWriteTimeout      = 10 * time.Second
	httpIdleTimeout       = 60 * time.Second
)

func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		WriteTimeout:      httpWriteTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
}

type switchHandler struct {
	mu      sync.RWMutex
	handler http.Handler
}

func newSwitchHandler() *switchHandler {
	return &switchHandler{handler: http.NotFoundHandler()}
}

func (h *switchHandler) Set(next http.Handler) {
	if next == nil {
		next = http.NotFoundHandler()
	}
	h.mu.Lock()
	h.handler = next
	h.mu.Unlock()
}

func (h *switchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	handler.ServeHTTP(w, r)
}

type metricsController struct {
	mu       sync.Mutex
	enabled  bool
	handler  *switchHandler
	observer *observability.AtomicRelayObserver
	d        *dispatcher.Dispatcher
}

func newMetricsController(handler *switchHandler, observer *observability.AtomicRelayObserver, d *dispatcher.Dispatcher) *metricsController {
	return &metricsController{handler: handler, observer: observer, d: d}
}

func (c *metricsController) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return
	}
	reg := prom.NewRegistry()
	relayObs := prom.NewRelayObserver(reg)
	c.handler.Set(prom.Handler(reg))
	c.observer.Set(relayObs)
	stats := c.d.Stats()
	relayObs.ConnCount(stats.ConnCount)
	relayObs.AddressCount(stats.AddressCount)
	c.enabled = true
}

func (c *metricsController) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.handler.Set(nil)
	c.observer.Set(observability.NoopRelayObserver)
	c.enabled = false
}

type ready struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Date       string `json:"date"`
	WebListen  string `json:"web_listen"`
	TCPListen  string `json:"tcp_listen"`
	HealthzURL string `json:"healthz_url"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "", log.LstdFlags)

	webPort, err := cmdutil.EnvInt("NAVAJO_WEB_PORT", 28100)
	if err != nil {
		fmt.Fprintf(stderr, "invalid NAVAJO_WEB_PORT: %v\n", err)
		return 2
	}
	tcpPort, err := cmdutil.EnvInt("NAVAJO_TCP_PORT", 6000)
	if err != nil {
		fmt.Fprintf(stderr, "invalid NAVAJO_TCP_PORT: %v\n", err)
		return 2
	}
	tcpHost := cmdutil.EnvString("NAVAJO_TCP_HOST", "127.0.0.1")
	metricsListen := cmdutil.EnvString("NAVAJO_METRICS_LISTEN", "")
	databaseURL := cmdutil.EnvString("NAVAJO_DATABASE_URL", "")
	queueRedisURL := cmdutil.EnvString("NAVAJO_QUEUE_REDIS_URL", "")
	queueTTL, err := cmdutil.EnvDuration("NAVAJO_QUEUE_TTL", store.DefaultQueueTTL)
	if err != nil {
		fmt.Fprintf(stderr, "invalid NAVAJO_QUEUE_TTL: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("navajo-relay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.IntVar(&webPort, "web-port", webPort, "HTTP bootstrap listen port (env: NAVAJO_WEB_PORT)")
	fs.IntVar(&tcpPort, "tcp-port", tcpPort, "TCP relay listen port (env: NAVAJO_TCP_PORT)")
	fs.StringVar(&tcpHost, "tcp-host", tcpHost, "TCP relay listen host (env: NAVAJO_TCP_HOST)")
	fs.StringVar(&metricsListen, "metrics-listen", metricsListen, "listen address for metrics server (empty disables) (env: NAVAJO_METRICS_LISTEN)")
	fs.StringVar(&databaseURL, "database-url", databaseURL, "Postgres connection string (empty uses an in-memory store) (env: NAVAJO_DATABASE_URL)")
	fs.StringVar(&queueRedisURL, "queue-redis-url", queueRedisURL, "Redis connection string for the offline queue (empty uses an in-memory store) (env: NAVAJO_QUEUE_REDIS_URL)")
	fs.DurationVar(&queueTTL, "queue-ttl", queueTTL, "offline queue retention (env: NAVAJO_QUEUE_TTL)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		fmt.Fprintln(stdout, fsversion.String(version, commit, date))
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var users store.UserStore
	if databaseURL != "" {
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			fmt.Fprintf(stderr, "connect postgres: %v\n", err)
			return 1
		}
		defer pool.Close()
		pgUsers := store.NewPostgresUserStore(pool)
		if err := pgUsers.EnsureSchema(ctx); err != nil {
			fmt.Fprintf(stderr, "ensure schema: %v\n", err)
			return 1
		}
		users = pgUsers
	} else {
		users = store.NewMemoryUserStore()
	}

	var queueStore store.QueueStore
	if queueRedisURL != "" {
		opts, err := redis.ParseURL(queueRedisURL)
		if err != nil {
			fmt.Fprintf(stderr, "invalid NAVAJO_QUEUE_REDIS_URL: %v\n", err)
			return 2
		}
		client := redis.NewClient(opts)
		defer client.Close()
		queueStore = store.NewRedisQueueStore(client, queueTTL)
	} else {
		queueStore = store.NewMemoryQueueStore(queueTTL)
	}

	observer := observability.NewAtomicRelayObserver()

	dcfg := dispatcher.DefaultConfig()
	dcfg.ListenAddr = net.JoinHostPort(tcpHost, strconv.Itoa(tcpPort))
	dcfg.QueueTTL = int64(queueTTL.Seconds())
	dcfg.Observer = observer

	d, err := dispatcher.New(dcfg, users, queueStore)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	httpSrv, err := httpapi.New(httpapi.Options{
		Users: users,
		OnError: func(err error) {
			logger.Printf("create_session error: %v", err)
		},
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	mux := http.NewServeMux()
	httpSrv.Register(mux)

	var metrics *metricsController
	var metricsSrv *http.Server
	var metricsLn net.Listener
	if metricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsHandler := newSwitchHandler()
		metricsMux.Handle("/metrics", metricsHandler)
		metrics = newMetricsController(metricsHandler, observer, d)
		metrics.Enable()

		metricsLn, err = net.Listen("tcp", metricsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		metricsSrv = newHTTPServer(metricsMux)
		go func() {
			if err := metricsSrv.Serve(metricsLn); err != nil && err != http.ErrServerClosed {
				logger.Fatal(err)
			}
		}()
	}

	webLn, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(webPort)))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	webSrv := newHTTPServer(mux)
	go func() {
		if err := webSrv.Serve(webLn); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err)
		}
	}()

	dispatchErr := make(chan error, 1)
	go func() { dispatchErr <- d.Run(ctx) }()

	out := ready{
		Version:    version,
		Commit:     commit,
		Date:       date,
		WebListen:  webLn.Addr().String(),
		TCPListen:  dcfg.ListenAddr,
		HealthzURL: "http://" + webLn.Addr().String() + "/healthz",
	}
	if metricsLn != nil {
		out.MetricsURL = "http://" + metricsLn.Addr().String() + "/metrics"
	}
	_ = json.NewEncoder(stdout).Encode(out)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for s := range sig {
			switch s {
			case syscall.SIGUSR1:
				if metrics == nil {
					logger.Printf("metrics server disabled (missing NAVAJO_METRICS_LISTEN)")
					continue
				}
				metrics.Enable()
				logger.Printf("metrics enabled")
			case syscall.SIGUSR2:
				if metrics == nil {
					continue
				}
				metrics.Disable()
				logger.Printf("metrics disabled")
			}
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = webSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	<-dispatchErr

	logger.Printf("%s shutting down", fsversion.String(version, commit, date))
	return 0
}
