// Command navajo-client runs one device's local control surface: it holds
// the device's keystore, negotiates relay sessions on request, and keeps a
// long-lived TCP connection to the relay open so ChatInfo messages can
// flow in both directions.
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
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	clienthttpapi "github.com/relaymesh/navajo/client/httpapi"
	"github.com/relaymesh/navajo/client/transport"
	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/internal/cmdutil"
	fsversion "github.com/relaymesh/navajo/internal/version"
	"github.com/relaymesh/navajo/observability"
	"github.com/relaymesh/navajo/observability/prom"
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
	observer *observability.AtomicClientObserver
}

func newMetricsController(handler *switchHandler, observer *observability.AtomicClientObserver) *metricsController {
	return &metricsController{handler: handler, observer: observer}
}

func (c *metricsController) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return
	}
	reg := prom.NewRegistry()
	c.handler.Set(prom.Handler(reg))
	c.observer.Set(prom.NewClientObserver(reg))
	c.enabled = true
}

func (c *metricsController) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.handler.Set(nil)
	c.observer.Set(observability.NoopClientObserver)
	c.enabled = false
}

type ready struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Date       string `json:"date"`
	HTTPListen string `json:"http_listen"`
	RelayTCP   string `json:"relay_tcp_addr"`
	HealthzURL string `json:"healthz_url"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "", log.LstdFlags)

	httpPort, err := cmdutil.EnvInt("NAVAJO_CLIENT_HTTP_PORT", 28200)
	if err != nil {
		fmt.Fprintf(stderr, "invalid NAVAJO_CLIENT_HTTP_PORT: %v\n", err)
		return 2
	}
	relayHTTPURL := cmdutil.EnvString("NAVAJO_RELAY_HTTP_URL", "http://127.0.0.1:28100")
	relayTCPAddr := cmdutil.EnvString("NAVAJO_RELAY_TCP_ADDR", "127.0.0.1:6000")
	clientName := cmdutil.EnvString("NAVAJO_CLIENT_NAME", "default")
	metricsListen := cmdutil.EnvString("NAVAJO_METRICS_LISTEN", "")
	sessionRedisURL := cmdutil.EnvString("NAVAJO_SESSION_REDIS_URL", "")

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultKeystorePath := filepath.Join(home, ".navajo", "keystore.json")
	keystorePath := cmdutil.EnvString("NAVAJO_KEYSTORE_PATH", defaultKeystorePath)

	fs := flag.NewFlagSet("navajo-client", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.IntVar(&httpPort, "http-port", httpPort, "local control HTTP listen port (env: NAVAJO_CLIENT_HTTP_PORT)")
	fs.StringVar(&relayHTTPURL, "relay-http-url", relayHTTPURL, "relay bootstrap HTTP base URL (env: NAVAJO_RELAY_HTTP_URL)")
	fs.StringVar(&relayTCPAddr, "relay-tcp-addr", relayTCPAddr, "relay TCP address (env: NAVAJO_RELAY_TCP_ADDR)")
	fs.StringVar(&clientName, "name", clientName, "device name, used as the session key and keystore identifier (env: NAVAJO_CLIENT_NAME)")
	fs.StringVar(&metricsListen, "metrics-listen", metricsListen, "listen address for metrics server (empty disables) (env: NAVAJO_METRICS_LISTEN)")
	fs.StringVar(&keystorePath, "keystore-path", keystorePath, "keystore file path (env: NAVAJO_KEYSTORE_PATH)")
	fs.StringVar(&sessionRedisURL, "session-redis-url", sessionRedisURL, "Redis connection string for the session cache (empty uses an in-memory store) (env: NAVAJO_SESSION_REDIS_URL)")
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

	keysStore, err := store.NewFileKeyStore(filepath.Dir(keystorePath))
	if err != nil {
		fmt.Fprintf(stderr, "open keystore: %v\n", err)
		return 1
	}

	var sessions store.SessionStore
	if sessionRedisURL != "" {
		opts, err := redis.ParseURL(sessionRedisURL)
		if err != nil {
			fmt.Fprintf(stderr, "invalid NAVAJO_SESSION_REDIS_URL: %v\n", err)
			return 2
		}
		client := redis.NewClient(opts)
		defer client.Close()
		sessions = store.NewRedisSessionStore(client, store.DefaultSessionTTL)
	} else {
		sessions = store.NewMemorySessionStore()
	}

	account, err := keysStore.Load(ctx, clientName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(stderr, "load device identity: %v\n", err)
			return 1
		}
		account, err = keys.New()
		if err != nil {
			fmt.Fprintf(stderr, "generate device identity: %v\n", err)
			return 1
		}
		if err := keysStore.Save(ctx, clientName, account); err != nil {
			fmt.Fprintf(stderr, "save device identity: %v\n", err)
			return 1
		}
	}

	observer := observability.NewAtomicClientObserver()

	tcfg := transport.DefaultConfig()
	tcfg.RelayAddr = relayTCPAddr
	tcfg.SessionKey = clientName
	tcfg.DeviceID = clientName
	tcfg.Account = account
	tcfg.Sessions = sessions
	tcfg.Observer = observer

	tr, err := transport.New(tcfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	transportErr := make(chan error, 1)
	go func() { transportErr <- tr.Run(ctx) }()

	httpSrv, err := clienthttpapi.New(clienthttpapi.Options{
		DeviceID:     clientName,
		SessionKey:   clientName,
		RelayHTTPURL: relayHTTPURL,
		Keys:         keysStore,
		Sessions:     sessions,
		Transport:    tr,
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
		metrics = newMetricsController(metricsHandler, observer)
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

	webLn, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(httpPort)))
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

	out := ready{
		Version:    version,
		Commit:     commit,
		Date:       date,
		HTTPListen: webLn.Addr().String(),
		RelayTCP:   relayTCPAddr,
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
	<-transportErr

	logger.Printf("%s shutting down", fsversion.String(version, commit, date))
	return 0
}
