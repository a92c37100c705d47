// Package httpapi exposes the client's local control surface: the small
// HTTP API a CLI or UI drives to register/recover a device identity, run
// the relay handshake, and send a one-off test chat message. It never
// leaves loopback in the default configuration.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/relaymesh/navajo/client/transport"
	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/fserrors"
	"github.com/relaymesh/navajo/handshake"
	"github.com/relaymesh/navajo/p2p/message"
	"github.com/relaymesh/navajo/store"
)

// chatInfoType matches the original protocol's plain chat-message info_type.
const chatInfoType = 1

// Options configures a Server.
type Options struct {
	DeviceID     string
	SessionKey   string
	RelayHTTPURL string // base URL, e.g. "http://127.0.0.1:28100"

	Keys      store.KeyStore
	Sessions  store.SessionStore
	Transport *transport.Transport

	HTTPClient *http.Client
}

// Server is the client's local control HTTP surface.
type Server struct {
	deviceID   string
	sessionKey string
	relayURL   string

	keys      store.KeyStore
	sessions  store.SessionStore
	transport *transport.Transport

	httpClient *http.Client

	mu      sync.Mutex
	account *keys.Account
}

// New validates opts and constructs a Server.
func New(opts Options) (*Server, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("httpapi: missing DeviceID")
	}
	if opts.SessionKey == "" {
		return nil, errors.New("httpapi: missing SessionKey")
	}
	if opts.RelayHTTPURL == "" {
		return nil, errors.New("httpapi: missing RelayHTTPURL")
	}
	if opts.Keys == nil {
		return nil, errors.New("httpapi: missing Keys store")
	}
	if opts.Sessions == nil {
		return nil, errors.New("httpapi: missing Sessions store")
	}
	if opts.Transport == nil {
		return nil, errors.New("httpapi: missing Transport")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Server{
		deviceID:   opts.DeviceID,
		sessionKey: opts.SessionKey,
		relayURL:   opts.RelayHTTPURL,
		keys:       opts.Keys,
		sessions:   opts.Sessions,
		transport:  opts.Transport,
		httpClient: httpClient,
	}, nil
}

// Register installs the device control endpoints and a health check on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/device/register", s.handleRegister)
	mux.HandleFunc("/device/login", s.handleLogin)
	mux.HandleFunc("/device/logout", s.handleLogout)
	mux.HandleFunc("/device/create_session", s.handleCreateSession)
	mux.HandleFunc("/device/testchat", s.handleTestchat)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// currentAccount loads the cached account, falling back to the KeyStore,
// without generating one.
func (s *Server) currentAccount(ctx context.Context) (*keys.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account != nil {
		return s.account, nil
	}
	account, err := s.keys.Load(ctx, s.deviceID)
	if err != nil {
		return nil, err
	}
	s.account = account
	return account, nil
}

func (s *Server) setAccount(account *keys.Account) {
	s.mu.Lock()
	s.account = account
	s.mu.Unlock()
}

// handleRegister returns the device's existing identity, generating and
// persisting a fresh one on first use.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := s.currentAccount(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, fserrors.Wrap(fserrors.PathControl, fserrors.StageStore, fserrors.CodeDb, err))
			return
		}
		account, err = keys.New()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fserrors.Wrap(fserrors.PathControl, fserrors.StageCrypto, fserrors.CodeInvalidKeyPair, err))
			return
		}
		if err := s.keys.Save(ctx, s.deviceID, account); err != nil {
			writeError(w, http.StatusInternalServerError, fserrors.Wrap(fserrors.PathControl, fserrors.StageStore, fserrors.CodeDb, err))
			return
		}
		s.setAccount(account)
	}
	writeJSON(w, http.StatusOK, account)
}

// handleLogin recovers a device identity from a raw base64-encoded
// secp256k1 private scalar posted as the request body, persists it, and
// makes it the device's active account.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fserrors.Wrap(fserrors.PathControl, fserrors.StageValidate, fserrors.CodeInvalidParam, errors.New("method not allowed")))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fserrors.Wrap(fserrors.PathControl, fserrors.StageValidate, fserrors.CodeInvalidParam, err))
		return
	}
	privBytes, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, fserrors.Wrap(fserrors.PathControl, fserrors.StageValidate, fserrors.CodeLogin, err))
		return
	}
	account, err := keys.Recover(privBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, fserrors.Wrap(fserrors.PathControl, fserrors.StageCrypto, fserrors.CodeLogin, err))
		return
	}
	if err := s.keys.Save(r.Context(), s.deviceID, account); err != nil {
		writeError(w, http.StatusInternalServerError, fserrors.Wrap(fserrors.PathControl, fserrors.StageStore, fserrors.CodeDb, err))
		return
	}
	s.setAccount(account)
	writeJSON(w, http.StatusOK, account)
}

// handleLogout deletes the device's identity from the KeyStore and forgets
// the in-memory cached account; a later register generates a fresh one.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.keys.Remove(r.Context(), s.deviceID); err != nil {
		writeError(w, http.StatusInternalServerError, fserrors.Wrap(fserrors.PathControl, fserrors.StageStore, fserrors.CodeDb, err))
		return
	}
	s.setAccount(nil)
	w.WriteHeader(http.StatusOK)
}

type createSessionResponse struct {
	Session   string `json:"session"`
	SecretB64 string `json:"secret"`
}

// handleCreateSession runs the relay handshake for the active account and
// caches the resulting session/secret for transport to pick up.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := s.currentAccount(ctx)
	if err != nil {
		writeError(w, http.StatusBadRequest, fserrors.Wrap(fserrors.PathControl, fserrors.StageValidate, fserrors.CodeInvalidDeviceID, err))
		return
	}

	result, err := handshake.ClientCreateSession(ctx, s.httpClient, s.relayURL+"/device/create_session", account, s.deviceID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if err := s.sessions.SetSession(ctx, s.sessionKey, result.Session); err != nil {
		writeError(w, http.StatusInternalServerError, fserrors.Wrap(fserrors.PathControl, fserrors.StageStore, fserrors.CodeDb, err))
		return
	}
	if err := s.sessions.SetSecret(ctx, s.sessionKey, result.SecretB64); err != nil {
		writeError(w, http.StatusInternalServerError, fserrors.Wrap(fserrors.PathControl, fserrors.StageStore, fserrors.CodeDb, err))
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{Session: result.Session, SecretB64: result.SecretB64})
}

// handleTestchat sends a one-off "Hello" ChatInfo message to the address
// given in the ?to= query parameter, over the already-running transport.
func (s *Server) handleTestchat(w http.ResponseWriter, r *http.Request) {
	to := r.URL.Query().Get("to")
	if to == "" {
		writeError(w, http.StatusBadRequest, fserrors.Wrap(fserrors.PathControl, fserrors.StageValidate, fserrors.CodeInvalidParam, errors.New("missing to parameter")))
		return
	}
	ctx := r.Context()
	account, err := s.currentAccount(ctx)
	if err != nil {
		writeError(w, http.StatusBadRequest, fserrors.Wrap(fserrors.PathControl, fserrors.StageValidate, fserrors.CodeInvalidDeviceID, err))
		return
	}
	chat := &message.ChatInfo{
		CommonInfo: message.NewCommonInfo(),
		FromAddr:   account.Address,
		ToAddr:     to,
		InfoType:   chatInfoType,
		Content:    "Hello",
	}
	if err := s.transport.Send(ctx, chat); err != nil {
		writeError(w, http.StatusInternalServerError, fserrors.Wrap(fserrors.PathControl, fserrors.StageConnect, fserrors.CodeInvalidSession, err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Hello world!"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	code := fserrors.Numeric(fserrors.CodeHTTP)
	var fe *fserrors.Error
	if errors.As(err, &fe) {
		code = fserrors.Numeric(fe.Code)
	}
	writeJSON(w, status, handshake.Envelope{Code: code, Message: err.Error()})
}
