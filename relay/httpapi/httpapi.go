// Package httpapi exposes the relay's HTTP bootstrap surface: the single
// POST /device/create_session endpoint a client calls before opening its
// long-lived TCP connection, plus a health check.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaymesh/navajo/fserrors"
	"github.com/relaymesh/navajo/handshake"
	"github.com/relaymesh/navajo/store"
)

// Options configures a Server.
type Options struct {
	Users store.UserStore

	// OnError is called on every failed request, after the response has
	// already been written. It must not panic.
	OnError func(err error)
}

// Server is the relay's HTTP bootstrap surface.
type Server struct {
	users store.UserStore
	onErr func(error)
}

// New validates opts and constructs a Server.
func New(opts Options) (*Server, error) {
	if opts.Users == nil {
		return nil, errors.New("httpapi: missing Users store")
	}
	onErr := opts.OnError
	if onErr == nil {
		onErr = func(error) {}
	}
	return &Server{users: opts.Users, onErr: onErr}, nil
}

// Register installs the create_session and health endpoints on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/device/create_session", s.handleCreateSession)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, http.StatusMethodNotAllowed, fserrors.Numeric(fserrors.CodeInvalidParam), "method not allowed", nil)
		s.onErr(fserrors.Wrap(fserrors.PathHandshake, fserrors.StageValidate, fserrors.CodeInvalidParam, errors.New("method not allowed")))
		return
	}

	var req handshake.DeviceInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, fserrors.Numeric(fserrors.CodeInvalidParam), "malformed request body", nil)
		s.onErr(fserrors.Wrap(fserrors.PathHandshake, fserrors.StageValidate, fserrors.CodeInvalidParam, err))
		return
	}

	resp, err := handshake.RelayHandleCreateSession(r.Context(), req, s.users)
	if err != nil {
		var fe *fserrors.Error
		code := fserrors.Numeric(fserrors.CodeHTTP)
		if errors.As(err, &fe) {
			code = fserrors.Numeric(fe.Code)
		}
		writeEnvelope(w, http.StatusBadRequest, code, err.Error(), nil)
		s.onErr(err)
		return
	}

	writeEnvelope(w, http.StatusOK, 0, "", resp)
}

func writeEnvelope(w http.ResponseWriter, status, code int, message string, content any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(handshake.Envelope{Code: code, Message: message, Content: content})
}
