package fserrors

import "fmt"

// Path identifies which top-level flow produced the error.
type Path string

const (
	PathHandshake Path = "handshake"
	PathTransport Path = "transport"
	PathRelay     Path = "relay"
	PathStore     Path = "store"
	PathControl   Path = "control"
)

// Stage identifies which step of a Path's flow failed.
type Stage string

const (
	StageValidate Stage = "validate"
	StageSign     Stage = "sign"
	StageVerify   Stage = "verify"
	StageECDH     Stage = "ecdh"
	StageCrypto   Stage = "crypto"
	StageConnect  Stage = "connect"
	StageFrame    Stage = "frame"
	StageStore    Stage = "store"
	StageHTTP     Stage = "http"
	StageClose    Stage = "close"
)

// Code is a stable, programmatic error identifier, mirroring the numeric
// taxonomy clients and logs key off of.
type Code string

const (
	CodeInvalidParam    Code = "invalid_param"
	CodeEcdsaEncrypt    Code = "ecdsa_encrypt"
	CodeVerifySign      Code = "verify_sign"
	CodeVerifyHash      Code = "verify_hash"
	CodeInvalidDh       Code = "invalid_dh"
	CodeInvalidKeyPair  Code = "invalid_key_pair"
	CodeInvalidDeviceID Code = "invalid_device_id"
	CodeInvalidSession  Code = "invalid_session"
	CodeDb              Code = "db"
	CodeHTTP            Code = "http"
	CodeMacAddr         Code = "mac_addr"
	CodeLogin           Code = "login"
)

// numeric is the stable numeric code table used in HTTP bodies and logs.
var numeric = map[Code]int{
	CodeInvalidParam:    101,
	CodeEcdsaEncrypt:    104,
	CodeVerifySign:      108,
	CodeVerifyHash:      109,
	CodeInvalidDh:       110,
	CodeInvalidKeyPair:  301,
	CodeInvalidDeviceID: 401,
	CodeInvalidSession:  402,
	CodeDb:              500,
	CodeHTTP:            600,
	CodeMacAddr:         700,
	CodeLogin:           701,
}

// Numeric returns the stable numeric identifier for code, or 0 if unknown.
func Numeric(code Code) int {
	return numeric[code]
}

// Error is a structured, programmatically identifiable error for user-facing operations.
type Error struct {
	Path  Path
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s/%d): %v", e.Path, e.Stage, e.Code, Numeric(e.Code), e.Err)
	}
	return fmt.Sprintf("%s %s (%s/%d)", e.Path, e.Stage, e.Code, Numeric(e.Code))
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured Error tagging a path/stage/code onto the underlying err.
func Wrap(path Path, stage Stage, code Code, err error) error {
	return &Error{Path: path, Stage: stage, Code: code, Err: err}
}
