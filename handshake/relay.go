package handshake

import (
	"context"
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/relaymesh/navajo/crypto/dh"
	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/fserrors"
	"github.com/relaymesh/navajo/store"
)

// RelayHandleCreateSession runs the relay side of the handshake: verifies
// the client's signature over its nonce, derives the shared secret from the
// client's X25519 public key, issues a fresh session id, and upserts the
// relay's directory entry for this address. A signature failure returns
// error code 108 and never touches the UserStore.
func RelayHandleCreateSession(ctx context.Context, req DeviceInfoRequest, users store.UserStore) (*DeviceInfoResponse, error) {
	if !verifyContent(req) {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageVerify, fserrors.CodeVerifySign, errVerifySign)
	}

	dhServer, err := dh.Generate()
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageECDH, fserrors.CodeInvalidDh, err)
	}
	secretB64, err := dhServer.SharedSecretB64(req.DhPub)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageECDH, fserrors.CodeInvalidDh, err)
	}

	sessionID := uuid.NewString()

	if err := users.InsertOrUpdate(ctx, store.UserRecord{
		Address:  req.Address,
		DeviceID: req.DeviceID,
		Session:  sessionID,
		Secret:   secretB64,
	}); err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageStore, fserrors.CodeDb, err)
	}

	return &DeviceInfoResponse{Session: sessionID, DhPub: dhServer.PublicB64()}, nil
}

func verifyContent(req DeviceInfoRequest) bool {
	pubBytes, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		return false
	}
	pub, err := keys.PublicKeyFromBytes(pubBytes)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(req.Sign)
	if err != nil {
		return false
	}
	return keys.Verify(pub, []byte(req.Content), sig)
}

type verifySignError struct{}

func (verifySignError) Error() string { return "verify sign error" }

var errVerifySign = verifySignError{}
