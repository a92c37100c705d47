package handshake

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/relaymesh/navajo/crypto/dh"
	"github.com/relaymesh/navajo/crypto/keys"
	"github.com/relaymesh/navajo/fserrors"
)

// Result is the client-side outcome of a successful handshake: the session
// id issued by the relay and the shared secret both sides now hold.
type Result struct {
	Session   string
	SecretB64 string
}

// ClientCreateSession runs the client side of the handshake against
// createSessionURL (the relay's POST /device/create_session endpoint): it
// signs a fresh nonce with account's key, generates an ephemeral X25519
// key pair, and derives the session secret from the relay's response.
func ClientCreateSession(ctx context.Context, httpClient *http.Client, createSessionURL string, account *keys.Account, deviceID string) (*Result, error) {
	dhClient, err := dh.Generate()
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageECDH, fserrors.CodeInvalidDh, err)
	}

	content := uuid.NewString()
	sign, err := account.KeyPair.SignB64([]byte(content))
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageSign, fserrors.CodeEcdsaEncrypt, err)
	}

	req := DeviceInfoRequest{
		DeviceID:  deviceID,
		Content:   content,
		PublicKey: base64.StdEncoding.EncodeToString(account.KeyPair.PublicBytes()),
		Address:   account.Address,
		Sign:      sign,
		DhPub:     dhClient.PublicB64(),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageValidate, fserrors.CodeInvalidParam, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, createSessionURL, bytes.NewReader(body))
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageHTTP, fserrors.CodeHTTP, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageHTTP, fserrors.CodeHTTP, err)
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageHTTP, fserrors.CodeHTTP, err)
	}
	if env.Code != 0 {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageHTTP, fserrors.CodeHTTP, fmt.Errorf("create_session failed (%d): %s", env.Code, env.Message))
	}

	content2, err := json.Marshal(env.Content)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageValidate, fserrors.CodeInvalidParam, err)
	}
	var deviceResp DeviceInfoResponse
	if err := json.Unmarshal(content2, &deviceResp); err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageValidate, fserrors.CodeInvalidParam, err)
	}

	secretB64, err := dhClient.SharedSecretB64(deviceResp.DhPub)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathHandshake, fserrors.StageECDH, fserrors.CodeInvalidDh, err)
	}

	return &Result{Session: deviceResp.Session, SecretB64: secretB64}, nil
}
