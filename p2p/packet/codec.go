package packet

import (
	"encoding/base64"
	"encoding/json"

	"github.com/relaymesh/navajo/crypto/aesgcm"
	"github.com/relaymesh/navajo/p2p/message"
)

// EncodeJSON is the writer chain's first stage (MessageWriter in the
// original protocol): JSON-encode the envelope, then base64 it.
func EncodeJSON(msg message.P2PMessage) (string, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeEnvelope is the writer chain's second stage (CryptoWriter): decode
// msgB64 back to the plaintext bytes it carries, AES-GCM-seal them under
// secretB64, wrap the ciphertext as PacketContent{data, session}, and base64
// the resulting JSON.
func EncodeEnvelope(msgB64, sessionID, secretB64 string) (string, error) {
	plain, err := base64.StdEncoding.DecodeString(msgB64)
	if err != nil {
		return "", err
	}
	ciphertext, err := aesgcm.Seal(secretB64, plain, aesgcm.FixedZeroNonce)
	if err != nil {
		return "", err
	}
	pc := PacketContent{
		Data:    base64.StdEncoding.EncodeToString(ciphertext),
		Session: sessionID,
	}
	pcJSON, err := json.Marshal(pc)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pcJSON), nil
}

// Delimit is the writer chain's final stage (BasicWriter): wrap the base64
// envelope in the `<...>` frame delimiters.
func Delimit(envelopeB64 string) []byte {
	out := make([]byte, 0, len(envelopeB64)+2)
	out = append(out, headByte)
	out = append(out, envelopeB64...)
	out = append(out, tailByte)
	return out
}

// EncodeFrame runs the full writer chain, producing the bytes to write
// directly to the socket for msg under the given session and shared secret.
func EncodeFrame(msg message.P2PMessage, sessionID, secretB64 string) ([]byte, error) {
	msgB64, err := EncodeJSON(msg)
	if err != nil {
		return nil, err
	}
	envelopeB64, err := EncodeEnvelope(msgB64, sessionID, secretB64)
	if err != nil {
		return nil, err
	}
	return Delimit(envelopeB64), nil
}

// DecryptPacketContent is the reader chain's CryptoReader stage: base64-
// decode pc.Data, AES-GCM-open it under secretB64, and parse the resulting
// bytes as a P2PMessage. Callers must treat any error here as "drop this
// frame" rather than a reason to tear down the connection — a peer that sent
// garbage, or one keyed to a stale session, should not take the socket down.
func DecryptPacketContent(pc PacketContent, secretB64 string) (message.P2PMessage, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(pc.Data)
	if err != nil {
		return message.P2PMessage{}, err
	}
	plain, err := aesgcm.Open(secretB64, ciphertext, aesgcm.FixedZeroNonce)
	if err != nil {
		return message.P2PMessage{}, err
	}
	var msg message.P2PMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		return message.P2PMessage{}, err
	}
	return msg, nil
}
