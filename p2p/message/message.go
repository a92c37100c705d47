// Package message defines the P2P wire message types: the outer
// typed envelope (P2PMessage) and the Message sum type it carries
// (Ping, ChatInfo).
package message

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MessageType tags the outer P2PMessage payload.
type MessageType uint8

const (
	// MessageTypePing identifies a Ping payload.
	MessageTypePing MessageType = 0
	// MessageTypeChatInfo identifies a ChatInfo payload.
	MessageTypeChatInfo MessageType = 1
)

// P2PMessage is the wire envelope payload: a typed tag plus the JSON of the
// corresponding Message variant.
type P2PMessage struct {
	MessageType MessageType `json:"message_type"`
	Data        string      `json:"data"`
}

// Encode serializes msg into its P2PMessage envelope.
func Encode(msg Message) (P2PMessage, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return P2PMessage{}, err
	}
	var mt MessageType
	switch msg.(type) {
	case *Ping:
		mt = MessageTypePing
	case *ChatInfo:
		mt = MessageTypeChatInfo
	default:
		return P2PMessage{}, errors.New("message: unknown Message implementation")
	}
	return P2PMessage{MessageType: mt, Data: string(data)}, nil
}

// Decode parses a P2PMessage's Data field back into its concrete Message.
func Decode(p P2PMessage) (Message, error) {
	switch p.MessageType {
	case MessageTypePing:
		var m Ping
		if err := json.Unmarshal([]byte(p.Data), &m); err != nil {
			return nil, err
		}
		return &m, nil
	case MessageTypeChatInfo:
		var m ChatInfo
		if err := json.Unmarshal([]byte(p.Data), &m); err != nil {
			return nil, err
		}
		return &m, nil
	default:
		return nil, errors.New("message: unknown message_type")
	}
}

// Message is the sum type of P2P control/data messages.
type Message interface {
	isMessage()
}

// CommonInfo carries request bookkeeping shared by data-bearing messages.
type CommonInfo struct {
	TimeMs     uint64 `json:"time_ms"`
	RequestID  string `json:"request_id"`
	ResponseID string `json:"response_id"`
}

// NewCommonInfo stamps the current time and a fresh request id, matching the
// original protocol's CommonInfo::default().
func NewCommonInfo() CommonInfo {
	return CommonInfo{
		TimeMs:    uint64(time.Now().UnixMilli()),
		RequestID: uuid.NewString(),
	}
}

// Ping is both the transport heartbeat and the relay's (address -> peer)
// registration signal.
type Ping struct {
	Address  string `json:"address"`
	DeviceID string `json:"device_id"`
}

func (*Ping) isMessage() {}

// ChatInfo carries a chat payload from one address to another.
type ChatInfo struct {
	CommonInfo CommonInfo `json:"common_info"`
	FromAddr   string     `json:"from_address"`
	ToAddr     string     `json:"to_address"`
	InfoType   uint8      `json:"info_type"`
	Content    string     `json:"content"`
}

func (*ChatInfo) isMessage() {}

// The MarshalJSON and UnmarshalJSON methods below implement the tagged-enum wire shape
// {"PingMessage": {...}} / {"ChatInfoMessage": {...}} produced by the
// original protocol's serde derive, so bytes round-trip against it.

// MarshalJSON implements the externally-tagged enum encoding for Ping.
func (p *Ping) MarshalJSON() ([]byte, error) {
	type alias Ping
	return json.Marshal(map[string]any{"PingMessage": (*alias)(p)})
}

// UnmarshalJSON implements the externally-tagged enum decoding for Ping.
func (p *Ping) UnmarshalJSON(data []byte) error {
	type alias Ping
	var wrapper struct {
		PingMessage alias `json:"PingMessage"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	*p = Ping(wrapper.PingMessage)
	return nil
}

// MarshalJSON implements the externally-tagged enum encoding for ChatInfo.
func (c *ChatInfo) MarshalJSON() ([]byte, error) {
	type alias ChatInfo
	return json.Marshal(map[string]any{"ChatInfoMessage": (*alias)(c)})
}

// UnmarshalJSON implements the externally-tagged enum decoding for ChatInfo.
func (c *ChatInfo) UnmarshalJSON(data []byte) error {
	type alias ChatInfo
	var wrapper struct {
		ChatInfoMessage alias `json:"ChatInfoMessage"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	*c = ChatInfo(wrapper.ChatInfoMessage)
	return nil
}
