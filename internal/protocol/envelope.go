// Package protocol defines the JSON envelopes exchanged on the live
// channel. Every envelope is an object with a "kind" discriminator.
//
// Client → server envelopes decode into one Go type per kind, all
// implementing the sealed Inbound interface; handlers switch on the
// concrete type. Server → client envelopes share one flat struct,
// ServerEnvelope, built only through the constructors in this file.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/models"
)

type Kind string

// Client → server.
const (
	KindAuth             Kind = "auth"
	KindRoomMessage      Kind = "room_message"
	KindBroadcastMessage Kind = "broadcast_message"
	KindDirectMessage    Kind = "direct_message"
	KindTyping           Kind = "typing"
	KindKeepalivePing    Kind = "keepalive_ping"
)

// Server → client. room_message, broadcast_message, direct_message and
// typing are reused in both directions.
const (
	KindAuthSuccess    Kind = "auth_success"
	KindAuthError      Kind = "auth_error"
	KindPeerOnline     Kind = "peer_online"
	KindPeerOffline    Kind = "peer_offline"
	KindKeepalivePong  Kind = "keepalive_pong"
	KindOperationError Kind = "operation_error"
)

var (
	// ErrUnknownKind is returned for a well-formed envelope whose kind the
	// server does not handle. The server ignores such envelopes.
	ErrUnknownKind = errors.New("unknown envelope kind")

	// ErrMalformed covers invalid JSON and payloads that do not fit their kind.
	ErrMalformed = errors.New("malformed envelope")
)

// Inbound is a decoded client → server envelope.
type Inbound interface {
	Kind() Kind
	inbound()
}

type Auth struct {
	Token string `json:"token"`
}

type RoomMessage struct {
	Content string `json:"content"`
}

type BroadcastMessage struct {
	Content string `json:"content"`
}

type DirectMessage struct {
	TargetIdentity uuid.UUID      `json:"targetIdentity"`
	Content        string         `json:"content"`
	Subtype        models.Subtype `json:"subtype,omitempty"`
}

type Typing struct {
	TargetIdentity uuid.UUID `json:"targetIdentity"`
	IsTyping       bool      `json:"isTyping"`
}

type KeepalivePing struct{}

func (Auth) Kind() Kind             { return KindAuth }
func (RoomMessage) Kind() Kind      { return KindRoomMessage }
func (BroadcastMessage) Kind() Kind { return KindBroadcastMessage }
func (DirectMessage) Kind() Kind    { return KindDirectMessage }
func (Typing) Kind() Kind           { return KindTyping }
func (KeepalivePing) Kind() Kind    { return KindKeepalivePing }

func (Auth) inbound()             {}
func (RoomMessage) inbound()      {}
func (BroadcastMessage) inbound() {}
func (DirectMessage) inbound()    {}
func (Typing) inbound()           {}
func (KeepalivePing) inbound()    {}

type header struct {
	Kind Kind `json:"kind"`
}

// DecodeInbound parses one client → server envelope.
func DecodeInbound(data []byte) (Inbound, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var in Inbound
	var err error
	switch h.Kind {
	case KindAuth:
		var v Auth
		err = json.Unmarshal(data, &v)
		in = v
	case KindRoomMessage:
		var v RoomMessage
		err = json.Unmarshal(data, &v)
		in = v
	case KindBroadcastMessage:
		var v BroadcastMessage
		err = json.Unmarshal(data, &v)
		in = v
	case KindDirectMessage:
		var v DirectMessage
		err = json.Unmarshal(data, &v)
		if err == nil && v.TargetIdentity == uuid.Nil {
			err = errors.New("missing targetIdentity")
		}
		in = v
	case KindTyping:
		var v Typing
		err = json.Unmarshal(data, &v)
		if err == nil && v.TargetIdentity == uuid.Nil {
			err = errors.New("missing targetIdentity")
		}
		in = v
	case KindKeepalivePing:
		in = KeepalivePing{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, h.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, h.Kind, err)
	}
	return in, nil
}

// EncodeInbound is the client-side counterpart of DecodeInbound.
func EncodeInbound(in Inbound) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(in.Kind())
	fields["kind"] = kind
	return json.Marshal(fields)
}

// SenderDisplay is what a client needs to render a message author.
type SenderDisplay struct {
	Nickname   string `json:"nickname"`
	Avatar     string `json:"avatar"`
	BranchID   string `json:"branchId,omitempty"`
	BranchName string `json:"branchName,omitempty"`
}

// MessagePayload is a persisted message as pushed on the live channel.
// Timestamp is Unix milliseconds.
type MessagePayload struct {
	ID               string         `json:"id"`
	SenderIdentity   uuid.UUID      `json:"senderIdentity"`
	SenderDisplay    SenderDisplay  `json:"senderDisplay"`
	ReceiverIdentity *uuid.UUID     `json:"receiverIdentity,omitempty"`
	Content          string         `json:"content"`
	Subtype          models.Subtype `json:"subtype,omitempty"`
	Timestamp        int64          `json:"timestamp"`
}

// NewMessagePayload converts a stored message for the wire.
func NewMessagePayload(m *models.Message) *MessagePayload {
	return &MessagePayload{
		ID:             m.ID,
		SenderIdentity: m.SenderID,
		SenderDisplay: SenderDisplay{
			Nickname:   m.SenderNickname,
			Avatar:     m.SenderAvatar,
			BranchID:   m.BranchID,
			BranchName: m.BranchName,
		},
		ReceiverIdentity: m.ReceiverID,
		Content:          m.Content,
		Subtype:          m.Subtype,
		Timestamp:        m.CreatedAt.UnixMilli(),
	}
}

// ServerEnvelope is every server → client envelope. Which fields are set
// depends on Kind; use the constructors below.
type ServerEnvelope struct {
	Kind         Kind            `json:"kind"`
	Identity     *uuid.UUID      `json:"identity,omitempty"`
	FromIdentity *uuid.UUID      `json:"fromIdentity,omitempty"`
	IsTyping     *bool           `json:"isTyping,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Message      *MessagePayload `json:"message,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
}

func AuthSuccess(id uuid.UUID) ServerEnvelope {
	return ServerEnvelope{Kind: KindAuthSuccess, Identity: &id}
}

func AuthError(reason string) ServerEnvelope {
	return ServerEnvelope{Kind: KindAuthError, Reason: reason}
}

func OperationError(reason string) ServerEnvelope {
	return ServerEnvelope{Kind: KindOperationError, Reason: reason}
}

func KeepalivePong() ServerEnvelope {
	return ServerEnvelope{Kind: KindKeepalivePong}
}

func PeerOnline(id uuid.UUID, at time.Time) ServerEnvelope {
	return ServerEnvelope{Kind: KindPeerOnline, Identity: &id, Timestamp: at.UnixMilli()}
}

func PeerOffline(id uuid.UUID, at time.Time) ServerEnvelope {
	return ServerEnvelope{Kind: KindPeerOffline, Identity: &id, Timestamp: at.UnixMilli()}
}

func TypingFrom(from uuid.UUID, isTyping bool) ServerEnvelope {
	return ServerEnvelope{Kind: KindTyping, FromIdentity: &from, IsTyping: &isTyping}
}

// Chat wraps a stored message in the envelope kind matching its scope.
func Chat(m *models.Message) ServerEnvelope {
	kind := KindRoomMessage
	switch m.Scope {
	case models.ScopeWorld:
		kind = KindBroadcastMessage
	case models.ScopeDirect:
		kind = KindDirectMessage
	}
	return ServerEnvelope{Kind: kind, Message: NewMessagePayload(m)}
}

// Encode marshals the envelope for the wire.
func (e ServerEnvelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeServer parses a server → client envelope.
func DecodeServer(data []byte) (ServerEnvelope, error) {
	var e ServerEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return ServerEnvelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Kind == "" {
		return ServerEnvelope{}, fmt.Errorf("%w: missing kind", ErrMalformed)
	}
	return e, nil
}
