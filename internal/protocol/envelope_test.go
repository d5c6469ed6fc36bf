package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/models"
)

func TestDecodeInbound(t *testing.T) {
	target := uuid.New()

	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{"auth", `{"kind":"auth","token":"abc"}`, Auth{Token: "abc"}},
		{"room", `{"kind":"room_message","content":"hi"}`, RoomMessage{Content: "hi"}},
		{"broadcast", `{"kind":"broadcast_message","content":"hello all"}`, BroadcastMessage{Content: "hello all"}},
		{"direct", `{"kind":"direct_message","targetIdentity":"` + target.String() + `","content":"yo","subtype":"emoji"}`,
			DirectMessage{TargetIdentity: target, Content: "yo", Subtype: models.SubtypeEmoji}},
		{"typing", `{"kind":"typing","targetIdentity":"` + target.String() + `","isTyping":true}`,
			Typing{TargetIdentity: target, IsTyping: true}},
		{"ping", `{"kind":"keepalive_ping"}`, KeepalivePing{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeInbound: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeInboundErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"unknown kind", `{"kind":"dance","content":"x"}`, ErrUnknownKind},
		{"missing kind", `{"content":"x"}`, ErrUnknownKind},
		{"not json", `hello`, ErrMalformed},
		{"bad target", `{"kind":"direct_message","targetIdentity":"bob","content":"x"}`, ErrMalformed},
		{"no target", `{"kind":"typing","isTyping":true}`, ErrMalformed},
		{"wrong field type", `{"kind":"room_message","content":42}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEncodeInboundCarriesKind(t *testing.T) {
	target := uuid.New()
	data, err := EncodeInbound(Typing{TargetIdentity: target, IsTyping: false})
	if err != nil {
		t.Fatalf("EncodeInbound: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["kind"] != "typing" {
		t.Errorf("expected kind typing, got %v", fields["kind"])
	}
	if v, ok := fields["isTyping"]; !ok || v != false {
		t.Errorf("expected isTyping=false to be present, got %v", fields)
	}

	back, err := DecodeInbound(data)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if back != (Typing{TargetIdentity: target}) {
		t.Errorf("unexpected decode: %#v", back)
	}
}

func TestServerEnvelopeWireShape(t *testing.T) {
	peer := uuid.New()
	at := time.UnixMilli(1_700_000_000_123)

	t.Run("peer_online", func(t *testing.T) {
		data, err := PeerOnline(peer, at).Encode()
		if err != nil {
			t.Fatal(err)
		}
		want := `{"kind":"peer_online","identity":"` + peer.String() + `","timestamp":1700000000123}`
		if string(data) != want {
			t.Errorf("got %s\nwant %s", data, want)
		}
	})

	t.Run("typing false is explicit", func(t *testing.T) {
		data, _ := TypingFrom(peer, false).Encode()
		want := `{"kind":"typing","fromIdentity":"` + peer.String() + `","isTyping":false}`
		if string(data) != want {
			t.Errorf("got %s\nwant %s", data, want)
		}
	})

	t.Run("pong has only kind", func(t *testing.T) {
		data, _ := KeepalivePong().Encode()
		if string(data) != `{"kind":"keepalive_pong"}` {
			t.Errorf("got %s", data)
		}
	})
}

func TestChatKindFollowsScope(t *testing.T) {
	receiver := uuid.New()
	msg := &models.Message{
		ID:             "01HZX",
		SenderID:       uuid.New(),
		SenderNickname: "Lin",
		Content:        "hi",
		CreatedAt:      time.UnixMilli(42),
	}

	for scope, kind := range map[models.Scope]Kind{
		models.ScopeBranch: KindRoomMessage,
		models.ScopeWorld:  KindBroadcastMessage,
		models.ScopeDirect: KindDirectMessage,
	} {
		msg.Scope = scope
		if scope == models.ScopeDirect {
			msg.ReceiverID = &receiver
		}
		env := Chat(msg)
		if env.Kind != kind {
			t.Errorf("scope %s: expected %s, got %s", scope, kind, env.Kind)
		}
		if env.Message.Timestamp != 42 || env.Message.SenderDisplay.Nickname != "Lin" {
			t.Errorf("scope %s: payload not copied: %+v", scope, env.Message)
		}
	}

	back, err := DecodeServer(mustEncode(t, Chat(msg)))
	if err != nil {
		t.Fatalf("DecodeServer: %v", err)
	}
	if back.Message == nil || back.Message.ReceiverIdentity == nil || *back.Message.ReceiverIdentity != receiver {
		t.Errorf("receiver lost on the wire: %+v", back.Message)
	}
}

func mustEncode(t *testing.T, e ServerEnvelope) []byte {
	t.Helper()
	data, err := e.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return data
}
