package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the slice of the game's user row the messaging core reads:
// who the person is, which branch they belong to, and how to display them.
// Users are created by the game's account service, never by this module.
type User struct {
	ID         uuid.UUID `json:"id"`
	BranchID   string    `json:"branch_id"`
	BranchName string    `json:"branch_name"`
	Nickname   string    `json:"nickname"`
	Avatar     string    `json:"avatar"`
}

// Scope says which of the three message tables a message lives in.
type Scope string

const (
	ScopeBranch Scope = "branch"
	ScopeWorld  Scope = "world"
	ScopeDirect Scope = "direct"
)

// Subtype is the content kind of a direct message.
type Subtype string

const (
	SubtypeText  Subtype = "text"
	SubtypeEmoji Subtype = "emoji"
	SubtypeImage Subtype = "image"
)

// Valid reports whether s is one of the known subtypes.
func (s Subtype) Valid() bool {
	switch s {
	case SubtypeText, SubtypeEmoji, SubtypeImage:
		return true
	}
	return false
}

// Message is one persisted chat message of any scope.
//
// IDs are ULIDs: sortable by creation time, generated in the process so the
// id is known before the insert returns.
//
// Only the fields that belong to Scope are set: BranchID for branch
// messages, ReceiverID for direct messages. World messages carry the
// sender's branch for display ("Nickname @ Branch").
type Message struct {
	ID             string     `json:"id"`
	Scope          Scope      `json:"scope"`
	BranchID       string     `json:"branch_id,omitempty"`
	BranchName     string     `json:"branch_name,omitempty"`
	SenderID       uuid.UUID  `json:"sender_id"`
	SenderNickname string     `json:"sender_nickname"`
	SenderAvatar   string     `json:"sender_avatar"`
	ReceiverID     *uuid.UUID `json:"receiver_id,omitempty"`
	Content        string     `json:"content"`
	Subtype        Subtype    `json:"subtype,omitempty"`
	Read           bool       `json:"read,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Conversation is one row of the per-owner direct-message ledger. Every
// exchange between two users has two rows, one per direction.
type Conversation struct {
	OwnerID         uuid.UUID `json:"owner_id"`
	PeerID          uuid.UUID `json:"peer_id"`
	PeerNickname    string    `json:"peer_nickname"`
	PeerAvatar      string    `json:"peer_avatar"`
	LastMessage     string    `json:"last_message"`
	LastMessageType Subtype   `json:"last_message_type"`
	LastMessageAt   time.Time `json:"last_message_at"`
	UnreadCount     int       `json:"unread_count"`
}

// Presence is the persisted online flag of one user.
//
// ConnectionID is the live connection that last marked the user online.
// An offline write only applies while it still matches, so a stale close
// cannot mark a freshly reconnected user offline.
type Presence struct {
	UserID       uuid.UUID  `json:"user_id"`
	Online       bool       `json:"online"`
	LastSeen     time.Time  `json:"last_seen"`
	ConnectionID *uuid.UUID `json:"-"`
}
