package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/models"
)

// Every method takes ctx first: each one does network I/O, and the
// websocket handler passes a per-envelope context down so a dying
// connection cancels its in-flight queries.
//
// Not-found lookups return nil, nil. Domain refusals are sentinel errors,
// checked by callers with errors.Is.

// ErrInsufficientItems means the user does not hold enough of a consumable
// item (e.g. broadcast horns) for the operation.
var ErrInsufficientItems = errors.New("insufficient items")

// ErrUnknownUser means a message names a sender or receiver that has no
// users row.
var ErrUnknownUser = errors.New("unknown user")

// BroadcastItem is the inventory item consumed by one world message.
const BroadcastItem = "broadcast"

// MessageRepository persists the three message scopes.
type MessageRepository interface {
	// AppendRoom stores a branch message. Sender display fields are read
	// from the users table in the same statement.
	AppendRoom(ctx context.Context, senderID uuid.UUID, branchID, content string) (*models.Message, error)

	// AppendWorld consumes one BroadcastItem from the sender and stores a
	// world message, atomically. Returns ErrInsufficientItems (and stores
	// nothing) when the sender has none left.
	AppendWorld(ctx context.Context, senderID uuid.UUID, content string) (*models.Message, error)

	// AppendDirect stores a direct message and updates both conversation
	// rows in one transaction: the sender's row gets the preview, the
	// receiver's row gets the preview and unread+1.
	AppendDirect(ctx context.Context, senderID, receiverID uuid.UUID, content string, subtype models.Subtype) (*models.Message, error)

	// History, newest first. before is a message id cursor ("" = latest).
	ListBranch(ctx context.Context, branchID, before string, limit int) ([]models.Message, error)
	ListWorld(ctx context.Context, before string, limit int) ([]models.Message, error)
	ListDirect(ctx context.Context, userID, peerID uuid.UUID, before string, limit int) ([]models.Message, error)
}

// ConversationRepository reads and acknowledges the direct-message ledger.
type ConversationRepository interface {
	// List returns the owner's conversations, most recent first.
	List(ctx context.Context, ownerID uuid.UUID) ([]models.Conversation, error)

	// MarkRead resets the owner's unread counter for peer to zero and flags
	// the peer's messages to the owner as read.
	MarkRead(ctx context.Context, ownerID, peerID uuid.UUID) error

	// Unread returns the owner's unread total and the non-zero per-peer counts.
	Unread(ctx context.Context, ownerID uuid.UUID) (int, map[uuid.UUID]int, error)

	// Delete drops the owner's row for peer. The peer's row is untouched.
	Delete(ctx context.Context, ownerID, peerID uuid.UUID) error
}

// PresenceRepository persists the online flag per user.
type PresenceRepository interface {
	// SetOnline marks the user online, stamps last_seen = now and records
	// the connection that did it.
	SetOnline(ctx context.Context, userID, connID uuid.UUID) error

	// SetOffline marks the user offline with last_seen = now, but only if
	// connID is still the recorded connection. Reports whether it applied.
	SetOffline(ctx context.Context, userID, connID uuid.UUID) (bool, error)

	// GetMany returns presence for the given users. Users never seen are
	// absent from the map.
	GetMany(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.Presence, error)
}

// UserRepository handles user data.
type UserRepository interface {
	// GetByID returns a user by their ID.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// RateLimiter counts chat sends per user over a fixed window.
type RateLimiter interface {
	// Allow records one send and reports whether the user is still within
	// the limit.
	Allow(ctx context.Context, userID uuid.UUID) (bool, error)
}
