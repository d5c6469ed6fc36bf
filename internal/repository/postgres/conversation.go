package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/stationchat/internal/models"
)

// ConversationStore reads the ledger rows written by MessageStore.AppendDirect
// and applies read-acknowledgements.
type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

func (s *ConversationStore) List(ctx context.Context, ownerID uuid.UUID) ([]models.Conversation, error) {
	query := `
		SELECT owner_id, peer_id, peer_nickname, peer_avatar, last_message, last_message_type, last_message_at, unread_count
		FROM conversations
		WHERE owner_id = $1
		ORDER BY last_message_at DESC`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(
			&c.OwnerID,
			&c.PeerID,
			&c.PeerNickname,
			&c.PeerAvatar,
			&c.LastMessage,
			&c.LastMessageType,
			&c.LastMessageAt,
			&c.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return conversations, nil
}

// MarkRead zeroes the counter and flags the messages in one transaction;
// a half-applied acknowledgement would leave the badge and the message
// list disagreeing.
func (s *ConversationStore) MarkRead(ctx context.Context, ownerID, peerID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mark read: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE conversations SET unread_count = 0
		WHERE owner_id = $1 AND peer_id = $2`,
		ownerID, peerID)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE private_messages SET is_read = true
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read`,
		ownerID, peerID)
	if err != nil {
		return fmt.Errorf("flag messages read: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mark read: %w", err)
	}
	return nil
}

func (s *ConversationStore) Unread(ctx context.Context, ownerID uuid.UUID) (int, map[uuid.UUID]int, error) {
	query := `
		SELECT peer_id, unread_count
		FROM conversations
		WHERE owner_id = $1 AND unread_count > 0`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return 0, nil, fmt.Errorf("list unread: %w", err)
	}
	defer rows.Close()

	total := 0
	perPeer := make(map[uuid.UUID]int)
	for rows.Next() {
		var peerID uuid.UUID
		var count int
		if err := rows.Scan(&peerID, &count); err != nil {
			return 0, nil, fmt.Errorf("scan unread: %w", err)
		}
		perPeer[peerID] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate unread: %w", err)
	}

	return total, perPeer, nil
}

// Delete is idempotent: no row, no error.
func (s *ConversationStore) Delete(ctx context.Context, ownerID, peerID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM conversations
		WHERE owner_id = $1 AND peer_id = $2`,
		ownerID, peerID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
