package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/stationchat/internal/models"
	"github.com/lalith-99/stationchat/internal/repository"
	"github.com/oklog/ulid/v2"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// AppendRoom inserts a branch message, copying the sender's display fields
// from users and bumping chat_stats, in a single statement. No users row
// means no insert: the CTE yields zero rows and Scan reports ErrNoRows.
func (s *MessageStore) AppendRoom(ctx context.Context, senderID uuid.UUID, branchID, content string) (*models.Message, error) {
	query := `
		WITH sender AS (
			SELECT nickname, avatar FROM users WHERE id = $2::uuid
		), ins AS (
			INSERT INTO branch_messages (id, branch_id, sender_id, sender_nickname, sender_avatar, content, created_at)
			SELECT $1::text, $3::text, $2::uuid, sender.nickname, sender.avatar, $4::text, now() FROM sender
			RETURNING id, branch_id, sender_id, sender_nickname, sender_avatar, content, created_at
		), stats AS (
			INSERT INTO chat_stats (user_id, branch_count, total_count)
			SELECT sender_id, 1, 1 FROM ins
			ON CONFLICT (user_id) DO UPDATE
			SET branch_count = chat_stats.branch_count + 1,
			    total_count  = chat_stats.total_count + 1
		)
		SELECT id, branch_id, sender_id, sender_nickname, sender_avatar, content, created_at FROM ins`

	msg := models.Message{Scope: models.ScopeBranch}
	err := s.pool.QueryRow(ctx, query, ulid.Make().String(), senderID, branchID, content).Scan(
		&msg.ID,
		&msg.BranchID,
		&msg.SenderID,
		&msg.SenderNickname,
		&msg.SenderAvatar,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrUnknownUser
		}
		return nil, fmt.Errorf("insert branch message: %w", err)
	}
	return &msg, nil
}

// AppendWorld spends one broadcast item and inserts the world message in one
// transaction. The decrement is conditional on count > 0, so two concurrent
// sends can never take the same last horn.
func (s *MessageStore) AppendWorld(ctx context.Context, senderID uuid.UUID, content string) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin world message: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE user_items SET count = count - 1
		WHERE user_id = $1 AND item_id = $2 AND count > 0`,
		senderID, repository.BroadcastItem)
	if err != nil {
		return nil, fmt.Errorf("consume broadcast item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, repository.ErrInsufficientItems
	}

	query := `
		INSERT INTO world_messages (id, sender_id, sender_nickname, sender_avatar, branch_id, branch_name, content, created_at)
		SELECT $1::text, u.id, u.nickname, u.avatar, u.branch_id, u.branch_name, $3::text, now()
		FROM users u WHERE u.id = $2
		RETURNING id, sender_id, sender_nickname, sender_avatar, branch_id, branch_name, content, created_at`

	msg := models.Message{Scope: models.ScopeWorld}
	err = tx.QueryRow(ctx, query, ulid.Make().String(), senderID, content).Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.SenderNickname,
		&msg.SenderAvatar,
		&msg.BranchID,
		&msg.BranchName,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrUnknownUser
		}
		return nil, fmt.Errorf("insert world message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_stats (user_id, world_count, total_count)
		VALUES ($1, 1, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET world_count = chat_stats.world_count + 1,
		    total_count = chat_stats.total_count + 1`,
		senderID)
	if err != nil {
		return nil, fmt.Errorf("update chat stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit world message: %w", err)
	}
	return &msg, nil
}

// AppendDirect writes the message and both conversation rows in one
// transaction, so the ledger never has only one side updated.
func (s *MessageStore) AppendDirect(ctx context.Context, senderID, receiverID uuid.UUID, content string, subtype models.Subtype) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin direct message: %w", err)
	}
	defer tx.Rollback(ctx)

	var receiverNickname, receiverAvatar string
	err = tx.QueryRow(ctx, `SELECT nickname, avatar FROM users WHERE id = $1`, receiverID).
		Scan(&receiverNickname, &receiverAvatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrUnknownUser
		}
		return nil, fmt.Errorf("get receiver: %w", err)
	}

	query := `
		INSERT INTO private_messages (id, sender_id, receiver_id, sender_nickname, sender_avatar, content, subtype, created_at)
		SELECT $1::text, u.id, $3::uuid, u.nickname, u.avatar, $4::text, $5::text, now()
		FROM users u WHERE u.id = $2
		RETURNING id, sender_id, receiver_id, sender_nickname, sender_avatar, content, subtype, created_at`

	msg := models.Message{Scope: models.ScopeDirect}
	var receiver uuid.UUID
	err = tx.QueryRow(ctx, query, ulid.Make().String(), senderID, receiverID, content, subtype).Scan(
		&msg.ID,
		&msg.SenderID,
		&receiver,
		&msg.SenderNickname,
		&msg.SenderAvatar,
		&msg.Content,
		&msg.Subtype,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrUnknownUser
		}
		return nil, fmt.Errorf("insert direct message: %w", err)
	}
	msg.ReceiverID = &receiver

	// The sender's row: preview only. ON CONFLICT leaves unread_count alone.
	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (owner_id, peer_id, peer_nickname, peer_avatar, last_message, last_message_type, last_message_at, unread_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		ON CONFLICT (owner_id, peer_id) DO UPDATE
		SET peer_nickname = EXCLUDED.peer_nickname,
		    peer_avatar = EXCLUDED.peer_avatar,
		    last_message = EXCLUDED.last_message,
		    last_message_type = EXCLUDED.last_message_type,
		    last_message_at = EXCLUDED.last_message_at`,
		senderID, receiverID, receiverNickname, receiverAvatar, content, subtype, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert sender conversation: %w", err)
	}

	// The receiver's row: preview plus one more unread.
	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (owner_id, peer_id, peer_nickname, peer_avatar, last_message, last_message_type, last_message_at, unread_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (owner_id, peer_id) DO UPDATE
		SET peer_nickname = EXCLUDED.peer_nickname,
		    peer_avatar = EXCLUDED.peer_avatar,
		    last_message = EXCLUDED.last_message,
		    last_message_type = EXCLUDED.last_message_type,
		    last_message_at = EXCLUDED.last_message_at,
		    unread_count = conversations.unread_count + 1`,
		receiverID, senderID, msg.SenderNickname, msg.SenderAvatar, content, subtype, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert receiver conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit direct message: %w", err)
	}
	return &msg, nil
}

// History queries use the ULID primary key as the cursor:
// before="" → newest page, before=X → "older than message X".
// ULIDs sort in creation order, so id ordering is time ordering.

func (s *MessageStore) ListBranch(ctx context.Context, branchID, before string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, branch_id, sender_id, sender_nickname, sender_avatar, content, created_at
		FROM branch_messages
		WHERE branch_id = $1 AND ($2::text = '' OR id < $2::text)
		ORDER BY id DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, branchID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list branch messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg := models.Message{Scope: models.ScopeBranch}
		if err := rows.Scan(
			&msg.ID,
			&msg.BranchID,
			&msg.SenderID,
			&msg.SenderNickname,
			&msg.SenderAvatar,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan branch message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branch messages: %w", err)
	}

	return messages, nil
}

func (s *MessageStore) ListWorld(ctx context.Context, before string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, sender_id, sender_nickname, sender_avatar, branch_id, branch_name, content, created_at
		FROM world_messages
		WHERE ($1::text = '' OR id < $1::text)
		ORDER BY id DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list world messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg := models.Message{Scope: models.ScopeWorld}
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.SenderNickname,
			&msg.SenderAvatar,
			&msg.BranchID,
			&msg.BranchName,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan world message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate world messages: %w", err)
	}

	return messages, nil
}

func (s *MessageStore) ListDirect(ctx context.Context, userID, peerID uuid.UUID, before string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, sender_nickname, sender_avatar, content, subtype, is_read, created_at
		FROM private_messages
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND ($3::text = '' OR id < $3::text)
		ORDER BY id DESC
		LIMIT $4`

	rows, err := s.pool.Query(ctx, query, userID, peerID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list direct messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg := models.Message{Scope: models.ScopeDirect}
		var receiver uuid.UUID
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&receiver,
			&msg.SenderNickname,
			&msg.SenderAvatar,
			&msg.Content,
			&msg.Subtype,
			&msg.Read,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan direct message: %w", err)
		}
		msg.ReceiverID = &receiver
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate direct messages: %w", err)
	}

	return messages, nil
}
