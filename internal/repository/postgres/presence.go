package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/stationchat/internal/models"
)

type PresenceStore struct {
	pool *pgxpool.Pool
}

func NewPresenceStore(pool *pgxpool.Pool) *PresenceStore {
	return &PresenceStore{pool: pool}
}

// SetOnline upserts the row. The first handshake ever creates it.
func (s *PresenceStore) SetOnline(ctx context.Context, userID, connID uuid.UUID) error {
	query := `
		INSERT INTO online_status (user_id, is_online, last_seen, connection_id)
		VALUES ($1, true, now(), $2)
		ON CONFLICT (user_id) DO UPDATE
		SET is_online = true, last_seen = now(), connection_id = EXCLUDED.connection_id`

	if _, err := s.pool.Exec(ctx, query, userID, connID); err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}

// SetOffline only touches the row while connection_id still names connID.
// If a newer connection has already marked the user online, the update
// matches zero rows and reports false.
func (s *PresenceStore) SetOffline(ctx context.Context, userID, connID uuid.UUID) (bool, error) {
	query := `
		UPDATE online_status
		SET is_online = false, last_seen = now()
		WHERE user_id = $1 AND connection_id = $2`

	tag, err := s.pool.Exec(ctx, query, userID, connID)
	if err != nil {
		return false, fmt.Errorf("set offline: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PresenceStore) GetMany(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.Presence, error) {
	result := make(map[uuid.UUID]models.Presence, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT user_id, is_online, last_seen
		FROM online_status
		WHERE user_id = ANY($1)`

	rows, err := s.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("get presence: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Presence
		if err := rows.Scan(&p.UserID, &p.Online, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		result[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence: %w", err)
	}

	return result, nil
}
