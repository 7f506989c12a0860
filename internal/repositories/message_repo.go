package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tropichat/relay/internal/models"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Append(ctx context.Context, m *models.Message) (int64, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (content, username, wallet_address, color, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, m.Content, m.Username, m.WalletAddress, m.Color, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return 0, err
	}
	return m.ID, nil
}

// Recent returns up to limit messages, oldest first. Insertion order (id) is
// authoritative; created_at is informational.
func (r *MessageRepo) Recent(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, content, username, wallet_address, color, created_at
		FROM messages
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]models.Message, 0, limit)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Content, &m.Username, &m.WalletAddress, &m.Color, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
