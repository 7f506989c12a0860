package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tropichat/relay/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Upsert(ctx context.Context, walletAddress string, f models.ProfileFields) (*models.UserProfile, error) {
	seen := f.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}

	var u models.UserProfile
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (wallet_address, username, wallet_type, color, last_seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (wallet_address) DO UPDATE SET
			username = EXCLUDED.username,
			wallet_type = EXCLUDED.wallet_type,
			color = EXCLUDED.color,
			last_seen = EXCLUDED.last_seen
		RETURNING wallet_address, username, wallet_type, color, last_seen, created_at
	`, models.NormalizeAddress(walletAddress), f.Username, f.WalletType, f.Color, seen).Scan(
		&u.WalletAddress, &u.Username, &u.WalletType, &u.Color, &u.LastSeen, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Find(ctx context.Context, walletAddress string) (*models.UserProfile, error) {
	var u models.UserProfile
	err := r.pool.QueryRow(ctx, `
		SELECT wallet_address, username, wallet_type, color, last_seen, created_at
		FROM users WHERE wallet_address = $1
	`, models.NormalizeAddress(walletAddress)).Scan(
		&u.WalletAddress, &u.Username, &u.WalletType, &u.Color, &u.LastSeen, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Touch(ctx context.Context, walletAddress string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_seen = $1 WHERE wallet_address = $2`,
		at, models.NormalizeAddress(walletAddress))
	return err
}
