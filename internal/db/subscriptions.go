package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ponyhq/pony/internal/model"
)

type SubStore struct {
	pool *pgxpool.Pool
}

func NewSubStore(pool *pgxpool.Pool) *SubStore {
	return &SubStore{pool: pool}
}

const subColumns = `id, expires_at, referral_code, referred_by, referral_count, referral_bonus_days, created_at, updated_at, is_deleted`

func (s *SubStore) Upsert(ctx context.Context, sub *model.Subscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (`+subColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   expires_at = EXCLUDED.expires_at,
		   referral_code = EXCLUDED.referral_code,
		   referred_by = EXCLUDED.referred_by,
		   referral_count = EXCLUDED.referral_count,
		   referral_bonus_days = EXCLUDED.referral_bonus_days,
		   updated_at = EXCLUDED.updated_at,
		   is_deleted = EXCLUDED.is_deleted`,
		sub.ID, sub.ExpiresAt, sub.ReferralCode, sub.ReferredBy,
		sub.ReferralCount, sub.ReferralBonusDays, sub.CreatedAt, sub.UpdatedAt, sub.IsDeleted)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.ID, err)
	}
	return nil
}

func (s *SubStore) Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT `+subColumns+` FROM subscriptions WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.ExpiresAt, &sub.ReferralCode, &sub.ReferredBy,
		&sub.ReferralCount, &sub.ReferralBonusDays, &sub.CreatedAt, &sub.UpdatedAt, &sub.IsDeleted)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return &sub, nil
}

func (s *SubStore) List(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+subColumns+` FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ID, &sub.ExpiresAt, &sub.ReferralCode, &sub.ReferredBy,
			&sub.ReferralCount, &sub.ReferralBonusDays, &sub.CreatedAt, &sub.UpdatedAt, &sub.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}
