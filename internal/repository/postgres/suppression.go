package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
// suppression_entries is unique on address.
type SuppressionRepo struct{ db *sql.DB }

func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) Get(ctx context.Context, address string) (*domain.SuppressionEntry, error) {
	e := &domain.SuppressionEntry{}
	err := r.db.QueryRowContext(ctx, `
		SELECT address, COALESCE(classification,''), consecutive_hard_failures,
		       soft_failures, suppressed, suppressed_at, created_at, updated_at
		FROM suppression_entries
		WHERE address = $1
	`, address).Scan(
		&e.Address, &e.Classification, &e.ConsecutiveHardFailures,
		&e.SoftFailures, &e.Suppressed, &e.SuppressedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suppression entry: %w", err)
	}
	return e, nil
}

func (r *SuppressionRepo) Save(ctx context.Context, e *domain.SuppressionEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_entries
			(address, classification, consecutive_hard_failures, soft_failures,
			 suppressed, suppressed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE SET
			classification = $2,
			consecutive_hard_failures = $3,
			soft_failures = $4,
			suppressed = $5,
			suppressed_at = $6,
			updated_at = NOW()
	`, e.Address, e.Classification, e.ConsecutiveHardFailures, e.SoftFailures,
		e.Suppressed, e.SuppressedAt)
	if err != nil {
		return fmt.Errorf("save suppression entry: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) ListSuppressed(ctx context.Context, limit, offset int) ([]domain.SuppressionEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, COALESCE(classification,''), consecutive_hard_failures,
		       soft_failures, suppressed, suppressed_at, created_at, updated_at
		FROM suppression_entries
		WHERE suppressed = true
		ORDER BY suppressed_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list suppressed: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionEntry
	for rows.Next() {
		var e domain.SuppressionEntry
		if err := rows.Scan(
			&e.Address, &e.Classification, &e.ConsecutiveHardFailures,
			&e.SoftFailures, &e.Suppressed, &e.SuppressedAt, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan suppression entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
