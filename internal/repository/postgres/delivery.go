package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/sending"
	"github.com/lib/pq"
)

// DeliveryRecordStore implements sending.DeliveryRecordStore against
// PostgreSQL. delivery_records is unique on (campaign_id, address); status
// transitions use a compare-and-set WHERE clause, never a table lock.
type DeliveryRecordStore struct{ db *sql.DB }

func NewDeliveryRecordStore(db *sql.DB) *DeliveryRecordStore {
	return &DeliveryRecordStore{db: db}
}

const recordColumns = `
	id, campaign_id, address, token, status, attempt_count, last_attempt_at,
	first_opened_at, last_opened_at, open_count,
	first_clicked_at, last_clicked_at, click_count, clicked_targets,
	unsubscribed_at, created_at, updated_at`

func (s *DeliveryRecordStore) CreateIfAbsent(ctx context.Context, rec *domain.DeliveryRecord) (*domain.DeliveryRecord, bool, error) {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := rec.Status
	if status == "" {
		status = domain.DeliveryPending
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_records (id, campaign_id, address, token, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (campaign_id, address) DO NOTHING
	`, id, rec.CampaignID, rec.Address, rec.Token, status)
	if err != nil {
		return nil, false, fmt.Errorf("create record: %w", err)
	}
	n, _ := res.RowsAffected()

	stored, err := s.Get(ctx, rec.CampaignID, rec.Address)
	if err != nil {
		return nil, false, err
	}
	return stored, n > 0, nil
}

func (s *DeliveryRecordStore) Get(ctx context.Context, campaignID, address string) (*domain.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM delivery_records
		WHERE campaign_id = $1 AND address = $2
	`, campaignID, address)
	return scanRecord(row)
}

func (s *DeliveryRecordStore) GetByToken(ctx context.Context, token string) (*domain.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM delivery_records
		WHERE token = $1
	`, token)
	return scanRecord(row)
}

func (s *DeliveryRecordStore) ListByCampaign(ctx context.Context, campaignID string, statuses ...domain.DeliveryStatus) ([]domain.DeliveryRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM delivery_records WHERE campaign_id = $1`
	args := []interface{}{campaignID}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		q += ` AND status = ANY($2)`
		args = append(args, pq.Array(strs))
	}
	q += ` ORDER BY created_at ASC, address ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *DeliveryRecordStore) CountByStatus(ctx context.Context, campaignID string) (map[domain.DeliveryStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM delivery_records
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.DeliveryStatus]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[domain.DeliveryStatus(st)] = n
	}
	return out, rows.Err()
}

func (s *DeliveryRecordStore) EngagementCounts(ctx context.Context, campaignID string) (sending.EngagementCounts, error) {
	var c sending.EngagementCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE open_count > 0),
			COUNT(*) FILTER (WHERE click_count > 0),
			COUNT(*) FILTER (WHERE unsubscribed_at IS NOT NULL)
		FROM delivery_records
		WHERE campaign_id = $1
	`, campaignID).Scan(&c.Opened, &c.Clicked, &c.Unsubscribed)
	if err != nil {
		return c, fmt.Errorf("count engagement: %w", err)
	}
	return c, nil
}

func (s *DeliveryRecordStore) TransitionStatus(ctx context.Context, id string, from, to domain.DeliveryStatus) error {
	if !domain.CanTransition(from, to) {
		return sending.ErrStaleRecord
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_records SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("transition record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM delivery_records WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("transition record: %w", err)
		}
		if !exists {
			return sending.ErrRecordNotFound
		}
		return sending.ErrStaleRecord
	}
	return nil
}

func (s *DeliveryRecordStore) RecordAttempt(ctx context.Context, id string, attempts int, at time.Time) error {
	return s.exec(ctx, id, `
		UPDATE delivery_records SET attempt_count = $2, last_attempt_at = $3, updated_at = NOW()
		WHERE id = $1
	`, attempts, at)
}

func (s *DeliveryRecordStore) RecordOpen(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, id, `
		UPDATE delivery_records SET
			first_opened_at = COALESCE(first_opened_at, $2),
			last_opened_at = $2,
			open_count = open_count + 1,
			updated_at = NOW()
		WHERE id = $1
	`, at)
}

func (s *DeliveryRecordStore) RecordClick(ctx context.Context, id string, at time.Time, target string) error {
	return s.exec(ctx, id, `
		UPDATE delivery_records SET
			first_clicked_at = COALESCE(first_clicked_at, $2),
			last_clicked_at = $2,
			click_count = click_count + 1,
			clicked_targets = CASE
				WHEN $3 = ANY(clicked_targets) THEN clicked_targets
				ELSE array_append(clicked_targets, $3)
			END,
			updated_at = NOW()
		WHERE id = $1
	`, at, target)
}

func (s *DeliveryRecordStore) RecordUnsubscribe(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, id, `
		UPDATE delivery_records SET
			unsubscribed_at = COALESCE(unsubscribed_at, $2),
			updated_at = NOW()
		WHERE id = $1
	`, at)
}

func (s *DeliveryRecordStore) exec(ctx context.Context, id, q string, args ...interface{}) error {
	all := append([]interface{}{id}, args...)
	res, err := s.db.ExecContext(ctx, q, all...)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sending.ErrRecordNotFound
	}
	return nil
}

func scanRecord(row rowScanner) (*domain.DeliveryRecord, error) {
	rec := &domain.DeliveryRecord{}
	var targets pq.StringArray
	err := row.Scan(
		&rec.ID, &rec.CampaignID, &rec.Address, &rec.Token, &rec.Status,
		&rec.AttemptCount, &rec.LastAttemptAt,
		&rec.FirstOpenedAt, &rec.LastOpenedAt, &rec.OpenCount,
		&rec.FirstClickedAt, &rec.LastClickedAt, &rec.ClickCount, &targets,
		&rec.UnsubscribedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sending.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	rec.ClickedTargets = []string(targets)
	return rec, nil
}
