package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, tenant_id, name, template_id, COALESCE(category,''), class, target_rule,
	status, scheduled_at, started_at, completed_at,
	resolved_count, attempted_count, sent_count, delivered_count,
	opened_count, clicked_count, bounced_count, unsubscribed_count,
	created_at, updated_at`

func (r *CampaignRepo) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, tenantID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM campaigns WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if f.Status != "" {
		countQ += ` AND status = $2`
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE tenant_id = $1`
	qArgs := []interface{}{tenantID}
	idx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		qArgs = append(qArgs, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	qArgs = append(qArgs, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, qArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	rule, err := json.Marshal(c.Rule)
	if err != nil {
		return "", fmt.Errorf("encode target rule: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, tenant_id, name, template_id, category, class, target_rule,
			 status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, c.ID, c.TenantID, c.Name, c.TemplateID, c.Category, c.Class, rule, c.Status)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

// UpdateStatus is a compare-and-set: the WHERE clause carries the expected
// from-status, so two racing transitions can never both win.
func (r *CampaignRepo) UpdateStatus(ctx context.Context, tenantID, id string, from, to domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3 AND status = $4
	`, to, id, tenantID, from)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Either missing or not in the expected status; disambiguate.
		if _, gerr := r.Get(ctx, tenantID, id); gerr != nil {
			return gerr
		}
		return campaign.ErrInvalidTransition
	}
	return nil
}

func (r *CampaignRepo) SetSchedule(ctx context.Context, tenantID, id string, at time.Time) error {
	return r.stamp(ctx, tenantID, id, "scheduled_at", at)
}

func (r *CampaignRepo) SetStartedAt(ctx context.Context, tenantID, id string, at time.Time) error {
	return r.stamp(ctx, tenantID, id, "started_at", at)
}

func (r *CampaignRepo) SetCompletedAt(ctx context.Context, tenantID, id string, at time.Time) error {
	return r.stamp(ctx, tenantID, id, "completed_at", at)
}

func (r *CampaignRepo) stamp(ctx context.Context, tenantID, id, col string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE campaigns SET %s = $1, updated_at = NOW() WHERE id = $2 AND tenant_id = $3`, col),
		at, id, tenantID)
	if err != nil {
		return fmt.Errorf("set %s: %w", col, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) UpdateCounters(ctx context.Context, tenantID, id string, c domain.CampaignCounters) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			resolved_count = $1, attempted_count = $2, sent_count = $3,
			delivered_count = $4, opened_count = $5, clicked_count = $6,
			bounced_count = $7, unsubscribed_count = $8, updated_at = NOW()
		WHERE id = $9 AND tenant_id = $10
	`, c.Resolved, c.Attempted, c.Sent, c.Delivered, c.Opened, c.Clicked,
		c.Bounced, c.Unsubscribed, id, tenantID)
	if err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

func (r *CampaignRepo) Sending(ctx context.Context, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = 'sending'
		ORDER BY started_at ASC NULLS LAST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sending campaigns: %w", err)
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var rule []byte
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.TemplateID, &c.Category, &c.Class, &rule,
		&c.Status, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt,
		&c.Counters.Resolved, &c.Counters.Attempted, &c.Counters.Sent,
		&c.Counters.Delivered, &c.Counters.Opened, &c.Counters.Clicked,
		&c.Counters.Bounced, &c.Counters.Unsubscribed,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(rule) > 0 {
		if err := json.Unmarshal(rule, &c.Rule); err != nil {
			return nil, fmt.Errorf("decode target rule: %w", err)
		}
	}
	return c, nil
}

func collectCampaigns(rows *sql.Rows) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
