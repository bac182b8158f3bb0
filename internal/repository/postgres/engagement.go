package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
)

// EngagementEventLog implements sending.EngagementEventLog against
// PostgreSQL. engagement_events is append-only; rows are never updated.
type EngagementEventLog struct{ db *sql.DB }

func NewEngagementEventLog(db *sql.DB) *EngagementEventLog {
	return &EngagementEventLog{db: db}
}

func (l *EngagementEventLog) Append(ctx context.Context, ev *domain.EngagementEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO engagement_events
			(id, record_id, campaign_id, kind, occurred_at, link_url, link_pos, bounce_class)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, NULLIF($8,''))
	`, ev.ID, ev.RecordID, ev.CampaignID, ev.Kind, ev.OccurredAt,
		ev.LinkURL, ev.LinkPos, string(ev.BounceClass))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (l *EngagementEventLog) ListByRecord(ctx context.Context, recordID string) ([]domain.EngagementEvent, error) {
	return l.list(ctx, `record_id = $1`, recordID)
}

func (l *EngagementEventLog) ListByCampaign(ctx context.Context, campaignID string) ([]domain.EngagementEvent, error) {
	return l.list(ctx, `campaign_id = $1`, campaignID)
}

func (l *EngagementEventLog) list(ctx context.Context, where string, arg interface{}) ([]domain.EngagementEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, record_id, campaign_id, kind, occurred_at,
		       COALESCE(link_url,''), link_pos, COALESCE(bounce_class,'')
		FROM engagement_events
		WHERE `+where+`
		ORDER BY occurred_at ASC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.EngagementEvent
	for rows.Next() {
		var ev domain.EngagementEvent
		var class string
		if err := rows.Scan(&ev.ID, &ev.RecordID, &ev.CampaignID, &ev.Kind,
			&ev.OccurredAt, &ev.LinkURL, &ev.LinkPos, &class); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.BounceClass = domain.BounceClass(class)
		out = append(out, ev)
	}
	return out, rows.Err()
}
