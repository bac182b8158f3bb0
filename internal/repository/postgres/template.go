package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/campaign-engine/internal/render"
)

// TemplateStore implements render.TemplateSource against PostgreSQL.
type TemplateStore struct{ db *sql.DB }

func NewTemplateStore(db *sql.DB) *TemplateStore { return &TemplateStore{db: db} }

func (s *TemplateStore) GetTemplate(ctx context.Context, tenantID, templateID string) (*render.Template, error) {
	t := &render.Template{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subject, html_body, COALESCE(text_body,'')
		FROM templates
		WHERE id = $1 AND tenant_id = $2
	`, templateID, tenantID).Scan(&t.ID, &t.Subject, &t.HTML, &t.Text)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("template %s not found", templateID)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}
