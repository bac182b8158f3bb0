package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/resolver"
)

// Directory implements resolver.Directory against PostgreSQL. Members live
// in the members table; contact preferences are keyed by address so an
// unsubscribe applies across every tenant list the address appears on.
type Directory struct{ db *sql.DB }

func NewDirectory(db *sql.DB) *Directory { return &Directory{db: db} }

func (d *Directory) ResolveCandidates(ctx context.Context, tenantID string, rule domain.TargetRule) ([]resolver.Candidate, error) {
	var clauses []string
	args := []interface{}{tenantID}

	if rule.All {
		clauses = append(clauses, "TRUE")
	}
	if len(rule.Roles) > 0 {
		args = append(args, pq.Array(rule.Roles))
		clauses = append(clauses, fmt.Sprintf("roles && $%d", len(args)))
	}
	if len(rule.IDs) > 0 {
		args = append(args, pq.Array(rule.IDs))
		clauses = append(clauses, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if p := rule.Predicate; p != nil {
		var preds []string
		if p.JoinedBefore != nil {
			args = append(args, *p.JoinedBefore)
			preds = append(preds, fmt.Sprintf("joined_at < $%d", len(args)))
		}
		if p.JoinedAfter != nil {
			args = append(args, *p.JoinedAfter)
			preds = append(preds, fmt.Sprintf("joined_at > $%d", len(args)))
		}
		if len(preds) > 0 {
			clauses = append(clauses, "("+strings.Join(preds, " AND ")+")")
		}
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	q := `
		SELECT id, email, COALESCE(name,''), COALESCE(vars,'{}')
		FROM members
		WHERE tenant_id = $1 AND active = true AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY joined_at ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve candidates: %w", err)
	}
	defer rows.Close()

	var out []resolver.Candidate
	for rows.Next() {
		var c resolver.Candidate
		var vars []byte
		if err := rows.Scan(&c.MemberID, &c.Address, &c.Name, &vars); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		c.Vars = decodeVars(vars)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *Directory) GetPreference(ctx context.Context, address string) (domain.Preference, error) {
	var p domain.Preference
	var optOuts pq.StringArray
	err := d.db.QueryRowContext(ctx, `
		SELECT subscribed, category_optouts
		FROM contact_preferences
		WHERE address = $1
	`, address).Scan(&p.Subscribed, &optOuts)
	if err == sql.ErrNoRows {
		return domain.Preference{Subscribed: true}, nil
	}
	if err != nil {
		return p, fmt.Errorf("get preference: %w", err)
	}
	p.CategoryOptOuts = []string(optOuts)
	return p, nil
}

func (d *Directory) SetUnsubscribed(ctx context.Context, address string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO contact_preferences (address, subscribed, created_at, updated_at)
		VALUES ($1, false, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE SET subscribed = false, updated_at = NOW()
	`, address)
	if err != nil {
		return fmt.Errorf("set unsubscribed: %w", err)
	}
	return nil
}

func decodeVars(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var vars map[string]interface{}
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil
	}
	return vars
}
