// Package resolver turns a campaign's targeting rule into a concrete,
// deduplicated, suppression-and-preference-filtered recipient list.
package resolver

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Candidate is one addressable member produced by the directory.
type Candidate struct {
	MemberID string
	Address  string
	Name     string

	// Vars feed per-recipient template personalization.
	Vars map[string]interface{}
}

// Directory is the external membership and preference collaborator. The
// resolver reads candidates and preferences; only unsubscribe handling
// writes back, through SetUnsubscribed.
type Directory interface {
	// ResolveCandidates evaluates a targeting rule and returns candidates in
	// a stable discovery order. Populated rule fields union together.
	ResolveCandidates(ctx context.Context, tenantID string, rule domain.TargetRule) ([]Candidate, error)

	// GetPreference returns a recipient's contact preference. An unknown
	// address gets a subscribed default.
	GetPreference(ctx context.Context, address string) (domain.Preference, error)

	// SetUnsubscribed marks the recipient unsubscribed.
	SetUnsubscribed(ctx context.Context, address string) error
}

// SuppressionChecker answers whether an address is blocked. The suppression
// service satisfies this.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, address string) (bool, error)
}

// Resolver produces a campaign's final recipient list.
type Resolver struct {
	directory   Directory
	suppression SuppressionChecker
}

func New(directory Directory, suppression SuppressionChecker) *Resolver {
	return &Resolver{directory: directory, suppression: suppression}
}

// Resolve evaluates the campaign's rule and applies the filters, in order:
// dedupe by address keeping the first occurrence, drop suppressed addresses,
// drop opted-out addresses unless the campaign class is transactional.
// Transactional campaigns bypass preference but never suppression. Any
// collaborator failure aborts the whole resolution; no partial list is ever
// returned.
func (r *Resolver) Resolve(ctx context.Context, c *domain.Campaign) ([]Candidate, error) {
	if c.Rule.IsZero() {
		return nil, fmt.Errorf("campaign %s has no targeting rule", c.ID)
	}

	candidates, err := r.directory.ResolveCandidates(ctx, c.TenantID, c.Rule)
	if err != nil {
		return nil, fmt.Errorf("resolve candidates: %w", err)
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	var dropped struct{ dup, suppressed, optedOut int }

	for _, cand := range candidates {
		if cand.Address == "" || seen[cand.Address] {
			dropped.dup++
			continue
		}
		seen[cand.Address] = true

		blocked, err := r.suppression.IsSuppressed(ctx, cand.Address)
		if err != nil {
			return nil, fmt.Errorf("suppression check: %w", err)
		}
		if blocked {
			dropped.suppressed++
			continue
		}

		if c.Class != domain.ClassTransactional {
			pref, err := r.directory.GetPreference(ctx, cand.Address)
			if err != nil {
				return nil, fmt.Errorf("preference lookup: %w", err)
			}
			if !pref.Subscribed || pref.OptedOut(c.Category) {
				dropped.optedOut++
				continue
			}
		}

		out = append(out, cand)
	}

	logger.Info("recipients resolved",
		"campaign_id", c.ID,
		"candidates", len(candidates),
		"resolved", len(out),
		"duplicates", dropped.dup,
		"suppressed", dropped.suppressed,
		"opted_out", dropped.optedOut)
	return out, nil
}
