// Package gate enforces checklist requirements on guarded transitions.
// A transition subject to the gate only proceeds when every blocking
// checklist template applying to the entities involved has a passing
// response inside the configured window.
package gate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gasline/internal/config"
	"gasline/internal/domain"
	"gasline/internal/repo"
)

// BlockedError reports which checklist stands in the way of a transition.
type BlockedError struct {
	TemplateID  string
	ResponseID  string
	EntityType  string
	EntityID    string
	FailedItems []string
	Reason      string
}

func (e *BlockedError) Error() string {
	if e.ResponseID == "" {
		return fmt.Sprintf("checklist %s for %s %s: %s", e.TemplateID, e.EntityType, e.EntityID, e.Reason)
	}
	return fmt.Sprintf("checklist %s for %s %s failed: %s (response %s)",
		e.TemplateID, e.EntityType, e.EntityID, strings.Join(e.FailedItems, ", "), e.ResponseID)
}

// Target is one entity a gated transition depends on.
type Target struct {
	EntityType string
	EntityID   string
}

type Service struct {
	Repo repo.Repo
	Now  func() time.Time
}

// Evaluate checks every blocking template against its targets. The first
// missing or failed checklist stops the transition.
func (s Service) Evaluate(ctx context.Context, tx *sql.Tx, cfg *config.Config, depotID string, targets []Target) error {
	window := time.Duration(cfg.Checklists.WindowHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}
	cutoff := s.Now().UTC().Add(-window).Format(time.RFC3339)

	for _, target := range targets {
		for _, templateID := range cfg.TemplatesFor(target.EntityType) {
			tpl, _ := cfg.Template(templateID)
			if !tpl.BlocksOnFailure {
				continue
			}
			resp, err := s.Repo.LatestChecklistResponse(ctx, tx, depotID, templateID, target.EntityType, target.EntityID, cutoff)
			if errors.Is(err, repo.ErrNotFound) {
				return &BlockedError{
					TemplateID: templateID,
					EntityType: target.EntityType,
					EntityID:   target.EntityID,
					Reason:     "no completed checklist within window",
				}
			}
			if err != nil {
				return err
			}
			if resp.Blocked {
				return &BlockedError{
					TemplateID:  templateID,
					ResponseID:  resp.ID,
					EntityType:  target.EntityType,
					EntityID:    target.EntityID,
					FailedItems: failedCriticalItems(tpl, resp.Answers),
					Reason:      "critical item failed",
				}
			}
		}
	}
	return nil
}

func failedCriticalItems(tpl config.ChecklistTemplate, answers []domain.ChecklistAnswer) []string {
	critical := map[string]bool{}
	for _, item := range tpl.Items {
		if item.Critical {
			critical[item.ID] = true
		}
	}
	var failed []string
	for _, a := range answers {
		if critical[a.ItemID] && !a.Passed {
			failed = append(failed, a.ItemID)
		}
	}
	return failed
}
