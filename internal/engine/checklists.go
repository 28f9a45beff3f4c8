package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gasline/internal/domain"
	"gasline/internal/events"
)

// StartChecklist opens a response against a configured template.
func (e Engine) StartChecklist(ctx context.Context, depotID, templateID, entityType, entityID, actorID string) (domain.ChecklistResponse, error) {
	cfg, err := e.configFor(ctx, depotID)
	if err != nil {
		return domain.ChecklistResponse{}, err
	}
	tpl, ok := cfg.Template(templateID)
	if !ok {
		return domain.ChecklistResponse{}, fmt.Errorf("unknown checklist template %q", templateID)
	}
	if tpl.AppliesTo != entityType {
		return domain.ChecklistResponse{}, fmt.Errorf("template %s applies to %s, not %s", templateID, tpl.AppliesTo, entityType)
	}
	if entityID == "" {
		return domain.ChecklistResponse{}, errors.New("entity id required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChecklistResponse{}, err
	}
	defer tx.Rollback()

	resp := domain.ChecklistResponse{
		ID:         uuid.New().String(),
		DepotID:    depotID,
		TemplateID: templateID,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     domain.ChecklistInProgress,
		ActorID:    actorID,
		CreatedAt:  e.nowStr(),
		UpdatedAt:  e.nowStr(),
	}
	if err := e.Repo.InsertChecklistResponse(ctx, tx, resp); err != nil {
		return resp, err
	}
	if err := e.Events.Append(ctx, tx, "checklist.started", depotID, "checklist", resp.ID, actorID, events.EventPayload{
		"template_id": templateID,
		"entity_type": entityType,
		"entity_id":   entityID,
	}); err != nil {
		return resp, err
	}
	if err := tx.Commit(); err != nil {
		return resp, err
	}
	return resp, nil
}

// CompleteChecklist records the answers and derives pass/blocked from the
// template: passed means every item passed, blocked means the template
// blocks on failure and a critical item failed.
func (e Engine) CompleteChecklist(ctx context.Context, responseID string, answers []domain.ChecklistAnswer, actorID string) (domain.ChecklistResponse, error) {
	resp, err := e.Repo.GetChecklistResponse(ctx, responseID)
	if err != nil {
		return resp, err
	}
	if resp.Status != domain.ChecklistInProgress {
		return resp, &InvalidTransitionError{Entity: "checklist", ID: resp.ID, From: string(resp.Status), To: string(domain.ChecklistCompleted)}
	}
	cfg, err := e.configFor(ctx, resp.DepotID)
	if err != nil {
		return resp, err
	}
	tpl, ok := cfg.Template(resp.TemplateID)
	if !ok {
		return resp, fmt.Errorf("template %q no longer configured", resp.TemplateID)
	}

	byItem := map[string]domain.ChecklistAnswer{}
	for _, a := range answers {
		byItem[a.ItemID] = a
	}
	passed := true
	criticalFailed := false
	for _, item := range tpl.Items {
		a, ok := byItem[item.ID]
		if !ok {
			return resp, fmt.Errorf("item %s not answered", item.ID)
		}
		if !a.Passed {
			passed = false
			if item.Critical {
				criticalFailed = true
			}
		}
	}
	for id := range byItem {
		known := false
		for _, item := range tpl.Items {
			if item.ID == id {
				known = true
				break
			}
		}
		if !known {
			return resp, fmt.Errorf("unknown item %s", id)
		}
	}

	resp.Answers = answers
	resp.Passed = &passed
	resp.Blocked = tpl.BlocksOnFailure && criticalFailed
	resp.Status = domain.ChecklistCompleted
	resp.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return resp, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateChecklistResponse(ctx, tx, resp); err != nil {
		return resp, err
	}
	if err := e.Events.Append(ctx, tx, "checklist.completed", resp.DepotID, "checklist", resp.ID, actorID, events.EventPayload{
		"template_id": resp.TemplateID,
		"passed":      passed,
		"blocked":     resp.Blocked,
	}); err != nil {
		return resp, err
	}
	if err := tx.Commit(); err != nil {
		return resp, err
	}
	return resp, nil
}

// CancelChecklist abandons an in-progress response.
func (e Engine) CancelChecklist(ctx context.Context, responseID, actorID string) (domain.ChecklistResponse, error) {
	resp, err := e.Repo.GetChecklistResponse(ctx, responseID)
	if err != nil {
		return resp, err
	}
	if resp.Status != domain.ChecklistInProgress {
		return resp, &InvalidTransitionError{Entity: "checklist", ID: resp.ID, From: string(resp.Status), To: string(domain.ChecklistCancelled)}
	}
	resp.Status = domain.ChecklistCancelled
	resp.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return resp, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateChecklistResponse(ctx, tx, resp); err != nil {
		return resp, err
	}
	if err := e.Events.Append(ctx, tx, "checklist.cancelled", resp.DepotID, "checklist", resp.ID, actorID, nil); err != nil {
		return resp, err
	}
	if err := tx.Commit(); err != nil {
		return resp, err
	}
	return resp, nil
}
