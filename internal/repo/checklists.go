package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"gasline/internal/domain"
)

func (r Repo) InsertChecklistResponse(ctx context.Context, tx *sql.Tx, c domain.ChecklistResponse) error {
	answers, err := json.Marshal(c.Answers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO checklist_responses(id,depot_id,template_id,entity_type,entity_id,status,passed,blocked,answers_json,actor_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.DepotID, c.TemplateID, c.EntityType, c.EntityID, c.Status,
		nullableBoolPtr(c.Passed), c.Blocked, string(answers), c.ActorID, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateChecklistResponse(ctx context.Context, tx *sql.Tx, c domain.ChecklistResponse) error {
	answers, err := json.Marshal(c.Answers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE checklist_responses SET status=?, passed=?, blocked=?, answers_json=?, updated_at=? WHERE id=?`,
		c.Status, nullableBoolPtr(c.Passed), c.Blocked, string(answers), c.UpdatedAt, c.ID)
	return err
}

const checklistColumns = `id,depot_id,template_id,entity_type,entity_id,status,passed,blocked,answers_json,actor_id,created_at,updated_at`

func scanChecklistRow(scan func(dest ...any) error) (domain.ChecklistResponse, error) {
	var c domain.ChecklistResponse
	var passed sql.NullBool
	var answers sql.NullString
	err := scan(&c.ID, &c.DepotID, &c.TemplateID, &c.EntityType, &c.EntityID, &c.Status,
		&passed, &c.Blocked, &answers, &c.ActorID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if passed.Valid {
		c.Passed = &passed.Bool
	}
	if answers.Valid && answers.String != "" {
		if err := json.Unmarshal([]byte(answers.String), &c.Answers); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (r Repo) GetChecklistResponse(ctx context.Context, id string) (domain.ChecklistResponse, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM checklist_responses WHERE id=?`, id)
	return scanChecklistRow(row.Scan)
}

func (r Repo) GetChecklistResponseTx(ctx context.Context, tx *sql.Tx, id string) (domain.ChecklistResponse, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM checklist_responses WHERE id=?`, id)
	return scanChecklistRow(row.Scan)
}

// LatestChecklistResponse returns the most recently updated completed
// response for the entity and template, if any exists after cutoff.
func (r Repo) LatestChecklistResponse(ctx context.Context, tx *sql.Tx, depotID, templateID, entityType, entityID, cutoff string) (domain.ChecklistResponse, error) {
	query := `SELECT ` + checklistColumns + ` FROM checklist_responses
WHERE depot_id=? AND template_id=? AND entity_type=? AND entity_id=? AND status=? AND updated_at >= ?
ORDER BY updated_at DESC, id DESC LIMIT 1`
	args := []any{depotID, templateID, entityType, entityID, domain.ChecklistCompleted, cutoff}
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, args...)
	} else {
		row = r.DB.QueryRowContext(ctx, query, args...)
	}
	return scanChecklistRow(row.Scan)
}

func (r Repo) ListChecklistResponses(ctx context.Context, depotID, entityType, entityID string, limit int) ([]domain.ChecklistResponse, error) {
	query := `SELECT ` + checklistColumns + ` FROM checklist_responses WHERE depot_id=?`
	args := []any{depotID}
	if entityType != "" {
		query += " AND entity_type=?"
		args = append(args, entityType)
	}
	if entityID != "" {
		query += " AND entity_id=?"
		args = append(args, entityID)
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistResponse
	for rows.Next() {
		c, err := scanChecklistRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
