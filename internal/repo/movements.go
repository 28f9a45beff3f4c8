package repo

import (
	"context"
	"database/sql"
	"strings"

	"gasline/internal/domain"
)

// Only SELECTs live here. Movement inserts go through the ledger so the
// stock check and the running totals stay in the same transaction.

type MovementFilters struct {
	DepotID      string
	CylinderSize string
	MovementType string
	OrderID      string
	BatchID      string
	Since        string
	Until        string
	Limit        int
}

const movementColumns = `id,depot_id,cylinder_size,movement_type,quantity,previous_status,new_status,related_order_id,related_batch_id,actor_id,notes,created_at`

func (r Repo) ListMovements(ctx context.Context, f MovementFilters) ([]domain.CylinderMovement, error) {
	clauses := []string{"depot_id=?"}
	args := []any{f.DepotID}
	if f.CylinderSize != "" {
		clauses = append(clauses, "cylinder_size=?")
		args = append(args, f.CylinderSize)
	}
	if f.MovementType != "" {
		clauses = append(clauses, "movement_type=?")
		args = append(args, f.MovementType)
	}
	if f.OrderID != "" {
		clauses = append(clauses, "related_order_id=?")
		args = append(args, f.OrderID)
	}
	if f.BatchID != "" {
		clauses = append(clauses, "related_batch_id=?")
		args = append(args, f.BatchID)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.Until)
	}
	query := `SELECT ` + movementColumns + ` FROM cylinder_movements WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CylinderMovement
	for rows.Next() {
		m, err := scanMovementRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) GetMovement(ctx context.Context, id string) (domain.CylinderMovement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+movementColumns+` FROM cylinder_movements WHERE id=?`, id)
	return scanMovementRow(row.Scan)
}

func scanMovementRow(scan func(dest ...any) error) (domain.CylinderMovement, error) {
	var m domain.CylinderMovement
	var prev, next, orderID, batchID, notes sql.NullString
	err := scan(&m.ID, &m.DepotID, &m.CylinderSize, &m.MovementType, &m.Quantity,
		&prev, &next, &orderID, &batchID, &m.ActorID, &notes, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if prev.Valid {
		s := domain.StockStatus(prev.String)
		m.PreviousStatus = &s
	}
	if next.Valid {
		s := domain.StockStatus(next.String)
		m.NewStatus = &s
	}
	if orderID.Valid {
		m.RelatedOrderID = &orderID.String
	}
	if batchID.Valid {
		m.RelatedBatchID = &batchID.String
	}
	m.Notes = notes.String
	return m, nil
}
