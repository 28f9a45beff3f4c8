package repo

import (
	"context"
	"database/sql"

	"gasline/internal/domain"
)

func (r Repo) InsertBatch(ctx context.Context, tx *sql.Tx, b domain.RefillBatch) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO refill_batches(id,depot_id,cylinder_size,planned_count,status,inspected_count,passed_inspection_count,filled_count,qc_passed_count,failure_reason,created_at,updated_at,stocked_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.DepotID, b.CylinderSize, b.PlannedCount, b.Status,
		nullableIntPtr(b.InspectedCount), nullableIntPtr(b.PassedInspectionCount),
		nullableIntPtr(b.FilledCount), nullableIntPtr(b.QCPassedCount),
		nullable(b.FailureReason), b.CreatedAt, b.UpdatedAt, nullableStringPtr(b.StockedAt))
	return err
}

func (r Repo) UpdateBatchStatus(ctx context.Context, tx *sql.Tx, id string, expected, next domain.BatchStatus, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE refill_batches SET status=?, updated_at=? WHERE id=? AND status=?`,
		next, updatedAt, id, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateBatchCounts writes only the counters that are non-nil.
func (r Repo) UpdateBatchCounts(ctx context.Context, tx *sql.Tx, b domain.RefillBatch) error {
	_, err := tx.ExecContext(ctx, `UPDATE refill_batches SET
inspected_count=COALESCE(?,inspected_count),
passed_inspection_count=COALESCE(?,passed_inspection_count),
filled_count=COALESCE(?,filled_count),
qc_passed_count=COALESCE(?,qc_passed_count),
failure_reason=COALESCE(?,failure_reason),
stocked_at=COALESCE(?,stocked_at),
updated_at=? WHERE id=?`,
		nullableIntPtr(b.InspectedCount), nullableIntPtr(b.PassedInspectionCount),
		nullableIntPtr(b.FilledCount), nullableIntPtr(b.QCPassedCount),
		nullable(b.FailureReason), nullableStringPtr(b.StockedAt), b.UpdatedAt, b.ID)
	return err
}

func scanBatchRow(scan func(dest ...any) error) (domain.RefillBatch, error) {
	var b domain.RefillBatch
	var inspected, passedInspection, filled, qcPassed sql.NullInt64
	var reason, stockedAt sql.NullString
	err := scan(&b.ID, &b.DepotID, &b.CylinderSize, &b.PlannedCount, &b.Status,
		&inspected, &passedInspection, &filled, &qcPassed, &reason, &b.CreatedAt, &b.UpdatedAt, &stockedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if inspected.Valid {
		v := int(inspected.Int64)
		b.InspectedCount = &v
	}
	if passedInspection.Valid {
		v := int(passedInspection.Int64)
		b.PassedInspectionCount = &v
	}
	if filled.Valid {
		v := int(filled.Int64)
		b.FilledCount = &v
	}
	if qcPassed.Valid {
		v := int(qcPassed.Int64)
		b.QCPassedCount = &v
	}
	b.FailureReason = reason.String
	if stockedAt.Valid {
		b.StockedAt = &stockedAt.String
	}
	return b, nil
}

const batchColumns = `id,depot_id,cylinder_size,planned_count,status,inspected_count,passed_inspection_count,filled_count,qc_passed_count,failure_reason,created_at,updated_at,stocked_at`

func (r Repo) GetBatch(ctx context.Context, id string) (domain.RefillBatch, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM refill_batches WHERE id=?`, id)
	return scanBatchRow(row.Scan)
}

func (r Repo) GetBatchTx(ctx context.Context, tx *sql.Tx, id string) (domain.RefillBatch, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM refill_batches WHERE id=?`, id)
	return scanBatchRow(row.Scan)
}

func (r Repo) ListBatches(ctx context.Context, depotID, status string, limit int) ([]domain.RefillBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM refill_batches WHERE depot_id=?`
	args := []any{depotID}
	if status != "" {
		query += " AND status=?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RefillBatch
	for rows.Next() {
		b, err := scanBatchRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
