package repo

import (
	"context"
	"database/sql"

	"gasline/internal/domain"
)

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.ScheduleRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO schedule_runs(id,depot_id,vehicle_id,driver_id,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.DepotID, run.VehicleID, run.DriverID, run.Status, run.CreatedAt, run.UpdatedAt)
	return err
}

func (r Repo) UpdateRunStatus(ctx context.Context, tx *sql.Tx, id string, expected, next domain.RunStatus, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE schedule_runs SET status=?, updated_at=? WHERE id=? AND status=?`,
		next, updatedAt, id, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanRunRow(scan func(dest ...any) error) (domain.ScheduleRun, error) {
	var run domain.ScheduleRun
	err := scan(&run.ID, &run.DepotID, &run.VehicleID, &run.DriverID, &run.Status, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

const runColumns = `id,depot_id,vehicle_id,driver_id,status,created_at,updated_at`

func (r Repo) GetRun(ctx context.Context, id string) (domain.ScheduleRun, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM schedule_runs WHERE id=?`, id)
	run, err := scanRunRow(row.Scan)
	if err != nil {
		return run, err
	}
	run.Stops, err = r.ListStops(ctx, nil, id)
	return run, err
}

func (r Repo) GetRunTx(ctx context.Context, tx *sql.Tx, id string) (domain.ScheduleRun, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM schedule_runs WHERE id=?`, id)
	run, err := scanRunRow(row.Scan)
	if err != nil {
		return run, err
	}
	run.Stops, err = r.ListStops(ctx, tx, id)
	return run, err
}

func (r Repo) ListRuns(ctx context.Context, depotID, status string, limit int) ([]domain.ScheduleRun, error) {
	query := `SELECT ` + runColumns + ` FROM schedule_runs WHERE depot_id=?`
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
	var res []domain.ScheduleRun
	for rows.Next() {
		run, err := scanRunRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) InsertStop(ctx context.Context, tx *sql.Tx, s domain.ScheduleStop) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO schedule_stops(id,run_id,order_id,sequence,status,estimated_arrival,actual_arrival,completed_at)
VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.RunID, s.OrderID, s.Sequence, s.Status,
		nullableStringPtr(s.EstimatedArrival), nullableStringPtr(s.ActualArrival), nullableStringPtr(s.CompletedAt))
	return err
}

func (r Repo) UpdateStopStatus(ctx context.Context, tx *sql.Tx, id string, expected, next domain.StopStatus) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE schedule_stops SET status=? WHERE id=? AND status=?`, next, id, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) SetStopArrival(ctx context.Context, tx *sql.Tx, id, arrivedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE schedule_stops SET actual_arrival=? WHERE id=?`, arrivedAt, id)
	return err
}

func (r Repo) SetStopCompleted(ctx context.Context, tx *sql.Tx, id, completedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE schedule_stops SET completed_at=? WHERE id=?`, completedAt, id)
	return err
}

func scanStopRow(scan func(dest ...any) error) (domain.ScheduleStop, error) {
	var s domain.ScheduleStop
	var eta, arrival, completed sql.NullString
	err := scan(&s.ID, &s.RunID, &s.OrderID, &s.Sequence, &s.Status, &eta, &arrival, &completed)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if eta.Valid {
		s.EstimatedArrival = &eta.String
	}
	if arrival.Valid {
		s.ActualArrival = &arrival.String
	}
	if completed.Valid {
		s.CompletedAt = &completed.String
	}
	return s, nil
}

const stopColumns = `id,run_id,order_id,sequence,status,estimated_arrival,actual_arrival,completed_at`

func (r Repo) GetStop(ctx context.Context, tx *sql.Tx, id string) (domain.ScheduleStop, error) {
	query := `SELECT ` + stopColumns + ` FROM schedule_stops WHERE id=?`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, id)
	} else {
		row = r.DB.QueryRowContext(ctx, query, id)
	}
	return scanStopRow(row.Scan)
}

func (r Repo) ListStops(ctx context.Context, tx *sql.Tx, runID string) ([]domain.ScheduleStop, error) {
	query := `SELECT ` + stopColumns + ` FROM schedule_stops WHERE run_id=? ORDER BY sequence`
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, runID)
	} else {
		rows, err = r.DB.QueryContext(ctx, query, runID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduleStop
	for rows.Next() {
		s, err := scanStopRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
