package repo

import (
	"context"
	"database/sql"

	"gasline/internal/domain"
)

func (r Repo) InsertDailyCount(ctx context.Context, tx *sql.Tx, c domain.DailyCount) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO daily_counts(id,depot_id,count_date,status,actor_id,created_at,resolved_at,resolved_by)
VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.DepotID, c.CountDate, c.Status, c.ActorID, c.CreatedAt,
		nullableStringPtr(c.ResolvedAt), nullableStringPtr(c.ResolvedBy))
	if err != nil {
		return err
	}
	for _, item := range c.Items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO daily_count_items(count_id,cylinder_size,stock_status,physical_quantity,projected_quantity,variance)
VALUES (?,?,?,?,?,?)`,
			c.ID, item.CylinderSize, item.StockStatus, item.PhysicalQuantity, item.ProjectedQuantity, item.Variance); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpdateCountStatus(ctx context.Context, tx *sql.Tx, id string, expected, next domain.CountStatus, resolvedAt, resolvedBy string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE daily_counts SET status=?, resolved_at=?, resolved_by=? WHERE id=? AND status=?`,
		next, nullable(resolvedAt), nullable(resolvedBy), id, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanCountRow(scan func(dest ...any) error) (domain.DailyCount, error) {
	var c domain.DailyCount
	var resolvedAt, resolvedBy sql.NullString
	err := scan(&c.ID, &c.DepotID, &c.CountDate, &c.Status, &c.ActorID, &c.CreatedAt, &resolvedAt, &resolvedBy)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.String
	}
	if resolvedBy.Valid {
		c.ResolvedBy = &resolvedBy.String
	}
	return c, nil
}

const countColumns = `id,depot_id,count_date,status,actor_id,created_at,resolved_at,resolved_by`

func (r Repo) GetDailyCount(ctx context.Context, id string) (domain.DailyCount, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+countColumns+` FROM daily_counts WHERE id=?`, id)
	c, err := scanCountRow(row.Scan)
	if err != nil {
		return c, err
	}
	c.Items, err = r.listCountItems(ctx, nil, c.ID)
	return c, err
}

func (r Repo) GetDailyCountTx(ctx context.Context, tx *sql.Tx, id string) (domain.DailyCount, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+countColumns+` FROM daily_counts WHERE id=?`, id)
	c, err := scanCountRow(row.Scan)
	if err != nil {
		return c, err
	}
	c.Items, err = r.listCountItems(ctx, tx, c.ID)
	return c, err
}

func (r Repo) listCountItems(ctx context.Context, tx *sql.Tx, countID string) ([]domain.DailyCountItem, error) {
	query := `SELECT cylinder_size,stock_status,physical_quantity,projected_quantity,variance
FROM daily_count_items WHERE count_id=? ORDER BY cylinder_size, stock_status`
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, countID)
	} else {
		rows, err = r.DB.QueryContext(ctx, query, countID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.DailyCountItem
	for rows.Next() {
		var item domain.DailyCountItem
		if err := rows.Scan(&item.CylinderSize, &item.StockStatus, &item.PhysicalQuantity, &item.ProjectedQuantity, &item.Variance); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r Repo) ListDailyCounts(ctx context.Context, depotID, status string, limit int) ([]domain.DailyCount, error) {
	query := `SELECT ` + countColumns + ` FROM daily_counts WHERE depot_id=?`
	args := []any{depotID}
	if status != "" {
		query += " AND status=?"
		args = append(args, status)
	}
	query += " ORDER BY count_date DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DailyCount
	for rows.Next() {
		c, err := scanCountRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		items, err := r.listCountItems(ctx, nil, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Items = items
	}
	return res, nil
}

// CountForDate finds an existing count for the given date, used to
// reject duplicate submissions.
func (r Repo) CountForDate(ctx context.Context, tx *sql.Tx, depotID, countDate string) (domain.DailyCount, error) {
	query := `SELECT ` + countColumns + ` FROM daily_counts WHERE depot_id=? AND count_date=? AND status != ? LIMIT 1`
	row := tx.QueryRowContext(ctx, query, depotID, countDate, domain.CountRejected)
	return scanCountRow(row.Scan)
}
