package repo

import (
	"context"
	"database/sql"
	"strings"

	"gasline/internal/domain"
)

func (r Repo) InsertOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orders(id,depot_id,quote_id,customer_id,site_id,status,priority,driver_id,vehicle_id,schedule_run_id,created_at,updated_at,closed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.DepotID, nullableStringPtr(o.QuoteID), o.CustomerID, o.SiteID, o.Status, o.Priority,
		nullableStringPtr(o.DriverID), nullableStringPtr(o.VehicleID), nullableStringPtr(o.ScheduleRunID),
		o.CreatedAt, o.UpdatedAt, nullableStringPtr(o.ClosedAt))
	if err != nil {
		return err
	}
	for _, item := range o.Items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO order_items(order_id,product_id,cylinder_size,quantity,delivered_quantity,returned_quantity)
VALUES (?,?,?,?,?,?)`,
			o.ID, item.ProductID, item.CylinderSize, item.Quantity,
			nullableIntPtr(item.DeliveredQuantity), nullableIntPtr(item.ReturnedQuantity)); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOrderStatus performs the optimistic status write. A zero rows-affected
// result means the stored status no longer matches the expected one.
func (r Repo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id string, expected, next domain.OrderStatus, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE orders SET status=?, updated_at=? WHERE id=? AND status=?`,
		next, updatedAt, id, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) UpdateOrderAssignment(ctx context.Context, tx *sql.Tx, id string, driverID, vehicleID, runID *string, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE orders SET driver_id=?, vehicle_id=?, schedule_run_id=?, updated_at=? WHERE id=?`,
		nullableStringPtr(driverID), nullableStringPtr(vehicleID), nullableStringPtr(runID), updatedAt, id)
	return err
}

func (r Repo) SetOrderClosedAt(ctx context.Context, tx *sql.Tx, id, closedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE orders SET closed_at=? WHERE id=?`, closedAt, id)
	return err
}

func (r Repo) UpdateOrderItemDelivery(ctx context.Context, tx *sql.Tx, orderID, productID string, delivered, returned *int) error {
	_, err := tx.ExecContext(ctx, `UPDATE order_items SET delivered_quantity=?, returned_quantity=? WHERE order_id=? AND product_id=?`,
		nullableIntPtr(delivered), nullableIntPtr(returned), orderID, productID)
	return err
}

func scanOrderRow(scan func(dest ...any) error) (domain.Order, error) {
	var o domain.Order
	var quoteID, driverID, vehicleID, runID, closedAt sql.NullString
	err := scan(&o.ID, &o.DepotID, &quoteID, &o.CustomerID, &o.SiteID, &o.Status, &o.Priority,
		&driverID, &vehicleID, &runID, &o.CreatedAt, &o.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if quoteID.Valid {
		o.QuoteID = &quoteID.String
	}
	if driverID.Valid {
		o.DriverID = &driverID.String
	}
	if vehicleID.Valid {
		o.VehicleID = &vehicleID.String
	}
	if runID.Valid {
		o.ScheduleRunID = &runID.String
	}
	if closedAt.Valid {
		o.ClosedAt = &closedAt.String
	}
	return o, nil
}

const orderColumns = `id,depot_id,quote_id,customer_id,site_id,status,priority,driver_id,vehicle_id,schedule_run_id,created_at,updated_at,closed_at`

func (r Repo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	o, err := scanOrderRow(row.Scan)
	if err != nil {
		return o, err
	}
	o.Items, err = r.listOrderItems(ctx, nil, id)
	return o, err
}

func (r Repo) GetOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.Order, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	o, err := scanOrderRow(row.Scan)
	if err != nil {
		return o, err
	}
	o.Items, err = r.listOrderItems(ctx, tx, id)
	return o, err
}

func (r Repo) listOrderItems(ctx context.Context, tx *sql.Tx, orderID string) ([]domain.OrderItem, error) {
	query := `SELECT product_id,cylinder_size,quantity,delivered_quantity,returned_quantity FROM order_items WHERE order_id=? ORDER BY product_id`
	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, orderID)
	} else {
		rows, err = r.DB.QueryContext(ctx, query, orderID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		var delivered, returned sql.NullInt64
		if err := rows.Scan(&item.ProductID, &item.CylinderSize, &item.Quantity, &delivered, &returned); err != nil {
			return nil, err
		}
		if delivered.Valid {
			v := int(delivered.Int64)
			item.DeliveredQuantity = &v
		}
		if returned.Valid {
			v := int(returned.Int64)
			item.ReturnedQuantity = &v
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type OrderFilters struct {
	DepotID         string
	Status          string
	CustomerID      string
	RunID           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.Order, error) {
	var clauses []string
	var args []any
	if f.DepotID != "" {
		clauses = append(clauses, "depot_id=?")
		args = append(args, f.DepotID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CustomerID != "" {
		clauses = append(clauses, "customer_id=?")
		args = append(args, f.CustomerID)
	}
	if f.RunID != "" {
		clauses = append(clauses, "schedule_run_id=?")
		args = append(args, f.RunID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + orderColumns + ` FROM orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Order
	for rows.Next() {
		o, err := scanOrderRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		items, err := r.listOrderItems(ctx, nil, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Items = items
	}
	return res, nil
}

func (r Repo) InsertQuote(ctx context.Context, tx *sql.Tx, q domain.Quote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO quotes(id,depot_id,customer_id,status,order_id,expires_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		q.ID, q.DepotID, q.CustomerID, q.Status, nullableStringPtr(q.OrderID), nullableStringPtr(q.ExpiresAt), q.CreatedAt, q.UpdatedAt)
	return err
}

func (r Repo) UpdateQuoteStatus(ctx context.Context, tx *sql.Tx, id string, expected, next domain.QuoteStatus, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE quotes SET status=?, updated_at=? WHERE id=? AND status=?`,
		next, updatedAt, id, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) SetQuoteOrder(ctx context.Context, tx *sql.Tx, id, orderID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE quotes SET order_id=? WHERE id=?`, orderID, id)
	return err
}

func scanQuoteRow(scan func(dest ...any) error) (domain.Quote, error) {
	var q domain.Quote
	var orderID, expiresAt sql.NullString
	err := scan(&q.ID, &q.DepotID, &q.CustomerID, &q.Status, &orderID, &expiresAt, &q.CreatedAt, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	if err != nil {
		return q, err
	}
	if orderID.Valid {
		q.OrderID = &orderID.String
	}
	if expiresAt.Valid {
		q.ExpiresAt = &expiresAt.String
	}
	return q, nil
}

func (r Repo) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,depot_id,customer_id,status,order_id,expires_at,created_at,updated_at FROM quotes WHERE id=?`, id)
	return scanQuoteRow(row.Scan)
}

func (r Repo) ListQuotes(ctx context.Context, depotID, status string, limit int) ([]domain.Quote, error) {
	clauses := []string{"depot_id=?"}
	args := []any{depotID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	query := `SELECT id,depot_id,customer_id,status,order_id,expires_at,created_at,updated_at FROM quotes WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quote
	for rows.Next() {
		q, err := scanQuoteRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (r Repo) CountOrdersByStatus(ctx context.Context, depotID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM orders WHERE depot_id=? GROUP BY status`, depotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
