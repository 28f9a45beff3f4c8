package repo

import (
	"context"
	"database/sql"

	"gasline/internal/domain"
)

func (r Repo) UpsertDriver(ctx context.Context, tx *sql.Tx, d domain.Driver) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO drivers(id,depot_id,name,license_no,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, license_no=excluded.license_no, status=excluded.status, updated_at=excluded.updated_at`,
		d.ID, d.DepotID, d.Name, nullable(d.LicenseNo), d.Status, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDriver(ctx context.Context, tx *sql.Tx, id string) (domain.Driver, error) {
	query := `SELECT id,depot_id,name,license_no,status,created_at,updated_at FROM drivers WHERE id=?`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, id)
	} else {
		row = r.DB.QueryRowContext(ctx, query, id)
	}
	var d domain.Driver
	var license sql.NullString
	err := row.Scan(&d.ID, &d.DepotID, &d.Name, &license, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	d.LicenseNo = license.String
	return d, err
}

func (r Repo) ListDrivers(ctx context.Context, depotID string) ([]domain.Driver, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,depot_id,name,license_no,status,created_at,updated_at FROM drivers WHERE depot_id=? ORDER BY name`, depotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Driver
	for rows.Next() {
		var d domain.Driver
		var license sql.NullString
		if err := rows.Scan(&d.ID, &d.DepotID, &d.Name, &license, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.LicenseNo = license.String
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpsertVehicle(ctx context.Context, tx *sql.Tx, v domain.Vehicle) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO vehicles(id,depot_id,registration,capacity_kg,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET registration=excluded.registration, capacity_kg=excluded.capacity_kg, status=excluded.status, updated_at=excluded.updated_at`,
		v.ID, v.DepotID, v.Registration, v.CapacityKg, v.Status, v.CreatedAt, v.UpdatedAt)
	return err
}

func (r Repo) GetVehicle(ctx context.Context, tx *sql.Tx, id string) (domain.Vehicle, error) {
	query := `SELECT id,depot_id,registration,capacity_kg,status,created_at,updated_at FROM vehicles WHERE id=?`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, id)
	} else {
		row = r.DB.QueryRowContext(ctx, query, id)
	}
	var v domain.Vehicle
	var capacity sql.NullInt64
	err := row.Scan(&v.ID, &v.DepotID, &v.Registration, &capacity, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	v.CapacityKg = int(capacity.Int64)
	return v, err
}

func (r Repo) ListVehicles(ctx context.Context, depotID string) ([]domain.Vehicle, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,depot_id,registration,capacity_kg,status,created_at,updated_at FROM vehicles WHERE depot_id=? ORDER BY registration`, depotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vehicle
	for rows.Next() {
		var v domain.Vehicle
		var capacity sql.NullInt64
		if err := rows.Scan(&v.ID, &v.DepotID, &v.Registration, &capacity, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.CapacityKg = int(capacity.Int64)
		res = append(res, v)
	}
	return res, rows.Err()
}
