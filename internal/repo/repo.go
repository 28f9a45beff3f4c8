package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gasline/internal/config"
	"gasline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertDepot(ctx context.Context, tx *sql.Tx, d domain.Depot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO depots(id,name,status,created_at) VALUES (?,?,?,?)`,
		d.ID, d.Name, d.Status, d.CreatedAt)
	return err
}

func (r Repo) GetDepot(ctx context.Context, id string) (domain.Depot, error) {
	var d domain.Depot
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM depots WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &d.Status, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) SingleDepot(ctx context.Context) (domain.Depot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM depots`)
	if err != nil {
		return domain.Depot{}, err
	}
	defer rows.Close()
	var depots []domain.Depot
	for rows.Next() {
		var d domain.Depot
		if err := rows.Scan(&d.ID, &d.Name, &d.Status, &d.CreatedAt); err != nil {
			return domain.Depot{}, err
		}
		depots = append(depots, d)
	}
	if len(depots) == 0 {
		return domain.Depot{}, ErrNotFound
	}
	if len(depots) > 1 {
		return domain.Depot{}, fmt.Errorf("multiple depots exist; specify --depot")
	}
	return depots[0], nil
}

func (r Repo) ListDepots(ctx context.Context) ([]domain.Depot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM depots ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Depot
	for rows.Next() {
		var d domain.Depot
		if err := rows.Scan(&d.ID, &d.Name, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpsertDepotConfig(ctx context.Context, depotID string, cfg *config.Config) error {
	return upsertDepotConfig(ctx, r.DB, nil, depotID, cfg)
}

func (r Repo) UpsertDepotConfigTx(ctx context.Context, tx *sql.Tx, depotID string, cfg *config.Config) error {
	return upsertDepotConfig(ctx, nil, tx, depotID, cfg)
}

func upsertDepotConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, depotID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Depot.ID = depotID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO depot_configs(depot_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(depot_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, depotID, string(payload), now, now)
	return err
}

func (r Repo) GetDepotConfig(ctx context.Context, depotID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM depot_configs WHERE depot_id=?`, depotID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Depot.ID == "" {
		cfg.Depot.ID = depotID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, depotID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, depotID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, depotID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if depotID != "" {
		clauses = append(clauses, "depot_id=?")
		args = append(args, depotID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,depot_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, depotID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if depotID != "" {
		clauses = append(clauses, "depot_id=?")
		args = append(args, depotID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,depot_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}

// LatestEventID returns the highest event ID for a depot, 0 when none exist.
func (r Repo) LatestEventID(ctx context.Context, depotID string) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events WHERE depot_id=?`, depotID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) scanEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var depotID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &depotID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if depotID.Valid {
			e.DepotID = depotID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBoolPtr(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}
