package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"gasline/internal/domain"
	"gasline/internal/events"
	"gasline/internal/repo"
)

// UpsertDriver creates or updates a driver record.
func (e Engine) UpsertDriver(ctx context.Context, d domain.Driver, actorID string) (domain.Driver, error) {
	if d.Name == "" {
		return d, errors.New("driver name required")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = "active"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetDriver(ctx, tx, d.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return d, err
	}
	if err == nil {
		d.CreatedAt = existing.CreatedAt
	} else {
		d.CreatedAt = e.nowStr()
	}
	d.UpdatedAt = e.nowStr()
	if err := e.Repo.UpsertDriver(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "driver.upserted", d.DepotID, "driver", d.ID, actorID, events.EventPayload{"name": d.Name}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// UpsertVehicle creates or updates a vehicle record.
func (e Engine) UpsertVehicle(ctx context.Context, v domain.Vehicle, actorID string) (domain.Vehicle, error) {
	if v.Registration == "" {
		return v, errors.New("vehicle registration required")
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = "active"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return v, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetVehicle(ctx, tx, v.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return v, err
	}
	if err == nil {
		v.CreatedAt = existing.CreatedAt
	} else {
		v.CreatedAt = e.nowStr()
	}
	v.UpdatedAt = e.nowStr()
	if err := e.Repo.UpsertVehicle(ctx, tx, v); err != nil {
		return v, err
	}
	if err := e.Events.Append(ctx, tx, "vehicle.upserted", v.DepotID, "vehicle", v.ID, actorID, events.EventPayload{"registration": v.Registration}); err != nil {
		return v, err
	}
	if err := tx.Commit(); err != nil {
		return v, err
	}
	return v, nil
}
