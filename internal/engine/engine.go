package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gasline/internal/config"
	"gasline/internal/domain"
	"gasline/internal/engine/gate"
	"gasline/internal/events"
	"gasline/internal/ledger"
	"gasline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Ledger ledger.Ledger
	Events events.Writer
	Gate   gate.Service
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Ledger: ledger.Ledger{DB: db},
		Events: events.Writer{DB: db},
		Gate:   gate.Service{Repo: r, Now: time.Now},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// configFor loads the depot's stored config, falling back to defaults for
// depots that were never given one.
func (e Engine) configFor(ctx context.Context, depotID string) (*config.Config, error) {
	cfg, err := e.Repo.GetDepotConfig(ctx, depotID)
	if errors.Is(err, repo.ErrNotFound) {
		return config.Default(depotID), nil
	}
	return cfg, err
}

// InitDepot creates a depot with its default config, migrations already run.
func (e Engine) InitDepot(ctx context.Context, depotID, name, actorID string) (domain.Depot, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Depot{}, err
	}
	defer tx.Rollback()

	if name == "" {
		name = depotID
	}
	d := domain.Depot{
		ID:        depotID,
		Name:      name,
		Status:    "active",
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertDepot(ctx, tx, d); err != nil {
		return domain.Depot{}, fmt.Errorf("insert depot: %w", err)
	}
	if err := e.Repo.UpsertDepotConfigTx(ctx, tx, d.ID, config.Default(d.ID)); err != nil {
		return domain.Depot{}, fmt.Errorf("insert depot config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "depot.init", d.ID, "depot", d.ID, actorID, events.EventPayload{"name": d.Name}); err != nil {
		return domain.Depot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Depot{}, err
	}
	return d, nil
}

// ImportDepotConfig replaces the depot's stored config after validation.
func (e Engine) ImportDepotConfig(ctx context.Context, depotID string, cfg *config.Config, actorID string) error {
	if _, err := e.Repo.GetDepot(ctx, depotID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertDepotConfigTx(ctx, tx, depotID, cfg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "depot.config.imported", depotID, "depot", depotID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
