package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gasline/internal/config"
	"gasline/internal/domain"
	"gasline/internal/repo"
)

// ResolveDepotAndConfig picks the active depot and ensures a depot + config
// exist in DB, seeding defaults if missing. It prefers the override, then
// single-depot DB. If the depot does not exist, it is created on the fly.
func ResolveDepotAndConfig(ctx context.Context, depotOverride string, r repo.Repo) (string, *config.Config, error) {
	depotID := depotOverride
	if depotID == "" {
		if d, err := r.SingleDepot(ctx); err == nil {
			depotID = d.ID
		} else {
			return "", nil, fmt.Errorf("depot not specified; use --depot")
		}
	}
	seedCfg := config.Default(depotID)

	if _, err := r.GetDepot(ctx, depotID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createDepot(ctx, r, depotID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetDepotConfig(ctx, depotID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertDepotConfig(ctx, depotID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed depot config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Depot.ID = depotID
	return depotID, cfg, nil
}

// createDepot inserts a minimal depot footprint using the seed config.
func createDepot(ctx context.Context, r repo.Repo, depotID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(depotID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	d := domain.Depot{
		ID:        depotID,
		Name:      depotID,
		Status:    "active",
		CreatedAt: now,
	}
	if err := r.InsertDepot(ctx, tx, d); err != nil {
		return fmt.Errorf("insert depot: %w", err)
	}
	if err := r.UpsertDepotConfigTx(ctx, tx, depotID, seedCfg); err != nil {
		return fmt.Errorf("insert depot config: %w", err)
	}
	return tx.Commit()
}
