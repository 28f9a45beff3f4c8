package engine

import (
	"context"
	"fmt"

	"gasline/internal/domain"
	"gasline/internal/events"
	"gasline/internal/ledger"
)

// manualMovementTypes are the entries a yard operator may record
// directly. Lifecycle types (issued_to_delivery, delivered, filled, ...)
// only come from the machines that own them.
var manualMovementTypes = map[domain.MovementType]bool{
	domain.MovementReceived:        true,
	domain.MovementReturnedFull:    true,
	domain.MovementTransferIn:      true,
	domain.MovementInitialStock:    true,
	domain.MovementScrapped:        true,
	domain.MovementTransferOut:     true,
	domain.MovementReturnedEmpty:   true,
	domain.MovementCollectedEmpty:  true,
	domain.MovementDamaged:         true,
	domain.MovementAdjustment:      true,
	domain.MovementDepositPaid:     true,
	domain.MovementDepositRefunded: true,
}

// AppendMovement records a manually entered ledger entry.
func (e Engine) AppendMovement(ctx context.Context, m domain.CylinderMovement) (domain.CylinderMovement, error) {
	if !manualMovementTypes[m.MovementType] {
		return domain.CylinderMovement{}, fmt.Errorf("movement type %q is machine-managed", m.MovementType)
	}
	if _, err := e.Repo.GetDepot(ctx, m.DepotID); err != nil {
		return domain.CylinderMovement{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CylinderMovement{}, err
	}
	defer tx.Rollback()

	out, err := e.Ledger.Append(ctx, tx, m)
	if err != nil {
		return out, err
	}
	if err := e.Events.Append(ctx, tx, "movement.recorded", m.DepotID, "movement", out.ID, m.ActorID, events.EventPayload{
		"movement_type": string(m.MovementType),
		"cylinder_size": string(m.CylinderSize),
		"quantity":      m.Quantity,
	}); err != nil {
		return out, err
	}
	if err := tx.Commit(); err != nil {
		return out, err
	}
	return out, nil
}

// GetStock returns the maintained stock levels.
func (e Engine) GetStock(ctx context.Context, depotID string) (ledger.Projection, error) {
	if _, err := e.Repo.GetDepot(ctx, depotID); err != nil {
		return nil, err
	}
	return e.Ledger.CurrentLevels(ctx, depotID)
}

// ProjectStock folds the ledger, optionally up to a point in time.
func (e Engine) ProjectStock(ctx context.Context, depotID, asOf string) (ledger.Projection, error) {
	if _, err := e.Repo.GetDepot(ctx, depotID); err != nil {
		return nil, err
	}
	return e.Ledger.ProjectStock(ctx, depotID, asOf)
}

// VerifyStock cross-checks the running totals against a full ledger fold
// and returns the buckets that disagree.
func (e Engine) VerifyStock(ctx context.Context, depotID string) (map[ledger.StockKey][2]int, error) {
	levels, err := e.GetStock(ctx, depotID)
	if err != nil {
		return nil, err
	}
	folded, err := e.Ledger.ProjectStock(ctx, depotID, "")
	if err != nil {
		return nil, err
	}
	diff := map[ledger.StockKey][2]int{}
	for key, qty := range levels {
		if folded[key] != qty {
			diff[key] = [2]int{qty, folded[key]}
		}
	}
	for key, qty := range folded {
		if _, ok := levels[key]; !ok && qty != 0 {
			diff[key] = [2]int{0, qty}
		}
	}
	return diff, nil
}
