package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gasline/internal/domain"
	"gasline/internal/events"
	"gasline/internal/ledger"
	"gasline/internal/repo"
)

// PhysicalCount is one counted bucket from the yard walk.
type PhysicalCount struct {
	CylinderSize domain.CylinderSize
	StockStatus  domain.StockStatus
	Quantity     int
}

// SubmitDailyCount compares the physical count against the ledger
// projection. A clean count finalizes immediately; any variance parks the
// count in pending_review for an approver.
func (e Engine) SubmitDailyCount(ctx context.Context, depotID, countDate string, counts []PhysicalCount, actorID string) (domain.DailyCount, error) {
	if countDate == "" {
		return domain.DailyCount{}, errors.New("count date required")
	}
	if len(counts) == 0 {
		return domain.DailyCount{}, errors.New("count needs at least one line")
	}
	seen := map[ledger.StockKey]bool{}
	for _, c := range counts {
		if !domain.ValidCylinderSize(c.CylinderSize) {
			return domain.DailyCount{}, fmt.Errorf("unknown cylinder size %q", c.CylinderSize)
		}
		if !domain.ValidStockStatus(c.StockStatus) {
			return domain.DailyCount{}, fmt.Errorf("unknown stock status %q", c.StockStatus)
		}
		if c.Quantity < 0 {
			return domain.DailyCount{}, &InvalidQuantityError{Field: "physical quantity", Requested: c.Quantity, Allowed: 0}
		}
		key := ledger.StockKey{Size: c.CylinderSize, Status: c.StockStatus}
		if seen[key] {
			return domain.DailyCount{}, fmt.Errorf("duplicate count line %s/%s", c.CylinderSize, c.StockStatus)
		}
		seen[key] = true
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DailyCount{}, err
	}
	defer tx.Rollback()

	if existing, err := e.Repo.CountForDate(ctx, tx, depotID, countDate); err == nil {
		return domain.DailyCount{}, fmt.Errorf("count for %s already exists (%s, %s)", countDate, existing.ID, existing.Status)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.DailyCount{}, err
	}

	dc := domain.DailyCount{
		ID:        uuid.New().String(),
		DepotID:   depotID,
		CountDate: countDate,
		ActorID:   actorID,
		CreatedAt: e.nowStr(),
	}
	clean := true
	for _, c := range counts {
		projected, err := e.Ledger.Level(ctx, tx, depotID, c.CylinderSize, c.StockStatus)
		if err != nil {
			return dc, err
		}
		variance := c.Quantity - projected
		if variance != 0 {
			clean = false
		}
		dc.Items = append(dc.Items, domain.DailyCountItem{
			CylinderSize:      c.CylinderSize,
			StockStatus:       c.StockStatus,
			PhysicalQuantity:  c.Quantity,
			ProjectedQuantity: projected,
			Variance:          variance,
		})
	}
	if clean {
		dc.Status = domain.CountFinalized
		now := e.nowStr()
		dc.ResolvedAt = &now
		dc.ResolvedBy = &actorID
	} else {
		dc.Status = domain.CountPendingReview
	}
	if err := e.Repo.InsertDailyCount(ctx, tx, dc); err != nil {
		return dc, err
	}
	if err := e.Events.Append(ctx, tx, "count.submitted", depotID, "count", dc.ID, actorID, events.EventPayload{
		"count_date": countDate,
		"status":     string(dc.Status),
	}); err != nil {
		return dc, err
	}
	if err := tx.Commit(); err != nil {
		return dc, err
	}
	return dc, nil
}

// ApproveCount accepts the physical numbers as truth. Each variance line
// becomes a variance_approved ledger entry that brings the projection in
// line with what was counted.
func (e Engine) ApproveCount(ctx context.Context, countID, actorID string) (domain.DailyCount, error) {
	dc, err := e.Repo.GetDailyCount(ctx, countID)
	if err != nil {
		return dc, err
	}
	if dc.Status != domain.CountPendingReview {
		return dc, &InvalidTransitionError{Entity: "count", ID: dc.ID, From: string(dc.Status), To: string(domain.CountApproved)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return dc, err
	}
	defer tx.Rollback()

	for _, item := range dc.Items {
		if item.Variance == 0 {
			continue
		}
		m := domain.CylinderMovement{
			DepotID:      dc.DepotID,
			CylinderSize: item.CylinderSize,
			MovementType: domain.MovementVarianceApproved,
			ActorID:      actorID,
			Notes:        fmt.Sprintf("daily count %s variance", dc.CountDate),
		}
		status := item.StockStatus
		if item.Variance > 0 {
			m.Quantity = item.Variance
			m.NewStatus = &status
		} else {
			m.Quantity = -item.Variance
			m.PreviousStatus = &status
		}
		if _, err := e.Ledger.Append(ctx, tx, m); err != nil {
			return dc, err
		}
	}
	ok, err := e.Repo.UpdateCountStatus(ctx, tx, dc.ID, dc.Status, domain.CountApproved, e.nowStr(), actorID)
	if err != nil {
		return dc, err
	}
	if !ok {
		return dc, &StaleTransitionError{Entity: "count", ID: dc.ID, Expected: string(dc.Status)}
	}
	if err := e.Events.Append(ctx, tx, "count.approved", dc.DepotID, "count", dc.ID, actorID, events.EventPayload{"count_date": dc.CountDate}); err != nil {
		return dc, err
	}
	if err := tx.Commit(); err != nil {
		return dc, err
	}
	return e.Repo.GetDailyCount(ctx, countID)
}

// RejectCount discards the physical numbers. The projection stands and a
// variance_rejected entry per variance line keeps the audit trail.
func (e Engine) RejectCount(ctx context.Context, countID, actorID string) (domain.DailyCount, error) {
	dc, err := e.Repo.GetDailyCount(ctx, countID)
	if err != nil {
		return dc, err
	}
	if dc.Status != domain.CountPendingReview {
		return dc, &InvalidTransitionError{Entity: "count", ID: dc.ID, From: string(dc.Status), To: string(domain.CountRejected)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return dc, err
	}
	defer tx.Rollback()

	for _, item := range dc.Items {
		if item.Variance == 0 {
			continue
		}
		qty := item.Variance
		if qty < 0 {
			qty = -qty
		}
		if _, err := e.Ledger.Append(ctx, tx, domain.CylinderMovement{
			DepotID:      dc.DepotID,
			CylinderSize: item.CylinderSize,
			MovementType: domain.MovementVarianceRejected,
			Quantity:     qty,
			ActorID:      actorID,
			Notes:        fmt.Sprintf("daily count %s variance rejected for %s", dc.CountDate, item.StockStatus),
		}); err != nil {
			return dc, err
		}
	}
	ok, err := e.Repo.UpdateCountStatus(ctx, tx, dc.ID, dc.Status, domain.CountRejected, e.nowStr(), actorID)
	if err != nil {
		return dc, err
	}
	if !ok {
		return dc, &StaleTransitionError{Entity: "count", ID: dc.ID, Expected: string(dc.Status)}
	}
	if err := e.Events.Append(ctx, tx, "count.rejected", dc.DepotID, "count", dc.ID, actorID, events.EventPayload{"count_date": dc.CountDate}); err != nil {
		return dc, err
	}
	if err := tx.Commit(); err != nil {
		return dc, err
	}
	return e.Repo.GetDailyCount(ctx, countID)
}
