package engine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"gasline/internal/domain"
	"gasline/internal/events"
)

var batchTransitions = map[domain.BatchStatus][]domain.BatchStatus{
	domain.BatchCreated:    {domain.BatchInspecting, domain.BatchFailed},
	domain.BatchInspecting: {domain.BatchFilling, domain.BatchFailed},
	domain.BatchFilling:    {domain.BatchQC, domain.BatchFailed},
	domain.BatchQC:         {domain.BatchPassed, domain.BatchFailed},
	domain.BatchPassed:     {domain.BatchStocked},
}

func ensureBatchTransition(id string, from, to domain.BatchStatus) error {
	for _, allowed := range batchTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "batch", ID: id, From: string(from), To: string(to)}
}

func (e Engine) CreateBatch(ctx context.Context, depotID string, size domain.CylinderSize, plannedCount int, actorID string) (domain.RefillBatch, error) {
	if !domain.ValidCylinderSize(size) {
		return domain.RefillBatch{}, errors.New("unknown cylinder size")
	}
	if plannedCount <= 0 {
		return domain.RefillBatch{}, &InvalidQuantityError{Field: "planned_count", Requested: plannedCount, Allowed: 0}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RefillBatch{}, err
	}
	defer tx.Rollback()

	b := domain.RefillBatch{
		ID:           uuid.New().String(),
		DepotID:      depotID,
		CylinderSize: size,
		PlannedCount: plannedCount,
		Status:       domain.BatchCreated,
		CreatedAt:    e.nowStr(),
		UpdatedAt:    e.nowStr(),
	}
	if err := e.Repo.InsertBatch(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.Events.Append(ctx, tx, "batch.created", depotID, "batch", b.ID, actorID, events.EventPayload{
		"cylinder_size": string(size),
		"planned_count": plannedCount,
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

func (e Engine) StartInspection(ctx context.Context, batchID, actorID string) (domain.RefillBatch, error) {
	return e.transitionBatch(ctx, batchID, domain.BatchInspecting, actorID, nil, nil)
}

// CompleteInspection records how many cylinders were inspected and how
// many may proceed to filling. A batch where nothing passes fails here.
func (e Engine) CompleteInspection(ctx context.Context, batchID string, inspected, passed int, actorID string) (domain.RefillBatch, error) {
	b, err := e.Repo.GetBatch(ctx, batchID)
	if err != nil {
		return b, err
	}
	if b.Status != domain.BatchInspecting {
		return b, &InvalidTransitionError{Entity: "batch", ID: b.ID, From: string(b.Status), To: string(domain.BatchFilling)}
	}
	if inspected <= 0 || inspected > b.PlannedCount {
		return b, &InvalidQuantityError{Field: "inspected_count", Requested: inspected, Allowed: b.PlannedCount}
	}
	if passed < 0 || passed > inspected {
		return b, &InvalidQuantityError{Field: "passed_inspection_count", Requested: passed, Allowed: inspected}
	}
	to := domain.BatchFilling
	reason := ""
	if passed == 0 {
		to = domain.BatchFailed
		reason = "no cylinders passed inspection"
	}
	counts := domain.RefillBatch{ID: b.ID, InspectedCount: &inspected, PassedInspectionCount: &passed, FailureReason: reason}
	return e.transitionBatch(ctx, batchID, to, actorID, &counts, events.EventPayload{
		"inspected_count":         inspected,
		"passed_inspection_count": passed,
	})
}

// CompleteFilling moves filling -> qc with the filled count, which cannot
// exceed what passed inspection.
func (e Engine) CompleteFilling(ctx context.Context, batchID string, filled int, actorID string) (domain.RefillBatch, error) {
	b, err := e.Repo.GetBatch(ctx, batchID)
	if err != nil {
		return b, err
	}
	if b.Status != domain.BatchFilling {
		return b, &InvalidTransitionError{Entity: "batch", ID: b.ID, From: string(b.Status), To: string(domain.BatchQC)}
	}
	limit := 0
	if b.PassedInspectionCount != nil {
		limit = *b.PassedInspectionCount
	}
	if filled <= 0 || filled > limit {
		return b, &InvalidQuantityError{Field: "filled_count", Requested: filled, Allowed: limit}
	}
	counts := domain.RefillBatch{ID: b.ID, FilledCount: &filled}
	return e.transitionBatch(ctx, batchID, domain.BatchQC, actorID, &counts, events.EventPayload{"filled_count": filled})
}

// CompleteQC ends quality control. Zero passing cylinders fails the
// batch, anything else moves it to passed awaiting stocking.
func (e Engine) CompleteQC(ctx context.Context, batchID string, qcPassed int, reason, actorID string) (domain.RefillBatch, error) {
	b, err := e.Repo.GetBatch(ctx, batchID)
	if err != nil {
		return b, err
	}
	if b.Status != domain.BatchQC {
		return b, &InvalidTransitionError{Entity: "batch", ID: b.ID, From: string(b.Status), To: string(domain.BatchPassed)}
	}
	limit := 0
	if b.FilledCount != nil {
		limit = *b.FilledCount
	}
	if qcPassed < 0 || qcPassed > limit {
		return b, &InvalidQuantityError{Field: "qc_passed_count", Requested: qcPassed, Allowed: limit}
	}
	to := domain.BatchPassed
	if qcPassed == 0 {
		to = domain.BatchFailed
		if reason == "" {
			reason = "no cylinders passed qc"
		}
	}
	counts := domain.RefillBatch{ID: b.ID, QCPassedCount: &qcPassed, FailureReason: reason}
	return e.transitionBatch(ctx, batchID, to, actorID, &counts, events.EventPayload{"qc_passed_count": qcPassed})
}

// FailBatch aborts a non-terminal batch with a reason.
func (e Engine) FailBatch(ctx context.Context, batchID, reason, actorID string) (domain.RefillBatch, error) {
	if reason == "" {
		return domain.RefillBatch{}, errors.New("failure reason required")
	}
	counts := domain.RefillBatch{ID: batchID, FailureReason: reason}
	return e.transitionBatch(ctx, batchID, domain.BatchFailed, actorID, &counts, events.EventPayload{"reason": reason})
}

// StockBatch lands the qc-passed cylinders in full stock. The ledger
// entry and the terminal batch status commit together.
func (e Engine) StockBatch(ctx context.Context, batchID, actorID string) (domain.RefillBatch, error) {
	b, err := e.Repo.GetBatch(ctx, batchID)
	if err != nil {
		return b, err
	}
	if err := ensureBatchTransition(b.ID, b.Status, domain.BatchStocked); err != nil {
		return b, err
	}
	if b.QCPassedCount == nil || *b.QCPassedCount <= 0 {
		return b, errors.New("batch has no qc-passed cylinders to stock")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()

	if err := e.moveBatchTx(ctx, tx, &b, domain.BatchStocked, actorID, events.EventPayload{"stocked_count": *b.QCPassedCount}); err != nil {
		return b, err
	}
	stockedAt := e.nowStr()
	update := domain.RefillBatch{ID: b.ID, StockedAt: &stockedAt, UpdatedAt: stockedAt}
	if err := e.Repo.UpdateBatchCounts(ctx, tx, update); err != nil {
		return b, err
	}
	if _, err := e.Ledger.Append(ctx, tx, domain.CylinderMovement{
		DepotID:        b.DepotID,
		CylinderSize:   b.CylinderSize,
		MovementType:   domain.MovementFilled,
		Quantity:       *b.QCPassedCount,
		RelatedBatchID: &b.ID,
		ActorID:        actorID,
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	b.StockedAt = &stockedAt
	return b, nil
}

func (e Engine) transitionBatch(ctx context.Context, batchID string, to domain.BatchStatus, actorID string, counts *domain.RefillBatch, payload events.EventPayload) (domain.RefillBatch, error) {
	b, err := e.Repo.GetBatch(ctx, batchID)
	if err != nil {
		return b, err
	}
	if err := ensureBatchTransition(b.ID, b.Status, to); err != nil {
		return b, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()

	if err := e.moveBatchTx(ctx, tx, &b, to, actorID, payload); err != nil {
		return b, err
	}
	if counts != nil {
		counts.UpdatedAt = e.nowStr()
		if err := e.Repo.UpdateBatchCounts(ctx, tx, *counts); err != nil {
			return b, err
		}
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return e.Repo.GetBatch(ctx, batchID)
}

func (e Engine) moveBatchTx(ctx context.Context, tx *sql.Tx, b *domain.RefillBatch, to domain.BatchStatus, actorID string, extra events.EventPayload) error {
	ok, err := e.Repo.UpdateBatchStatus(ctx, tx, b.ID, b.Status, to, e.nowStr())
	if err != nil {
		return err
	}
	if !ok {
		return &StaleTransitionError{Entity: "batch", ID: b.ID, Expected: string(b.Status)}
	}
	payload := events.EventPayload{"from_status": string(b.Status), "to_status": string(to)}
	for k, v := range extra {
		payload[k] = v
	}
	if err := e.Events.Append(ctx, tx, "batch."+string(to), b.DepotID, "batch", b.ID, actorID, payload); err != nil {
		return err
	}
	b.Status = to
	b.UpdatedAt = e.nowStr()
	return nil
}
