package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gasline/internal/domain"
	"gasline/internal/engine/gate"
	"gasline/internal/events"
)

var runTransitions = map[domain.RunStatus][]domain.RunStatus{
	domain.RunPlanned:    {domain.RunReady, domain.RunCancelled},
	domain.RunReady:      {domain.RunInProgress, domain.RunCancelled},
	domain.RunInProgress: {domain.RunCompleted, domain.RunCancelled},
}

var stopTransitions = map[domain.StopStatus][]domain.StopStatus{
	domain.StopPending:    {domain.StopInProgress, domain.StopSkipped},
	domain.StopInProgress: {domain.StopCompleted, domain.StopFailed, domain.StopSkipped},
}

func ensureRunTransition(id string, from, to domain.RunStatus) error {
	for _, allowed := range runTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "run", ID: id, From: string(from), To: string(to)}
}

func ensureStopTransition(id string, from, to domain.StopStatus) error {
	for _, allowed := range stopTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "stop", ID: id, From: string(from), To: string(to)}
}

func (e Engine) CreateRun(ctx context.Context, depotID, vehicleID, driverID, actorID string) (domain.ScheduleRun, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleRun{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetVehicle(ctx, tx, vehicleID); err != nil {
		return domain.ScheduleRun{}, fmt.Errorf("vehicle %s: %w", vehicleID, err)
	}
	if _, err := e.Repo.GetDriver(ctx, tx, driverID); err != nil {
		return domain.ScheduleRun{}, fmt.Errorf("driver %s: %w", driverID, err)
	}
	run := domain.ScheduleRun{
		ID:        uuid.New().String(),
		DepotID:   depotID,
		VehicleID: vehicleID,
		DriverID:  driverID,
		Status:    domain.RunPlanned,
		CreatedAt: e.nowStr(),
		UpdatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return run, fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "run.created", depotID, "run", run.ID, actorID, events.EventPayload{
		"vehicle_id": vehicleID,
		"driver_id":  driverID,
	}); err != nil {
		return run, err
	}
	if err := tx.Commit(); err != nil {
		return run, err
	}
	return run, nil
}

// AddStop appends an order to a planned run and binds the run's driver
// and vehicle onto the order.
func (e Engine) AddStop(ctx context.Context, runID, orderID string, sequence int, eta, actorID string) (domain.ScheduleStop, error) {
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return domain.ScheduleStop{}, err
	}
	if run.Status != domain.RunPlanned {
		return domain.ScheduleStop{}, &InvalidTransitionError{Entity: "run", ID: run.ID, From: string(run.Status), To: "stop added"}
	}
	if sequence <= 0 {
		return domain.ScheduleStop{}, &InvalidQuantityError{Field: "stop sequence", Requested: sequence, Allowed: 0}
	}
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.ScheduleStop{}, err
	}
	if o.DepotID != run.DepotID {
		return domain.ScheduleStop{}, fmt.Errorf("order %s not in depot %s", orderID, run.DepotID)
	}
	if o.ScheduleRunID != nil && *o.ScheduleRunID != runID {
		return domain.ScheduleStop{}, fmt.Errorf("order %s already on run %s", orderID, *o.ScheduleRunID)
	}
	for _, s := range run.Stops {
		if s.OrderID == orderID {
			return domain.ScheduleStop{}, fmt.Errorf("order %s already on this run", orderID)
		}
		if s.Sequence == sequence {
			return domain.ScheduleStop{}, fmt.Errorf("sequence %d already taken by stop %s", sequence, s.ID)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleStop{}, err
	}
	defer tx.Rollback()

	stop := domain.ScheduleStop{
		ID:       uuid.New().String(),
		RunID:    runID,
		OrderID:  orderID,
		Sequence: sequence,
		Status:   domain.StopPending,
	}
	if eta != "" {
		stop.EstimatedArrival = &eta
	}
	if err := e.Repo.InsertStop(ctx, tx, stop); err != nil {
		return stop, fmt.Errorf("insert stop: %w", err)
	}
	if err := e.Repo.UpdateOrderAssignment(ctx, tx, o.ID, &run.DriverID, &run.VehicleID, &runID, e.nowStr()); err != nil {
		return stop, err
	}
	if err := e.Events.Append(ctx, tx, "run.stop.added", run.DepotID, "run", run.ID, actorID, events.EventPayload{
		"order_id": orderID,
		"sequence": sequence,
	}); err != nil {
		return stop, err
	}
	if err := tx.Commit(); err != nil {
		return stop, err
	}
	return stop, nil
}

// readyEligible lists the order statuses a stop may reference when its run
// locks the plan: scheduled or later, not yet off the truck.
var readyEligible = map[domain.OrderStatus]bool{
	domain.OrderScheduled:  true,
	domain.OrderPrepared:   true,
	domain.OrderLoading:    true,
	domain.OrderDispatched: true,
}

// ReadyRun locks the plan. Stops must exist, their sequences must be a
// gapless 1..N run, and every referenced order must be scheduled or later.
func (e Engine) ReadyRun(ctx context.Context, runID, actorID string) (domain.ScheduleRun, error) {
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return run, err
	}
	if err := ensureRunTransition(run.ID, run.Status, domain.RunReady); err != nil {
		return run, err
	}
	if len(run.Stops) == 0 {
		return run, errors.New("run has no stops")
	}
	seen := map[int]bool{}
	for _, s := range run.Stops {
		seen[s.Sequence] = true
	}
	for i := 1; i <= len(run.Stops); i++ {
		if !seen[i] {
			return run, fmt.Errorf("stop sequences must cover 1..%d without gaps; missing %d", len(run.Stops), i)
		}
	}
	for _, s := range run.Stops {
		o, err := e.Repo.GetOrder(ctx, s.OrderID)
		if err != nil {
			return run, err
		}
		if !readyEligible[o.Status] {
			return run, &InvalidTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: "run ready"}
		}
	}
	return e.transitionRun(ctx, run, domain.RunReady, actorID)
}

// CompleteLoading loads a ready run in one pass: every stop's order is
// walked through prepared and loading, its cylinders leave full stock as
// issued, and the order lands on dispatched. The run stays ready until
// StartRun takes it out of the yard. When loaded quantities are supplied
// they must match the ordered totals per size.
func (e Engine) CompleteLoading(ctx context.Context, runID string, loaded map[domain.CylinderSize]int, actorID string) (domain.ScheduleRun, error) {
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return run, err
	}
	if run.Status != domain.RunReady {
		return run, &InvalidTransitionError{Entity: "run", ID: run.ID, From: string(run.Status), To: "loading complete"}
	}
	cfg, err := e.configFor(ctx, run.DepotID)
	if err != nil {
		return run, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return run, err
	}
	defer tx.Rollback()

	orders := make([]domain.Order, 0, len(run.Stops))
	totals := map[domain.CylinderSize]int{}
	for _, s := range run.Stops {
		o, err := e.Repo.GetOrderTx(ctx, tx, s.OrderID)
		if err != nil {
			return run, err
		}
		switch o.Status {
		case domain.OrderScheduled, domain.OrderPrepared, domain.OrderLoading:
		default:
			return run, &InvalidTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(domain.OrderDispatched)}
		}
		for size, qty := range itemTotals(o.Items) {
			totals[size] += qty
		}
		orders = append(orders, o)
	}
	if loaded != nil {
		for size, qty := range loaded {
			if totals[size] != qty {
				return run, &InvalidQuantityError{Field: "loaded quantity for " + string(size), Requested: qty, Allowed: totals[size]}
			}
		}
		for size, qty := range totals {
			if _, ok := loaded[size]; !ok {
				return run, &InvalidQuantityError{Field: "loaded quantity for " + string(size), Requested: 0, Allowed: qty}
			}
		}
	}

	targets := []gate.Target{
		{EntityType: "vehicle", EntityID: run.VehicleID},
		{EntityType: "driver", EntityID: run.DriverID},
	}
	for _, o := range orders {
		targets = append(targets, gate.Target{EntityType: "order", EntityID: o.ID})
	}
	if err := e.Gate.Evaluate(ctx, tx, cfg, run.DepotID, targets); err != nil {
		return run, err
	}

	for i := range orders {
		o := &orders[i]
		if o.Status == domain.OrderScheduled {
			if err := e.moveOrderTx(ctx, tx, o, domain.OrderPrepared, actorID, events.EventPayload{"run_id": run.ID}); err != nil {
				return run, err
			}
		}
		if o.Status == domain.OrderPrepared {
			if err := e.moveOrderTx(ctx, tx, o, domain.OrderLoading, actorID, events.EventPayload{"run_id": run.ID}); err != nil {
				return run, err
			}
		}
		for size, qty := range itemTotals(o.Items) {
			if _, err := e.Ledger.Append(ctx, tx, domain.CylinderMovement{
				DepotID:        run.DepotID,
				CylinderSize:   size,
				MovementType:   domain.MovementIssuedToDelivery,
				Quantity:       qty,
				RelatedOrderID: &o.ID,
				ActorID:        actorID,
			}); err != nil {
				return run, err
			}
		}
		if err := e.moveOrderTx(ctx, tx, o, domain.OrderDispatched, actorID, events.EventPayload{"run_id": run.ID}); err != nil {
			return run, err
		}
	}
	if err := e.Events.Append(ctx, tx, "run.loading_completed", run.DepotID, "run", run.ID, actorID, events.EventPayload{
		"orders": len(orders),
	}); err != nil {
		return run, err
	}
	if err := tx.Commit(); err != nil {
		return run, err
	}
	return run, nil
}

// StartRun moves a ready run out of the yard. The checklist gate covers
// the vehicle and the driver; every stop's order moves dispatched ->
// in_transit alongside the run.
func (e Engine) StartRun(ctx context.Context, runID, actorID string) (domain.ScheduleRun, error) {
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return run, err
	}
	if err := ensureRunTransition(run.ID, run.Status, domain.RunInProgress); err != nil {
		return run, err
	}
	cfg, err := e.configFor(ctx, run.DepotID)
	if err != nil {
		return run, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return run, err
	}
	defer tx.Rollback()

	if err := e.Gate.Evaluate(ctx, tx, cfg, run.DepotID, []gate.Target{
		{EntityType: "vehicle", EntityID: run.VehicleID},
		{EntityType: "driver", EntityID: run.DriverID},
	}); err != nil {
		return run, err
	}
	for _, s := range run.Stops {
		o, err := e.Repo.GetOrderTx(ctx, tx, s.OrderID)
		if err != nil {
			return run, err
		}
		if o.Status != domain.OrderDispatched {
			return run, &InvalidTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(domain.OrderInTransit)}
		}
		if err := e.moveOrderTx(ctx, tx, &o, domain.OrderInTransit, actorID, events.EventPayload{"run_id": run.ID}); err != nil {
			return run, err
		}
	}
	if err := e.moveRunTx(ctx, tx, &run, domain.RunInProgress, actorID); err != nil {
		return run, err
	}
	if err := tx.Commit(); err != nil {
		return run, err
	}
	return run, nil
}

// CancelRun aborts a run at any point before completion. Stops not yet
// visited are skipped and their orders unassigned; a stop already under
// way keeps its order bound so the delivery can be finished or the order
// cancelled on its own.
func (e Engine) CancelRun(ctx context.Context, runID, actorID string) (domain.ScheduleRun, error) {
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return run, err
	}
	if err := ensureRunTransition(run.ID, run.Status, domain.RunCancelled); err != nil {
		return run, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return run, err
	}
	defer tx.Rollback()
	for _, s := range run.Stops {
		if s.Status != domain.StopPending {
			continue
		}
		if run.Status == domain.RunInProgress {
			ok, err := e.Repo.UpdateStopStatus(ctx, tx, s.ID, domain.StopPending, domain.StopSkipped)
			if err != nil {
				return run, err
			}
			if !ok {
				return run, &StaleTransitionError{Entity: "stop", ID: s.ID, Expected: string(domain.StopPending)}
			}
		}
		if err := e.Repo.UpdateOrderAssignment(ctx, tx, s.OrderID, nil, nil, nil, e.nowStr()); err != nil {
			return run, err
		}
	}
	if err := e.moveRunTx(ctx, tx, &run, domain.RunCancelled, actorID); err != nil {
		return run, err
	}
	if err := tx.Commit(); err != nil {
		return run, err
	}
	return run, nil
}

func (e Engine) transitionRun(ctx context.Context, run domain.ScheduleRun, to domain.RunStatus, actorID string) (domain.ScheduleRun, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return run, err
	}
	defer tx.Rollback()
	if err := e.moveRunTx(ctx, tx, &run, to, actorID); err != nil {
		return run, err
	}
	if err := tx.Commit(); err != nil {
		return run, err
	}
	return run, nil
}

func (e Engine) moveRunTx(ctx context.Context, tx *sql.Tx, run *domain.ScheduleRun, to domain.RunStatus, actorID string) error {
	ok, err := e.Repo.UpdateRunStatus(ctx, tx, run.ID, run.Status, to, e.nowStr())
	if err != nil {
		return err
	}
	if !ok {
		return &StaleTransitionError{Entity: "run", ID: run.ID, Expected: string(run.Status)}
	}
	if err := e.Events.Append(ctx, tx, "run."+string(to), run.DepotID, "run", run.ID, actorID, events.EventPayload{
		"from_status": string(run.Status),
		"to_status":   string(to),
	}); err != nil {
		return err
	}
	run.Status = to
	run.UpdatedAt = e.nowStr()
	return nil
}

// ArriveStop marks the truck at the customer: stop pending ->
// in_progress, order in_transit -> arrived.
func (e Engine) ArriveStop(ctx context.Context, stopID, actorID string) (domain.ScheduleStop, error) {
	stop, err := e.Repo.GetStop(ctx, nil, stopID)
	if err != nil {
		return stop, err
	}
	if err := ensureStopTransition(stop.ID, stop.Status, domain.StopInProgress); err != nil {
		return stop, err
	}
	run, err := e.Repo.GetRun(ctx, stop.RunID)
	if err != nil {
		return stop, err
	}
	if run.Status != domain.RunInProgress {
		return stop, &InvalidTransitionError{Entity: "run", ID: run.ID, From: string(run.Status), To: "stop arrival"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return stop, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateStopStatus(ctx, tx, stop.ID, stop.Status, domain.StopInProgress)
	if err != nil {
		return stop, err
	}
	if !ok {
		return stop, &StaleTransitionError{Entity: "stop", ID: stop.ID, Expected: string(stop.Status)}
	}
	arrived := e.nowStr()
	if err := e.Repo.SetStopArrival(ctx, tx, stop.ID, arrived); err != nil {
		return stop, err
	}
	o, err := e.Repo.GetOrderTx(ctx, tx, stop.OrderID)
	if err != nil {
		return stop, err
	}
	if o.Status == domain.OrderInTransit {
		if err := e.moveOrderTx(ctx, tx, &o, domain.OrderArrived, actorID, events.EventPayload{"stop_id": stop.ID}); err != nil {
			return stop, err
		}
	}
	if err := e.Events.Append(ctx, tx, "run.stop.arrived", run.DepotID, "stop", stop.ID, actorID, events.EventPayload{"order_id": stop.OrderID}); err != nil {
		return stop, err
	}
	if err := tx.Commit(); err != nil {
		return stop, err
	}
	stop.Status = domain.StopInProgress
	stop.ActualArrival = &arrived
	return stop, nil
}

// CompleteStop records the delivery at the stop and derives the order
// outcome from the reported lines. When every stop on the run is
// terminal the run completes in the same transaction.
func (e Engine) CompleteStop(ctx context.Context, stopID string, lines []DeliveryLine, actorID string) (domain.ScheduleStop, error) {
	return e.finishStop(ctx, stopID, domain.StopCompleted, lines, actorID)
}

// FailStop records a stop where nothing could be delivered.
func (e Engine) FailStop(ctx context.Context, stopID, actorID string) (domain.ScheduleStop, error) {
	return e.finishStop(ctx, stopID, domain.StopFailed, nil, actorID)
}

// SkipStop bypasses a stop that is pending or already under way; the order
// leaves the run untouched in its current status and keeps its own path to
// an outcome or cancellation.
func (e Engine) SkipStop(ctx context.Context, stopID, actorID string) (domain.ScheduleStop, error) {
	return e.finishStop(ctx, stopID, domain.StopSkipped, nil, actorID)
}

func (e Engine) finishStop(ctx context.Context, stopID string, to domain.StopStatus, lines []DeliveryLine, actorID string) (domain.ScheduleStop, error) {
	stop, err := e.Repo.GetStop(ctx, nil, stopID)
	if err != nil {
		return stop, err
	}
	if err := ensureStopTransition(stop.ID, stop.Status, to); err != nil {
		return stop, err
	}
	run, err := e.Repo.GetRun(ctx, stop.RunID)
	if err != nil {
		return stop, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return stop, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateStopStatus(ctx, tx, stop.ID, stop.Status, to)
	if err != nil {
		return stop, err
	}
	if !ok {
		return stop, &StaleTransitionError{Entity: "stop", ID: stop.ID, Expected: string(stop.Status)}
	}
	completed := e.nowStr()
	if err := e.Repo.SetStopCompleted(ctx, tx, stop.ID, completed); err != nil {
		return stop, err
	}

	o, err := e.Repo.GetOrderTx(ctx, tx, stop.OrderID)
	if err != nil {
		return stop, err
	}
	switch to {
	case domain.StopCompleted:
		if o.Status != domain.OrderArrived {
			return stop, &InvalidTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: "delivery outcome"}
		}
		if err := e.applyDelivery(ctx, tx, &o, lines, actorID); err != nil {
			return stop, err
		}
	case domain.StopFailed:
		if o.Status != domain.OrderArrived {
			return stop, &InvalidTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(domain.OrderFailed)}
		}
		if err := e.applyDelivery(ctx, tx, &o, nil, actorID); err != nil {
			return stop, err
		}
	}
	if err := e.Events.Append(ctx, tx, "run.stop."+string(to), run.DepotID, "stop", stop.ID, actorID, events.EventPayload{"order_id": stop.OrderID}); err != nil {
		return stop, err
	}

	stops, err := e.Repo.ListStops(ctx, tx, run.ID)
	if err != nil {
		return stop, err
	}
	allDone := true
	for _, s := range stops {
		if !s.Status.Terminal() {
			allDone = false
			break
		}
	}
	if allDone && run.Status == domain.RunInProgress {
		if err := e.moveRunTx(ctx, tx, &run, domain.RunCompleted, actorID); err != nil {
			return stop, err
		}
	}
	if err := tx.Commit(); err != nil {
		return stop, err
	}
	stop.Status = to
	stop.CompletedAt = &completed
	return stop, nil
}
