package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gasline/internal/domain"
	"gasline/internal/engine/gate"
	"gasline/internal/events"
)

// quoteTransitions and orderTransitions are the only moves the machines
// accept. Everything else is rejected before any write happens.
var quoteTransitions = map[domain.QuoteStatus][]domain.QuoteStatus{
	domain.QuoteDraft:    {domain.QuoteSent, domain.QuoteRejected},
	domain.QuoteSent:     {domain.QuoteAccepted, domain.QuoteRejected, domain.QuoteExpired},
	domain.QuoteAccepted: {domain.QuoteConverted, domain.QuoteExpired},
}

var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderCreated:         {domain.OrderScheduled, domain.OrderCancelled},
	domain.OrderScheduled:       {domain.OrderPrepared, domain.OrderCancelled},
	domain.OrderPrepared:        {domain.OrderLoading, domain.OrderCancelled},
	domain.OrderLoading:         {domain.OrderDispatched, domain.OrderCancelled},
	domain.OrderDispatched:      {domain.OrderInTransit, domain.OrderCancelled},
	domain.OrderInTransit:       {domain.OrderArrived, domain.OrderCancelled},
	domain.OrderArrived:         {domain.OrderDelivered, domain.OrderPartialDelivery, domain.OrderFailed, domain.OrderCancelled},
	domain.OrderDelivered:       {domain.OrderClosed},
	domain.OrderPartialDelivery: {domain.OrderClosed},
	domain.OrderFailed:          {domain.OrderClosed},
}

func ensureQuoteTransition(id string, from, to domain.QuoteStatus) error {
	for _, allowed := range quoteTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "quote", ID: id, From: string(from), To: string(to)}
}

func ensureOrderTransition(id string, from, to domain.OrderStatus) error {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: "order", ID: id, From: string(from), To: string(to)}
}

func (e Engine) CreateQuote(ctx context.Context, depotID, customerID, actorID string) (domain.Quote, error) {
	if customerID == "" {
		return domain.Quote{}, errors.New("customer is required")
	}
	cfg, err := e.configFor(ctx, depotID)
	if err != nil {
		return domain.Quote{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quote{}, err
	}
	defer tx.Rollback()

	q := domain.Quote{
		ID:         uuid.New().String(),
		DepotID:    depotID,
		CustomerID: customerID,
		Status:     domain.QuoteDraft,
		CreatedAt:  e.nowStr(),
		UpdatedAt:  e.nowStr(),
	}
	if cfg.Quotes.ExpiryDays > 0 {
		exp := e.now().UTC().AddDate(0, 0, cfg.Quotes.ExpiryDays).Format(time.RFC3339)
		q.ExpiresAt = &exp
	}
	if err := e.Repo.InsertQuote(ctx, tx, q); err != nil {
		return domain.Quote{}, fmt.Errorf("insert quote: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "quote.created", depotID, "quote", q.ID, actorID, events.EventPayload{"customer_id": customerID}); err != nil {
		return domain.Quote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Quote{}, err
	}
	return q, nil
}

// TransitionQuote moves a quote along its lifecycle. Conversion goes
// through ConvertQuote instead so the order is created atomically.
func (e Engine) TransitionQuote(ctx context.Context, quoteID string, to domain.QuoteStatus, actorID string) (domain.Quote, error) {
	if to == domain.QuoteConverted {
		return domain.Quote{}, errors.New("use quote conversion to create the order")
	}
	q, err := e.Repo.GetQuote(ctx, quoteID)
	if err != nil {
		return q, err
	}
	if err := ensureQuoteTransition(q.ID, q.Status, to); err != nil {
		return q, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateQuoteStatus(ctx, tx, q.ID, q.Status, to, e.nowStr())
	if err != nil {
		return q, err
	}
	if !ok {
		return q, &StaleTransitionError{Entity: "quote", ID: q.ID, Expected: string(q.Status)}
	}
	if err := e.Events.Append(ctx, tx, "quote."+string(to), q.DepotID, "quote", q.ID, actorID, events.EventPayload{
		"from_status": string(q.Status),
		"to_status":   string(to),
	}); err != nil {
		return q, err
	}
	if err := tx.Commit(); err != nil {
		return q, err
	}
	q.Status = to
	q.UpdatedAt = e.nowStr()
	return q, nil
}

// ExpireQuotes sweeps sent and accepted quotes past their expiry.
func (e Engine) ExpireQuotes(ctx context.Context, depotID, actorID string) (int, error) {
	now := e.nowStr()
	var expired int
	for _, status := range []string{string(domain.QuoteSent), string(domain.QuoteAccepted)} {
		quotes, err := e.Repo.ListQuotes(ctx, depotID, status, 0)
		if err != nil {
			return expired, err
		}
		for _, q := range quotes {
			if q.ExpiresAt == nil || *q.ExpiresAt > now {
				continue
			}
			if _, err := e.TransitionQuote(ctx, q.ID, domain.QuoteExpired, actorID); err != nil {
				var stale *StaleTransitionError
				if errors.As(err, &stale) {
					continue
				}
				return expired, err
			}
			expired++
		}
	}
	return expired, nil
}

type OrderCreateOptions struct {
	DepotID    string
	CustomerID string
	SiteID     string
	Priority   int
	Items      []domain.OrderItem
	ActorID    string
}

func (e Engine) CreateOrder(ctx context.Context, opts OrderCreateOptions) (domain.Order, error) {
	o, err := e.newOrder(opts)
	if err != nil {
		return o, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	if err := e.insertOrderTx(ctx, tx, o, opts.ActorID, nil); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

func (e Engine) newOrder(opts OrderCreateOptions) (domain.Order, error) {
	if opts.CustomerID == "" {
		return domain.Order{}, errors.New("customer is required")
	}
	if opts.SiteID == "" {
		return domain.Order{}, errors.New("site is required")
	}
	if len(opts.Items) == 0 {
		return domain.Order{}, errors.New("order needs at least one item")
	}
	seen := map[string]bool{}
	for _, item := range opts.Items {
		if item.ProductID == "" {
			return domain.Order{}, errors.New("item product_id required")
		}
		if seen[item.ProductID] {
			return domain.Order{}, fmt.Errorf("duplicate item %s", item.ProductID)
		}
		seen[item.ProductID] = true
		if !domain.ValidCylinderSize(item.CylinderSize) {
			return domain.Order{}, fmt.Errorf("unknown cylinder size %q", item.CylinderSize)
		}
		if item.Quantity <= 0 {
			return domain.Order{}, &InvalidQuantityError{Field: "item quantity", Requested: item.Quantity, Allowed: 0}
		}
	}
	return domain.Order{
		ID:         uuid.New().String(),
		DepotID:    opts.DepotID,
		CustomerID: opts.CustomerID,
		SiteID:     opts.SiteID,
		Status:     domain.OrderCreated,
		Priority:   opts.Priority,
		Items:      opts.Items,
		CreatedAt:  e.nowStr(),
		UpdatedAt:  e.nowStr(),
	}, nil
}

func (e Engine) insertOrderTx(ctx context.Context, tx *sql.Tx, o domain.Order, actorID string, extra events.EventPayload) error {
	if err := e.Repo.InsertOrder(ctx, tx, o); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	payload := events.EventPayload{"customer_id": o.CustomerID, "site_id": o.SiteID}
	for k, v := range extra {
		payload[k] = v
	}
	return e.Events.Append(ctx, tx, "order.created", o.DepotID, "order", o.ID, actorID, payload)
}

// ConvertQuote creates an order from an accepted quote in one transaction.
func (e Engine) ConvertQuote(ctx context.Context, quoteID, siteID string, items []domain.OrderItem, priority int, actorID string) (domain.Order, error) {
	q, err := e.Repo.GetQuote(ctx, quoteID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := ensureQuoteTransition(q.ID, q.Status, domain.QuoteConverted); err != nil {
		return domain.Order{}, err
	}
	o, err := e.newOrder(OrderCreateOptions{
		DepotID:    q.DepotID,
		CustomerID: q.CustomerID,
		SiteID:     siteID,
		Priority:   priority,
		Items:      items,
	})
	if err != nil {
		return o, err
	}
	o.QuoteID = &q.ID

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.UpdateQuoteStatus(ctx, tx, q.ID, q.Status, domain.QuoteConverted, e.nowStr())
	if err != nil {
		return o, err
	}
	if !ok {
		return o, &StaleTransitionError{Entity: "quote", ID: q.ID, Expected: string(q.Status)}
	}
	if err := e.insertOrderTx(ctx, tx, o, actorID, events.EventPayload{"quote_id": q.ID}); err != nil {
		return o, err
	}
	if err := e.Repo.SetQuoteOrder(ctx, tx, q.ID, o.ID); err != nil {
		return o, err
	}
	if err := e.Events.Append(ctx, tx, "quote.converted", q.DepotID, "quote", q.ID, actorID, events.EventPayload{"order_id": o.ID}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// TransitionOrder handles the plain moves with no stock side effects.
// Dispatch, delivery outcomes and closing have their own operations.
func (e Engine) TransitionOrder(ctx context.Context, orderID string, to domain.OrderStatus, actorID string) (domain.Order, error) {
	switch to {
	case domain.OrderDispatched:
		return domain.Order{}, errors.New("use order dispatch")
	case domain.OrderDelivered, domain.OrderPartialDelivery, domain.OrderFailed:
		return domain.Order{}, errors.New("use delivery completion")
	case domain.OrderClosed:
		return domain.Order{}, errors.New("use order close")
	case domain.OrderCancelled:
		return e.CancelOrder(ctx, orderID, actorID)
	}
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	if err := ensureOrderTransition(o.ID, o.Status, to); err != nil {
		return o, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	if err := e.moveOrderTx(ctx, tx, &o, to, actorID, nil); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// moveOrderTx performs the optimistic status write plus the transition
// event. The caller has already checked the transition table.
func (e Engine) moveOrderTx(ctx context.Context, tx *sql.Tx, o *domain.Order, to domain.OrderStatus, actorID string, extra events.EventPayload) error {
	ok, err := e.Repo.UpdateOrderStatus(ctx, tx, o.ID, o.Status, to, e.nowStr())
	if err != nil {
		return err
	}
	if !ok {
		return &StaleTransitionError{Entity: "order", ID: o.ID, Expected: string(o.Status)}
	}
	payload := events.EventPayload{"from_status": string(o.Status), "to_status": string(to)}
	for k, v := range extra {
		payload[k] = v
	}
	if err := e.Events.Append(ctx, tx, "order."+string(to), o.DepotID, "order", o.ID, actorID, payload); err != nil {
		return err
	}
	o.Status = to
	o.UpdatedAt = e.nowStr()
	return nil
}

// ScheduleOrder assigns delivery resources and moves created -> scheduled.
func (e Engine) ScheduleOrder(ctx context.Context, orderID, driverID, vehicleID string, actorID string) (domain.Order, error) {
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	if err := ensureOrderTransition(o.ID, o.Status, domain.OrderScheduled); err != nil {
		return o, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	if driverID != "" {
		if _, err := e.Repo.GetDriver(ctx, tx, driverID); err != nil {
			return o, fmt.Errorf("driver %s: %w", driverID, err)
		}
		o.DriverID = &driverID
	}
	if vehicleID != "" {
		if _, err := e.Repo.GetVehicle(ctx, tx, vehicleID); err != nil {
			return o, fmt.Errorf("vehicle %s: %w", vehicleID, err)
		}
		o.VehicleID = &vehicleID
	}
	if err := e.Repo.UpdateOrderAssignment(ctx, tx, o.ID, o.DriverID, o.VehicleID, o.ScheduleRunID, e.nowStr()); err != nil {
		return o, err
	}
	if err := e.moveOrderTx(ctx, tx, &o, domain.OrderScheduled, actorID, nil); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// DispatchOrder moves loading -> dispatched. The checklist gate runs over
// the assigned vehicle and driver plus the order itself, and the loaded
// cylinders leave the full bucket as issued stock.
func (e Engine) DispatchOrder(ctx context.Context, orderID, actorID string) (domain.Order, error) {
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	if err := ensureOrderTransition(o.ID, o.Status, domain.OrderDispatched); err != nil {
		return o, err
	}
	cfg, err := e.configFor(ctx, o.DepotID)
	if err != nil {
		return o, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()

	targets := []gate.Target{{EntityType: "order", EntityID: o.ID}}
	if o.VehicleID != nil {
		targets = append(targets, gate.Target{EntityType: "vehicle", EntityID: *o.VehicleID})
	}
	if o.DriverID != nil {
		targets = append(targets, gate.Target{EntityType: "driver", EntityID: *o.DriverID})
	}
	if err := e.Gate.Evaluate(ctx, tx, cfg, o.DepotID, targets); err != nil {
		return o, err
	}

	for size, qty := range itemTotals(o.Items) {
		if _, err := e.Ledger.Append(ctx, tx, domain.CylinderMovement{
			DepotID:        o.DepotID,
			CylinderSize:   size,
			MovementType:   domain.MovementIssuedToDelivery,
			Quantity:       qty,
			RelatedOrderID: &o.ID,
			ActorID:        actorID,
		}); err != nil {
			return o, err
		}
	}
	if err := e.moveOrderTx(ctx, tx, &o, domain.OrderDispatched, actorID, nil); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// itemTotals sums ordered quantities per cylinder size.
func itemTotals(items []domain.OrderItem) map[domain.CylinderSize]int {
	totals := map[domain.CylinderSize]int{}
	for _, item := range items {
		totals[item.CylinderSize] += item.Quantity
	}
	return totals
}

// DeliveryLine reports the outcome at the customer for one order item.
type DeliveryLine struct {
	ProductID         string
	DeliveredQuantity int
	EmptiesCollected  int
}

// CompleteDelivery records the delivery outcome for an arrived order:
// full delivery, partial, or failed when nothing was handed over. Stock
// moves and item counters land in the same transaction as the status.
func (e Engine) CompleteDelivery(ctx context.Context, orderID string, lines []DeliveryLine, actorID string) (domain.Order, error) {
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	if o.Status != domain.OrderArrived {
		return o, &InvalidTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: "delivered"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	if err := e.applyDelivery(ctx, tx, &o, lines, actorID); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// applyDelivery validates the reported quantities against the order,
// appends the stock movements and moves the order to its outcome status.
func (e Engine) applyDelivery(ctx context.Context, tx *sql.Tx, o *domain.Order, lines []DeliveryLine, actorID string) error {
	byProduct := map[string]domain.OrderItem{}
	for _, item := range o.Items {
		byProduct[item.ProductID] = item
	}
	delivered := map[string]DeliveryLine{}
	for _, line := range lines {
		item, ok := byProduct[line.ProductID]
		if !ok {
			return fmt.Errorf("order %s has no item %s", o.ID, line.ProductID)
		}
		if line.DeliveredQuantity < 0 || line.EmptiesCollected < 0 {
			return &InvalidQuantityError{Field: "delivery line " + line.ProductID, Requested: line.DeliveredQuantity, Allowed: item.Quantity}
		}
		if line.DeliveredQuantity > item.Quantity {
			return &InvalidQuantityError{Field: "delivered quantity for " + line.ProductID, Requested: line.DeliveredQuantity, Allowed: item.Quantity}
		}
		delivered[line.ProductID] = line
	}

	total, deliveredTotal := 0, 0
	full := true
	for _, item := range o.Items {
		total += item.Quantity
		line := delivered[item.ProductID]
		deliveredTotal += line.DeliveredQuantity
		if line.DeliveredQuantity < item.Quantity {
			full = false
		}
	}
	outcome := domain.OrderFailed
	switch {
	case total > 0 && full:
		outcome = domain.OrderDelivered
	case deliveredTotal > 0:
		outcome = domain.OrderPartialDelivery
	}

	deliveredBySize := map[domain.CylinderSize]int{}
	collectedBySize := map[domain.CylinderSize]int{}
	for _, item := range o.Items {
		line := delivered[item.ProductID]
		if line.DeliveredQuantity > 0 || line.EmptiesCollected > 0 {
			deliveredBySize[item.CylinderSize] += line.DeliveredQuantity
			collectedBySize[item.CylinderSize] += line.EmptiesCollected
			d, c := line.DeliveredQuantity, line.EmptiesCollected
			if err := e.Repo.UpdateOrderItemDelivery(ctx, tx, o.ID, item.ProductID, &d, &c); err != nil {
				return err
			}
		}
	}
	for size, qty := range deliveredBySize {
		if qty == 0 {
			continue
		}
		if _, err := e.Ledger.Append(ctx, tx, domain.CylinderMovement{
			DepotID:        o.DepotID,
			CylinderSize:   size,
			MovementType:   domain.MovementDelivered,
			Quantity:       qty,
			RelatedOrderID: &o.ID,
			ActorID:        actorID,
		}); err != nil {
			return err
		}
	}
	// Empties handed over at the customer's site are returned_empty;
	// collected_empty is reserved for driver pickups outside an order.
	for size, qty := range collectedBySize {
		if qty == 0 {
			continue
		}
		if _, err := e.Ledger.Append(ctx, tx, domain.CylinderMovement{
			DepotID:        o.DepotID,
			CylinderSize:   size,
			MovementType:   domain.MovementReturnedEmpty,
			Quantity:       qty,
			RelatedOrderID: &o.ID,
			ActorID:        actorID,
		}); err != nil {
			return err
		}
	}
	return e.moveOrderTx(ctx, tx, o, outcome, actorID, events.EventPayload{"delivered_total": deliveredTotal})
}

// CloseOrder retires an order after its delivery outcome. Undelivered
// issued cylinders return to full stock.
func (e Engine) CloseOrder(ctx context.Context, orderID, actorID string) (domain.Order, error) {
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	if err := ensureOrderTransition(o.ID, o.Status, domain.OrderClosed); err != nil {
		return o, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()

	for size, remaining := range undeliveredBySize(o.Items) {
		if remaining <= 0 {
			continue
		}
		issued := domain.StockIssued
		fullStatus := domain.StockFull
		if _, err := e.Ledger.Append(ctx, tx, domain.CylinderMovement{
			DepotID:        o.DepotID,
			CylinderSize:   size,
			MovementType:   domain.MovementAdjustment,
			Quantity:       remaining,
			PreviousStatus: &issued,
			ActorID:        actorID,
			Notes:          "undelivered return to depot",
			RelatedOrderID: &o.ID,
		}); err != nil {
			return o, err
		}
		if _, err := e.Ledger.Append(ctx, tx, domain.CylinderMovement{
			DepotID:        o.DepotID,
			CylinderSize:   size,
			MovementType:   domain.MovementAdjustment,
			Quantity:       remaining,
			NewStatus:      &fullStatus,
			ActorID:        actorID,
			Notes:          "undelivered return to depot",
			RelatedOrderID: &o.ID,
		}); err != nil {
			return o, err
		}
	}
	if err := e.moveOrderTx(ctx, tx, &o, domain.OrderClosed, actorID, nil); err != nil {
		return o, err
	}
	if err := e.Repo.SetOrderClosedAt(ctx, tx, o.ID, e.nowStr()); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	closed := e.nowStr()
	o.ClosedAt = &closed
	return o, nil
}

// undeliveredBySize is the issued remainder per size after the outcome.
func undeliveredBySize(items []domain.OrderItem) map[domain.CylinderSize]int {
	res := map[domain.CylinderSize]int{}
	for _, item := range items {
		d := 0
		if item.DeliveredQuantity != nil {
			d = *item.DeliveredQuantity
		}
		res[item.CylinderSize] += item.Quantity - d
	}
	return res
}

// CancelOrder aborts an order before a delivery outcome is recorded.
// Before dispatch nothing has moved, so the status write is the whole
// cancellation. From dispatched onward the issued cylinders come back to
// the depot as an adjustment pair in the same transaction; already
// appended ledger entries are never touched.
func (e Engine) CancelOrder(ctx context.Context, orderID, actorID string) (domain.Order, error) {
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	if err := ensureOrderTransition(o.ID, o.Status, domain.OrderCancelled); err != nil {
		return o, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()

	switch o.Status {
	case domain.OrderDispatched, domain.OrderInTransit, domain.OrderArrived:
		for size, remaining := range undeliveredBySize(o.Items) {
			if remaining <= 0 {
				continue
			}
			issued := domain.StockIssued
			fullStatus := domain.StockFull
			if _, err := e.Ledger.Append(ctx, tx, domain.CylinderMovement{
				DepotID:        o.DepotID,
				CylinderSize:   size,
				MovementType:   domain.MovementAdjustment,
				Quantity:       remaining,
				PreviousStatus: &issued,
				ActorID:        actorID,
				Notes:          "cancelled, returned to depot",
				RelatedOrderID: &o.ID,
			}); err != nil {
				return o, err
			}
			if _, err := e.Ledger.Append(ctx, tx, domain.CylinderMovement{
				DepotID:        o.DepotID,
				CylinderSize:   size,
				MovementType:   domain.MovementAdjustment,
				Quantity:       remaining,
				NewStatus:      &fullStatus,
				ActorID:        actorID,
				Notes:          "cancelled, returned to depot",
				RelatedOrderID: &o.ID,
			}); err != nil {
				return o, err
			}
		}
	}
	if err := e.moveOrderTx(ctx, tx, &o, domain.OrderCancelled, actorID, nil); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}
