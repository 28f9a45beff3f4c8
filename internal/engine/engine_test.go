package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gasline/internal/db"
	"gasline/internal/domain"
	"gasline/internal/engine"
	"gasline/internal/engine/gate"
	"gasline/internal/ledger"
	"gasline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	fixed := func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }
	eng.Now = fixed
	eng.Gate.Now = fixed
	eng.Ledger.Now = fixed
	ctx := context.Background()
	if _, err := eng.InitDepot(ctx, "depot-1", "test depot", "tester"); err != nil {
		t.Fatalf("init depot: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func seedStock(t *testing.T, env testEnv, size domain.CylinderSize, qty int) {
	t.Helper()
	_, err := env.Engine.AppendMovement(env.Ctx, domain.CylinderMovement{
		DepotID:      "depot-1",
		CylinderSize: size,
		MovementType: domain.MovementReceived,
		Quantity:     qty,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func level(t *testing.T, env testEnv, size domain.CylinderSize, status domain.StockStatus) int {
	t.Helper()
	stock, err := env.Engine.GetStock(env.Ctx, "depot-1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return stock[ledger.StockKey{Size: size, Status: status}]
}

func newFleet(t *testing.T, env testEnv) (driverID, vehicleID string) {
	t.Helper()
	d, err := env.Engine.UpsertDriver(env.Ctx, domain.Driver{DepotID: "depot-1", Name: "Sam", LicenseNo: "DG-1"}, "tester")
	if err != nil {
		t.Fatalf("upsert driver: %v", err)
	}
	v, err := env.Engine.UpsertVehicle(env.Ctx, domain.Vehicle{DepotID: "depot-1", Registration: "TRK-001", CapacityKg: 2000}, "tester")
	if err != nil {
		t.Fatalf("upsert vehicle: %v", err)
	}
	return d.ID, v.ID
}

func passChecklist(t *testing.T, env testEnv, templateID, entityType, entityID string, items []string) {
	t.Helper()
	resp, err := env.Engine.StartChecklist(env.Ctx, "depot-1", templateID, entityType, entityID, "tester")
	if err != nil {
		t.Fatalf("start checklist %s: %v", templateID, err)
	}
	answers := make([]domain.ChecklistAnswer, 0, len(items))
	for _, id := range items {
		answers = append(answers, domain.ChecklistAnswer{ItemID: id, Passed: true})
	}
	if _, err := env.Engine.CompleteChecklist(env.Ctx, resp.ID, answers, "tester"); err != nil {
		t.Fatalf("complete checklist %s: %v", templateID, err)
	}
}

var (
	vehicleItems = []string{"brakes", "tyres", "load_restraints", "fire_extinguisher", "lights"}
	driverItems  = []string{"licence_current", "fit_for_duty"}
)

func passGateChecklists(t *testing.T, env testEnv, driverID, vehicleID string) {
	t.Helper()
	passChecklist(t, env, "vehicle.pre_trip", "vehicle", vehicleID, vehicleItems)
	passChecklist(t, env, "driver.fitness", "driver", driverID, driverItems)
}

func newLoadingOrder(t *testing.T, env testEnv, driverID, vehicleID string, qty int) domain.Order {
	t.Helper()
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		DepotID:    "depot-1",
		CustomerID: "cust-1",
		SiteID:     "site-1",
		Items:      []domain.OrderItem{{ProductID: "lpg-9", CylinderSize: domain.Size9kg, Quantity: qty}},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := env.Engine.ScheduleOrder(env.Ctx, o.ID, driverID, vehicleID, "tester"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderPrepared, "tester"); err != nil {
		t.Fatalf("to prepared: %v", err)
	}
	o, err = env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderLoading, "tester")
	if err != nil {
		t.Fatalf("to loading: %v", err)
	}
	return o
}

func TestQuoteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.CreateQuote(env.Ctx, "depot-1", "cust-1", "tester")
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}
	if q.Status != domain.QuoteDraft {
		t.Fatalf("expected draft, got %s", q.Status)
	}
	if q.ExpiresAt == nil || *q.ExpiresAt != "2024-03-15T08:00:00Z" {
		t.Fatalf("expected expiry 14 days out, got %v", q.ExpiresAt)
	}
	if _, err := env.Engine.TransitionQuote(env.Ctx, q.ID, domain.QuoteSent, "tester"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := env.Engine.TransitionQuote(env.Ctx, q.ID, domain.QuoteAccepted, "tester"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// conversion goes through ConvertQuote, never the plain transition
	if _, err := env.Engine.TransitionQuote(env.Ctx, q.ID, domain.QuoteConverted, "tester"); err == nil {
		t.Fatalf("expected direct conversion to be rejected")
	}
	o, err := env.Engine.ConvertQuote(env.Ctx, q.ID, "site-1", []domain.OrderItem{
		{ProductID: "lpg-9", CylinderSize: domain.Size9kg, Quantity: 4},
	}, 0, "tester")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if o.QuoteID == nil || *o.QuoteID != q.ID {
		t.Fatalf("order not linked to quote")
	}
	q, err = env.Engine.Repo.GetQuote(env.Ctx, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	if q.Status != domain.QuoteConverted {
		t.Fatalf("expected converted, got %s", q.Status)
	}
	// a converted quote is terminal
	if _, err := env.Engine.ConvertQuote(env.Ctx, q.ID, "site-1", o.Items, 0, "tester"); err == nil {
		t.Fatalf("expected second conversion to fail")
	}
}

func TestQuoteExpirySweep(t *testing.T) {
	env := newTestEnv(t)
	sent, err := env.Engine.CreateQuote(env.Ctx, "depot-1", "cust-1", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionQuote(env.Ctx, sent.ID, domain.QuoteSent, "tester"); err != nil {
		t.Fatal(err)
	}
	draft, err := env.Engine.CreateQuote(env.Ctx, "depot-1", "cust-2", "tester")
	if err != nil {
		t.Fatal(err)
	}
	env.Engine.Now = func() time.Time { return time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC) }
	n, err := env.Engine.ExpireQuotes(env.Ctx, "depot-1", "sweeper")
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	got, _ := env.Engine.Repo.GetQuote(env.Ctx, sent.ID)
	if got.Status != domain.QuoteExpired {
		t.Fatalf("sent quote should expire, got %s", got.Status)
	}
	got, _ = env.Engine.Repo.GetQuote(env.Ctx, draft.ID)
	if got.Status != domain.QuoteDraft {
		t.Fatalf("draft quote should be untouched, got %s", got.Status)
	}
}

func TestDispatchBlockedByChecklists(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 50)
	driverID, vehicleID := newFleet(t, env)
	o := newLoadingOrder(t, env, driverID, vehicleID, 10)

	_, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester")
	var blocked *gate.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.TemplateID != "vehicle.pre_trip" {
		t.Fatalf("expected vehicle gate first, got %s", blocked.TemplateID)
	}
	passChecklist(t, env, "vehicle.pre_trip", "vehicle", vehicleID, vehicleItems)
	_, err = env.Engine.DispatchOrder(env.Ctx, o.ID, "tester")
	if !errors.As(err, &blocked) || blocked.TemplateID != "driver.fitness" {
		t.Fatalf("expected driver gate, got %v", err)
	}
	passChecklist(t, env, "driver.fitness", "driver", driverID, driverItems)
	o2, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester")
	if err != nil {
		t.Fatalf("dispatch after checklists: %v", err)
	}
	if o2.Status != domain.OrderDispatched {
		t.Fatalf("expected dispatched, got %s", o2.Status)
	}
	if got := level(t, env, domain.Size9kg, domain.StockFull); got != 40 {
		t.Fatalf("full after dispatch = %d, want 40", got)
	}
	if got := level(t, env, domain.Size9kg, domain.StockIssued); got != 10 {
		t.Fatalf("issued after dispatch = %d, want 10", got)
	}
}

func TestDispatchFailedCriticalItemBlocks(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 50)
	driverID, vehicleID := newFleet(t, env)
	o := newLoadingOrder(t, env, driverID, vehicleID, 10)

	resp, err := env.Engine.StartChecklist(env.Ctx, "depot-1", "vehicle.pre_trip", "vehicle", vehicleID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	answers := []domain.ChecklistAnswer{
		{ItemID: "brakes", Passed: false, Note: "spongy pedal"},
		{ItemID: "tyres", Passed: true},
		{ItemID: "load_restraints", Passed: true},
		{ItemID: "fire_extinguisher", Passed: true},
		{ItemID: "lights", Passed: true},
	}
	done, err := env.Engine.CompleteChecklist(env.Ctx, resp.ID, answers, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.Blocked {
		t.Fatalf("expected failed critical item to block")
	}
	passChecklist(t, env, "driver.fitness", "driver", driverID, driverItems)
	_, err = env.Engine.DispatchOrder(env.Ctx, o.ID, "tester")
	var blocked *gate.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if len(blocked.FailedItems) != 1 || blocked.FailedItems[0] != "brakes" {
		t.Fatalf("expected brakes in failed items, got %v", blocked.FailedItems)
	}
	// a fresh passing response supersedes the failed one
	passChecklist(t, env, "vehicle.pre_trip", "vehicle", vehicleID, vehicleItems)
	if _, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatalf("dispatch after re-check: %v", err)
	}
}

func TestDispatchInsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 10)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	o := newLoadingOrder(t, env, driverID, vehicleID, 25)

	_, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester")
	var invalid ledger.InvalidMovementError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMovementError, got %v", err)
	}
	got, _ := env.Engine.Repo.GetOrder(env.Ctx, o.ID)
	if got.Status != domain.OrderLoading {
		t.Fatalf("order should stay loading, got %s", got.Status)
	}
	if full := level(t, env, domain.Size9kg, domain.StockFull); full != 10 {
		t.Fatalf("stock must be untouched, got %d", full)
	}
}

func TestFullDeliveryFlow(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 100)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	o := newLoadingOrder(t, env, driverID, vehicleID, 20)

	if _, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderInTransit, "tester"); err != nil {
		t.Fatalf("in transit: %v", err)
	}
	if _, err := env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderArrived, "tester"); err != nil {
		t.Fatalf("arrived: %v", err)
	}
	o2, err := env.Engine.CompleteDelivery(env.Ctx, o.ID, []engine.DeliveryLine{
		{ProductID: "lpg-9", DeliveredQuantity: 20, EmptiesCollected: 18},
	}, "tester")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if o2.Status != domain.OrderDelivered {
		t.Fatalf("expected delivered, got %s", o2.Status)
	}
	if got := level(t, env, domain.Size9kg, domain.StockIssued); got != 0 {
		t.Fatalf("issued = %d, want 0", got)
	}
	if got := level(t, env, domain.Size9kg, domain.StockAtCustomer); got != 2 {
		t.Fatalf("at_customer = %d, want 2", got)
	}
	if got := level(t, env, domain.Size9kg, domain.StockEmpty); got != 18 {
		t.Fatalf("empty = %d, want 18", got)
	}
	o3, err := env.Engine.CloseOrder(env.Ctx, o.ID, "tester")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if o3.ClosedAt == nil {
		t.Fatalf("expected closed_at set")
	}
	if got := level(t, env, domain.Size9kg, domain.StockFull); got != 80 {
		t.Fatalf("full after close = %d, want 80", got)
	}
}

func TestPartialDeliveryReturnsRemainderOnClose(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 100)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	o := newLoadingOrder(t, env, driverID, vehicleID, 20)
	if _, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, _ = env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderInTransit, "tester")
	_, _ = env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderArrived, "tester")

	o2, err := env.Engine.CompleteDelivery(env.Ctx, o.ID, []engine.DeliveryLine{
		{ProductID: "lpg-9", DeliveredQuantity: 15, EmptiesCollected: 10},
	}, "tester")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if o2.Status != domain.OrderPartialDelivery {
		t.Fatalf("expected partial_delivery, got %s", o2.Status)
	}
	if _, err := env.Engine.CloseOrder(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := level(t, env, domain.Size9kg, domain.StockIssued); got != 0 {
		t.Fatalf("issued = %d, want 0", got)
	}
	// 100 seeded, 15 at the customer, 5 came back
	if got := level(t, env, domain.Size9kg, domain.StockFull); got != 85 {
		t.Fatalf("full = %d, want 85", got)
	}
	diff, err := env.Engine.VerifyStock(env.Ctx, "depot-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(diff) != 0 {
		t.Fatalf("levels diverge from ledger fold: %v", diff)
	}
}

func TestFailedDeliveryOutcome(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 30)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	o := newLoadingOrder(t, env, driverID, vehicleID, 10)
	if _, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, _ = env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderInTransit, "tester")
	_, _ = env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderArrived, "tester")

	o2, err := env.Engine.CompleteDelivery(env.Ctx, o.ID, nil, "tester")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if o2.Status != domain.OrderFailed {
		t.Fatalf("expected failed, got %s", o2.Status)
	}
	if _, err := env.Engine.CloseOrder(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := level(t, env, domain.Size9kg, domain.StockFull); got != 30 {
		t.Fatalf("full = %d, want 30", got)
	}
}

func TestDeliveryQuantityValidation(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 30)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	o := newLoadingOrder(t, env, driverID, vehicleID, 10)
	if _, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, _ = env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderInTransit, "tester")
	_, _ = env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderArrived, "tester")

	_, err := env.Engine.CompleteDelivery(env.Ctx, o.ID, []engine.DeliveryLine{
		{ProductID: "lpg-9", DeliveredQuantity: 12},
	}, "tester")
	var invalid *engine.InvalidQuantityError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidQuantityError, got %v", err)
	}
	_, err = env.Engine.CompleteDelivery(env.Ctx, o.ID, []engine.DeliveryLine{
		{ProductID: "other", DeliveredQuantity: 1},
	}, "tester")
	if err == nil {
		t.Fatalf("expected unknown product to be rejected")
	}
}

func TestManualMovementRejectsLifecycleTypes(t *testing.T) {
	env := newTestEnv(t)
	for _, mt := range []domain.MovementType{
		domain.MovementIssuedToDelivery,
		domain.MovementDelivered,
		domain.MovementFilled,
		domain.MovementVarianceApproved,
	} {
		_, err := env.Engine.AppendMovement(env.Ctx, domain.CylinderMovement{
			DepotID:      "depot-1",
			CylinderSize: domain.Size9kg,
			MovementType: mt,
			Quantity:     1,
			ActorID:      "tester",
		})
		if err == nil {
			t.Fatalf("expected %s to be machine-managed", mt)
		}
	}
}

func TestBatchPipeline(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBatch(env.Ctx, "depot-1", domain.Size19kg, 100, "tester")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if _, err := env.Engine.StartInspection(env.Ctx, b.ID, "tester"); err != nil {
		t.Fatalf("start inspection: %v", err)
	}
	if _, err := env.Engine.CompleteInspection(env.Ctx, b.ID, 100, 95, "tester"); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if _, err := env.Engine.CompleteFilling(env.Ctx, b.ID, 95, "tester"); err != nil {
		t.Fatalf("filling: %v", err)
	}
	b2, err := env.Engine.CompleteQC(env.Ctx, b.ID, 93, "", "tester")
	if err != nil {
		t.Fatalf("qc: %v", err)
	}
	if b2.Status != domain.BatchPassed {
		t.Fatalf("expected passed, got %s", b2.Status)
	}
	b3, err := env.Engine.StockBatch(env.Ctx, b.ID, "tester")
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	if b3.StockedAt == nil {
		t.Fatalf("expected stocked_at set")
	}
	if got := level(t, env, domain.Size19kg, domain.StockFull); got != 93 {
		t.Fatalf("full = %d, want 93", got)
	}
}

func TestBatchStageOrderEnforced(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBatch(env.Ctx, "depot-1", domain.Size19kg, 50, "tester")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CompleteFilling(env.Ctx, b.ID, 40, "tester")
	var invalid *engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	_, err = env.Engine.StockBatch(env.Ctx, b.ID, "tester")
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	// counts above the upstream stage limit are rejected
	_, _ = env.Engine.StartInspection(env.Ctx, b.ID, "tester")
	_, err = env.Engine.CompleteInspection(env.Ctx, b.ID, 60, 60, "tester")
	var badQty *engine.InvalidQuantityError
	if !errors.As(err, &badQty) {
		t.Fatalf("expected InvalidQuantityError, got %v", err)
	}
}

func TestBatchFailsWhenNothingPasses(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBatch(env.Ctx, "depot-1", domain.Size48kg, 10, "tester")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = env.Engine.StartInspection(env.Ctx, b.ID, "tester")
	b2, err := env.Engine.CompleteInspection(env.Ctx, b.ID, 10, 0, "tester")
	if err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if b2.Status != domain.BatchFailed {
		t.Fatalf("expected failed, got %s", b2.Status)
	}
	if b2.FailureReason == "" {
		t.Fatalf("expected failure reason")
	}
	if got := level(t, env, domain.Size48kg, domain.StockFull); got != 0 {
		t.Fatalf("failed batch must not stock, got %d", got)
	}
}

func TestDailyCountCleanFinalizes(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 30)
	dc, err := env.Engine.SubmitDailyCount(env.Ctx, "depot-1", "2024-03-01", []engine.PhysicalCount{
		{CylinderSize: domain.Size9kg, StockStatus: domain.StockFull, Quantity: 30},
		{CylinderSize: domain.Size9kg, StockStatus: domain.StockEmpty, Quantity: 0},
	}, "counter")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if dc.Status != domain.CountFinalized {
		t.Fatalf("expected finalized, got %s", dc.Status)
	}
	if dc.ResolvedAt == nil || dc.ResolvedBy == nil {
		t.Fatalf("expected clean count to resolve itself")
	}
}

func TestDailyCountVarianceApproval(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 50)
	dc, err := env.Engine.SubmitDailyCount(env.Ctx, "depot-1", "2024-03-01", []engine.PhysicalCount{
		{CylinderSize: domain.Size9kg, StockStatus: domain.StockFull, Quantity: 48},
	}, "counter")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if dc.Status != domain.CountPendingReview {
		t.Fatalf("expected pending_review, got %s", dc.Status)
	}
	if len(dc.Items) != 1 || dc.Items[0].Variance != -2 {
		t.Fatalf("expected variance -2, got %+v", dc.Items)
	}
	// stock untouched while under review
	if got := level(t, env, domain.Size9kg, domain.StockFull); got != 50 {
		t.Fatalf("full = %d, want 50", got)
	}
	approved, err := env.Engine.ApproveCount(env.Ctx, dc.ID, "supervisor")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.CountApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	if got := level(t, env, domain.Size9kg, domain.StockFull); got != 48 {
		t.Fatalf("full after approval = %d, want 48", got)
	}
	// approval is one-shot
	if _, err := env.Engine.ApproveCount(env.Ctx, dc.ID, "supervisor"); err == nil {
		t.Fatalf("expected second approval to fail")
	}
}

func TestDailyCountRejectKeepsProjection(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 50)
	dc, err := env.Engine.SubmitDailyCount(env.Ctx, "depot-1", "2024-03-01", []engine.PhysicalCount{
		{CylinderSize: domain.Size9kg, StockStatus: domain.StockFull, Quantity: 48},
	}, "counter")
	if err != nil {
		t.Fatal(err)
	}
	rejected, err := env.Engine.RejectCount(env.Ctx, dc.ID, "supervisor")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.CountRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if got := level(t, env, domain.Size9kg, domain.StockFull); got != 50 {
		t.Fatalf("full = %d, want 50", got)
	}
	// a rejected count frees the date for a recount
	if _, err := env.Engine.SubmitDailyCount(env.Ctx, "depot-1", "2024-03-01", []engine.PhysicalCount{
		{CylinderSize: domain.Size9kg, StockStatus: domain.StockFull, Quantity: 50},
	}, "counter"); err != nil {
		t.Fatalf("resubmit after reject: %v", err)
	}
}

func TestDailyCountDuplicateDate(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 10)
	if _, err := env.Engine.SubmitDailyCount(env.Ctx, "depot-1", "2024-03-01", []engine.PhysicalCount{
		{CylinderSize: domain.Size9kg, StockStatus: domain.StockFull, Quantity: 10},
	}, "counter"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SubmitDailyCount(env.Ctx, "depot-1", "2024-03-01", []engine.PhysicalCount{
		{CylinderSize: domain.Size9kg, StockStatus: domain.StockFull, Quantity: 10},
	}, "counter")
	if err == nil {
		t.Fatalf("expected duplicate date to be rejected")
	}
}

func TestRunLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 100)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)

	run, err := env.Engine.CreateRun(env.Ctx, "depot-1", vehicleID, driverID, "tester")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	o1 := newLoadingOrder(t, env, driverID, vehicleID, 10)
	o2 := newLoadingOrder(t, env, driverID, vehicleID, 5)
	stop1, err := env.Engine.AddStop(env.Ctx, run.ID, o1.ID, 1, "", "tester")
	if err != nil {
		t.Fatalf("add stop 1: %v", err)
	}
	stop2, err := env.Engine.AddStop(env.Ctx, run.ID, o2.ID, 2, "", "tester")
	if err != nil {
		t.Fatalf("add stop 2: %v", err)
	}
	if _, err := env.Engine.DispatchOrder(env.Ctx, o1.ID, "tester"); err != nil {
		t.Fatalf("dispatch o1: %v", err)
	}
	if _, err := env.Engine.DispatchOrder(env.Ctx, o2.ID, "tester"); err != nil {
		t.Fatalf("dispatch o2: %v", err)
	}
	if _, err := env.Engine.ReadyRun(env.Ctx, run.ID, "tester"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	started, err := env.Engine.StartRun(env.Ctx, run.ID, "tester")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.RunInProgress {
		t.Fatalf("expected in_progress, got %s", started.Status)
	}
	got, _ := env.Engine.Repo.GetOrder(env.Ctx, o1.ID)
	if got.Status != domain.OrderInTransit {
		t.Fatalf("order 1 should ride along, got %s", got.Status)
	}

	if _, err := env.Engine.ArriveStop(env.Ctx, stop1.ID, "driver"); err != nil {
		t.Fatalf("arrive stop 1: %v", err)
	}
	if _, err := env.Engine.CompleteStop(env.Ctx, stop1.ID, []engine.DeliveryLine{
		{ProductID: "lpg-9", DeliveredQuantity: 10, EmptiesCollected: 8},
	}, "driver"); err != nil {
		t.Fatalf("complete stop 1: %v", err)
	}
	if _, err := env.Engine.ArriveStop(env.Ctx, stop2.ID, "driver"); err != nil {
		t.Fatalf("arrive stop 2: %v", err)
	}
	if _, err := env.Engine.FailStop(env.Ctx, stop2.ID, "driver"); err != nil {
		t.Fatalf("fail stop 2: %v", err)
	}
	final, err := env.Engine.Repo.GetRun(env.Ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != domain.RunCompleted {
		t.Fatalf("run should complete once every stop is terminal, got %s", final.Status)
	}
	got, _ = env.Engine.Repo.GetOrder(env.Ctx, o1.ID)
	if got.Status != domain.OrderDelivered {
		t.Fatalf("order 1 = %s, want delivered", got.Status)
	}
	got, _ = env.Engine.Repo.GetOrder(env.Ctx, o2.ID)
	if got.Status != domain.OrderFailed {
		t.Fatalf("order 2 = %s, want failed", got.Status)
	}
}

func TestReadyRunRequiresGaplessSequences(t *testing.T) {
	env := newTestEnv(t)
	driverID, vehicleID := newFleet(t, env)
	run, err := env.Engine.CreateRun(env.Ctx, "depot-1", vehicleID, driverID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReadyRun(env.Ctx, run.ID, "tester"); err == nil {
		t.Fatalf("expected empty run to be rejected")
	}
	o := newLoadingOrder(t, env, driverID, vehicleID, 5)
	if _, err := env.Engine.AddStop(env.Ctx, run.ID, o.ID, 3, "", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReadyRun(env.Ctx, run.ID, "tester"); err == nil {
		t.Fatalf("expected gap in sequences to be rejected")
	}
}

func TestDeliveryRecordsReturnedEmpties(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 30)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	o := newLoadingOrder(t, env, driverID, vehicleID, 10)
	if _, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderInTransit, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderArrived, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteDelivery(env.Ctx, o.ID, []engine.DeliveryLine{
		{ProductID: "lpg-9", DeliveredQuantity: 10, EmptiesCollected: 4},
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	// empties handed over at the customer's site audit as returned_empty
	rows, err := env.Engine.DB.QueryContext(env.Ctx,
		`SELECT movement_type FROM cylinder_movements WHERE related_order_id=? ORDER BY created_at, id`, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	types := map[string]int{}
	for rows.Next() {
		var mt string
		if err := rows.Scan(&mt); err != nil {
			t.Fatal(err)
		}
		types[mt]++
	}
	if types[string(domain.MovementReturnedEmpty)] != 1 {
		t.Fatalf("returned_empty entries = %d, want 1 (all: %v)", types[string(domain.MovementReturnedEmpty)], types)
	}
	if types[string(domain.MovementCollectedEmpty)] != 0 {
		t.Fatalf("collected_empty must not appear on the delivery path: %v", types)
	}
	if got := level(t, env, domain.Size9kg, domain.StockEmpty); got != 4 {
		t.Fatalf("empty = %d, want 4", got)
	}
}

func TestCancelDispatchedOrderReturnsStock(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 30)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	o := newLoadingOrder(t, env, driverID, vehicleID, 10)
	if _, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := level(t, env, domain.Size9kg, domain.StockIssued); got != 10 {
		t.Fatalf("issued = %d, want 10", got)
	}
	cancelled, err := env.Engine.CancelOrder(env.Ctx, o.ID, "tester")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if got := level(t, env, domain.Size9kg, domain.StockFull); got != 30 {
		t.Fatalf("full = %d, want 30 after return", got)
	}
	if got := level(t, env, domain.Size9kg, domain.StockIssued); got != 0 {
		t.Fatalf("issued = %d, want 0 after return", got)
	}
	diff, err := env.Engine.VerifyStock(env.Ctx, "depot-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(diff) != 0 {
		t.Fatalf("projection drift after cancel: %v", diff)
	}
}

func TestCancelAfterOutcomeRejected(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 30)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	o := newLoadingOrder(t, env, driverID, vehicleID, 10)
	if _, err := env.Engine.DispatchOrder(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderInTransit, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderArrived, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteDelivery(env.Ctx, o.ID, []engine.DeliveryLine{
		{ProductID: "lpg-9", DeliveredQuantity: 10, EmptiesCollected: 10},
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.CancelOrder(env.Ctx, o.ID, "tester")
	var invalid *engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition cancelling a delivered order, got %v", err)
	}
}

func TestReadyRunRequiresScheduledOrders(t *testing.T) {
	env := newTestEnv(t)
	driverID, vehicleID := newFleet(t, env)
	run, err := env.Engine.CreateRun(env.Ctx, "depot-1", vehicleID, driverID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		DepotID:    "depot-1",
		CustomerID: "cust-1",
		SiteID:     "site-1",
		Items:      []domain.OrderItem{{ProductID: "lpg-9", CylinderSize: domain.Size9kg, Quantity: 5}},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddStop(env.Ctx, run.ID, o.ID, 1, "", "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ReadyRun(env.Ctx, run.ID, "tester")
	var invalid *engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition for unscheduled order, got %v", err)
	}
	if invalid.Entity != "order" || invalid.ID != o.ID {
		t.Fatalf("unexpected error detail: %+v", invalid)
	}
}

func TestCompleteLoadingDispatchesRunOrders(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 50)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	run, err := env.Engine.CreateRun(env.Ctx, "depot-1", vehicleID, driverID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	// one order left at scheduled, one walked on to loading
	o1, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		DepotID:    "depot-1",
		CustomerID: "cust-1",
		SiteID:     "site-1",
		Items:      []domain.OrderItem{{ProductID: "lpg-9", CylinderSize: domain.Size9kg, Quantity: 10}},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ScheduleOrder(env.Ctx, o1.ID, driverID, vehicleID, "tester"); err != nil {
		t.Fatal(err)
	}
	o2 := newLoadingOrder(t, env, driverID, vehicleID, 5)
	if _, err := env.Engine.AddStop(env.Ctx, run.ID, o1.ID, 1, "", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddStop(env.Ctx, run.ID, o2.ID, 2, "", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReadyRun(env.Ctx, run.ID, "tester"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := env.Engine.CompleteLoading(env.Ctx, run.ID, map[domain.CylinderSize]int{domain.Size9kg: 15}, "tester"); err != nil {
		t.Fatalf("complete loading: %v", err)
	}
	for _, id := range []string{o1.ID, o2.ID} {
		o, err := env.Engine.Repo.GetOrder(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if o.Status != domain.OrderDispatched {
			t.Fatalf("order %s status = %s, want dispatched", id, o.Status)
		}
	}
	if got := level(t, env, domain.Size9kg, domain.StockFull); got != 35 {
		t.Fatalf("full = %d, want 35", got)
	}
	if got := level(t, env, domain.Size9kg, domain.StockIssued); got != 15 {
		t.Fatalf("issued = %d, want 15", got)
	}
	started, err := env.Engine.StartRun(env.Ctx, run.ID, "tester")
	if err != nil {
		t.Fatalf("start after loading: %v", err)
	}
	if started.Status != domain.RunInProgress {
		t.Fatalf("run status = %s, want in_progress", started.Status)
	}
}

func TestCompleteLoadingValidatesQuantities(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 50)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	run, err := env.Engine.CreateRun(env.Ctx, "depot-1", vehicleID, driverID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	o := newLoadingOrder(t, env, driverID, vehicleID, 10)
	if _, err := env.Engine.AddStop(env.Ctx, run.ID, o.ID, 1, "", "tester"); err != nil {
		t.Fatal(err)
	}

	// not ready yet
	_, err = env.Engine.CompleteLoading(env.Ctx, run.ID, nil, "tester")
	var invalid *engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition on planned run, got %v", err)
	}

	if _, err := env.Engine.ReadyRun(env.Ctx, run.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CompleteLoading(env.Ctx, run.ID, map[domain.CylinderSize]int{domain.Size9kg: 12}, "tester")
	var qty *engine.InvalidQuantityError
	if !errors.As(err, &qty) {
		t.Fatalf("expected quantity mismatch, got %v", err)
	}
	if qty.Requested != 12 || qty.Allowed != 10 {
		t.Fatalf("unexpected mismatch detail: %+v", qty)
	}
	if got := level(t, env, domain.Size9kg, domain.StockFull); got != 50 {
		t.Fatalf("full = %d, want 50 after rejected load", got)
	}
}

func TestStartRunRequiresDispatchedOrders(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 50)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	run, err := env.Engine.CreateRun(env.Ctx, "depot-1", vehicleID, driverID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	o := newLoadingOrder(t, env, driverID, vehicleID, 5)
	if _, err := env.Engine.AddStop(env.Ctx, run.ID, o.ID, 1, "", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReadyRun(env.Ctx, run.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.StartRun(env.Ctx, run.ID, "tester")
	var invalid *engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError for undispatched order, got %v", err)
	}
}

func TestCancelRunUnassignsOrders(t *testing.T) {
	env := newTestEnv(t)
	driverID, vehicleID := newFleet(t, env)
	run, err := env.Engine.CreateRun(env.Ctx, "depot-1", vehicleID, driverID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	o := newLoadingOrder(t, env, driverID, vehicleID, 5)
	if _, err := env.Engine.AddStop(env.Ctx, run.ID, o.ID, 1, "", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CancelRun(env.Ctx, run.ID, "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := env.Engine.Repo.GetOrder(env.Ctx, o.ID)
	if got.ScheduleRunID != nil {
		t.Fatalf("order should be released from the cancelled run")
	}
}

func TestSkipStopUnderWay(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 30)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	run, err := env.Engine.CreateRun(env.Ctx, "depot-1", vehicleID, driverID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	o := newLoadingOrder(t, env, driverID, vehicleID, 10)
	stop, err := env.Engine.AddStop(env.Ctx, run.ID, o.ID, 1, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReadyRun(env.Ctx, run.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteLoading(env.Ctx, run.ID, nil, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartRun(env.Ctx, run.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ArriveStop(env.Ctx, stop.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	skipped, err := env.Engine.SkipStop(env.Ctx, stop.ID, "tester")
	if err != nil {
		t.Fatalf("skip in-progress stop: %v", err)
	}
	if skipped.Status != domain.StopSkipped {
		t.Fatalf("stop status = %s, want skipped", skipped.Status)
	}
	// the order keeps its own path to an outcome
	got, _ := env.Engine.Repo.GetOrder(env.Ctx, o.ID)
	if got.Status != domain.OrderArrived {
		t.Fatalf("order status = %s, want arrived", got.Status)
	}
	// skipping the last stop still completes the run
	doneRun, err := env.Engine.Repo.GetRun(env.Ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if doneRun.Status != domain.RunCompleted {
		t.Fatalf("run status = %s, want completed", doneRun.Status)
	}
}

func TestCancelInProgressRunSkipsPendingStops(t *testing.T) {
	env := newTestEnv(t)
	seedStock(t, env, domain.Size9kg, 50)
	driverID, vehicleID := newFleet(t, env)
	passGateChecklists(t, env, driverID, vehicleID)
	run, err := env.Engine.CreateRun(env.Ctx, "depot-1", vehicleID, driverID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	o1 := newLoadingOrder(t, env, driverID, vehicleID, 10)
	o2 := newLoadingOrder(t, env, driverID, vehicleID, 5)
	stop1, err := env.Engine.AddStop(env.Ctx, run.ID, o1.ID, 1, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	stop2, err := env.Engine.AddStop(env.Ctx, run.ID, o2.ID, 2, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReadyRun(env.Ctx, run.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteLoading(env.Ctx, run.ID, nil, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartRun(env.Ctx, run.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ArriveStop(env.Ctx, stop1.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	cancelled, err := env.Engine.CancelRun(env.Ctx, run.ID, "tester")
	if err != nil {
		t.Fatalf("cancel in progress: %v", err)
	}
	if cancelled.Status != domain.RunCancelled {
		t.Fatalf("run status = %s, want cancelled", cancelled.Status)
	}
	s2, err := env.Engine.Repo.GetStop(env.Ctx, nil, stop2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s2.Status != domain.StopSkipped {
		t.Fatalf("unvisited stop status = %s, want skipped", s2.Status)
	}
	got2, _ := env.Engine.Repo.GetOrder(env.Ctx, o2.ID)
	if got2.ScheduleRunID != nil {
		t.Fatalf("skipped stop's order should be unassigned")
	}
	// the stop already at the customer can still finish its delivery
	if _, err := env.Engine.CompleteStop(env.Ctx, stop1.ID, []engine.DeliveryLine{
		{ProductID: "lpg-9", DeliveredQuantity: 10, EmptiesCollected: 10},
	}, "tester"); err != nil {
		t.Fatalf("complete in-flight stop: %v", err)
	}
	got1, _ := env.Engine.Repo.GetOrder(env.Ctx, o1.ID)
	if got1.Status != domain.OrderDelivered {
		t.Fatalf("order status = %s, want delivered", got1.Status)
	}
}

func TestOptimisticStatusWrite(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		DepotID:    "depot-1",
		CustomerID: "cust-1",
		SiteID:     "site-1",
		Items:      []domain.OrderItem{{ProductID: "lpg-9", CylinderSize: domain.Size9kg, Quantity: 1}},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	ok, err := env.Engine.Repo.UpdateOrderStatus(env.Ctx, tx, o.ID, domain.OrderLoading, domain.OrderDispatched, "2024-03-01T08:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("status write must fail when the expected status is stale")
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		DepotID:    "depot-1",
		CustomerID: "cust-1",
		SiteID:     "site-1",
		Items:      []domain.OrderItem{{ProductID: "lpg-9", CylinderSize: domain.Size9kg, Quantity: 1}},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderScheduled, "tester")
	_, _ = env.Engine.TransitionOrder(env.Ctx, o.ID, domain.OrderPrepared, "tester")
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, o.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if count < 3 {
		t.Fatalf("expected multiple events, got %d", count)
	}
}
