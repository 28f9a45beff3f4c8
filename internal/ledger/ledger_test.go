package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gasline/internal/db"
	"gasline/internal/domain"
	"gasline/internal/migrate"
)

func newTestLedger(t *testing.T) (Ledger, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	if _, err := conn.ExecContext(ctx, `INSERT INTO depots(id,name,status,created_at) VALUES ('depot-1','test','active','2024-03-01T08:00:00Z')`); err != nil {
		t.Fatalf("seed depot: %v", err)
	}
	l := Ledger{DB: conn, Now: func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }}
	return l, ctx
}

func appendOne(t *testing.T, l Ledger, ctx context.Context, m domain.CylinderMovement) domain.CylinderMovement {
	t.Helper()
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	out, err := l.Append(ctx, tx, m)
	if err != nil {
		t.Fatalf("append %s: %v", m.MovementType, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return out
}

func tryAppend(l Ledger, ctx context.Context, m domain.CylinderMovement) error {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := l.Append(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func TestCanonicalShapes(t *testing.T) {
	issued := domain.StockIssued
	full := domain.StockFull
	empty := domain.StockEmpty
	cases := []struct {
		name string
		m    domain.CylinderMovement
		want map[domain.StockStatus]int
	}{
		{"received adds full", domain.CylinderMovement{MovementType: domain.MovementReceived, Quantity: 5},
			map[domain.StockStatus]int{domain.StockFull: 5}},
		{"issue moves full to issued", domain.CylinderMovement{MovementType: domain.MovementIssuedToDelivery, Quantity: 3},
			map[domain.StockStatus]int{domain.StockFull: -3, domain.StockIssued: 3}},
		{"delivered moves issued to customer", domain.CylinderMovement{MovementType: domain.MovementDelivered, Quantity: 3},
			map[domain.StockStatus]int{domain.StockIssued: -3, domain.StockAtCustomer: 3}},
		{"collected empties", domain.CylinderMovement{MovementType: domain.MovementCollectedEmpty, Quantity: 2},
			map[domain.StockStatus]int{domain.StockAtCustomer: -2, domain.StockEmpty: 2}},
		{"scrap leaves the system", domain.CylinderMovement{MovementType: domain.MovementScrapped, Quantity: 1},
			map[domain.StockStatus]int{domain.StockFull: -1}},
		{"damaged from empty", domain.CylinderMovement{MovementType: domain.MovementDamaged, Quantity: 1, PreviousStatus: &empty},
			map[domain.StockStatus]int{domain.StockEmpty: -1, domain.StockDamaged: 1}},
		{"adjustment adds via new_status", domain.CylinderMovement{MovementType: domain.MovementAdjustment, Quantity: 4, NewStatus: &full},
			map[domain.StockStatus]int{domain.StockFull: 4}},
		{"adjustment subtracts via previous_status", domain.CylinderMovement{MovementType: domain.MovementAdjustment, Quantity: 4, PreviousStatus: &issued},
			map[domain.StockStatus]int{domain.StockIssued: -4}},
		{"variance_rejected is audit only", domain.CylinderMovement{MovementType: domain.MovementVarianceRejected, Quantity: 4},
			map[domain.StockStatus]int{}},
		{"deposit_paid is audit only", domain.CylinderMovement{MovementType: domain.MovementDepositPaid, Quantity: 1},
			map[domain.StockStatus]int{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := tc.m
			deltas, err := canonicalize(&m)
			if err != nil {
				t.Fatalf("canonicalize: %v", err)
			}
			got := map[domain.StockStatus]int{}
			for _, d := range deltas {
				got[d.status] += d.qty
			}
			if len(got) != len(tc.want) {
				t.Fatalf("deltas = %v, want %v", got, tc.want)
			}
			for status, qty := range tc.want {
				if got[status] != qty {
					t.Fatalf("delta[%s] = %d, want %d", status, got[status], qty)
				}
			}
		})
	}
}

func TestCanonicalizeRejectsBadShapes(t *testing.T) {
	issued := domain.StockIssued
	full := domain.StockFull
	if _, err := canonicalize(&domain.CylinderMovement{MovementType: domain.MovementAdjustment, Quantity: 1}); err == nil {
		t.Fatalf("adjustment without a side must fail")
	}
	if _, err := canonicalize(&domain.CylinderMovement{MovementType: domain.MovementDamaged, Quantity: 1, PreviousStatus: &issued}); err == nil {
		t.Fatalf("damaged from issued must fail")
	}
	if _, err := canonicalize(&domain.CylinderMovement{MovementType: domain.MovementDamaged, Quantity: 1, NewStatus: &full}); err == nil {
		t.Fatalf("damaged into a non-damaged bucket must fail")
	}
	if _, err := canonicalize(&domain.CylinderMovement{MovementType: "made_up", Quantity: 1}); err == nil {
		t.Fatalf("unknown type must fail")
	}
}

// Debits go through UPDATE, not an upsert carrying a negative candidate
// row, so the stock_levels CHECK only sees the summed result.
func TestDebitExistingBucket(t *testing.T) {
	l, ctx := newTestLedger(t)
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementReceived, Quantity: 100, ActorID: "tester",
	})
	// debits the existing full row and creates the issued row
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementIssuedToDelivery, Quantity: 10, ActorID: "tester",
	})
	// pure debit with no credit side
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementScrapped, Quantity: 5, ActorID: "tester",
	})
	levels, err := l.CurrentLevels(ctx, "depot-1")
	if err != nil {
		t.Fatal(err)
	}
	if got := levels[StockKey{domain.Size9kg, domain.StockFull}]; got != 85 {
		t.Fatalf("full = %d, want 85", got)
	}
	if got := levels[StockKey{domain.Size9kg, domain.StockIssued}]; got != 10 {
		t.Fatalf("issued = %d, want 10", got)
	}
}

func TestAppendRejectsNegativeStock(t *testing.T) {
	l, ctx := newTestLedger(t)
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementReceived, Quantity: 5, ActorID: "tester",
	})
	err := tryAppend(l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementIssuedToDelivery, Quantity: 8, ActorID: "tester",
	})
	var invalid InvalidMovementError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMovementError, got %v", err)
	}
	if invalid.Available != 5 || invalid.Requested != 8 {
		t.Fatalf("unexpected error detail: %+v", invalid)
	}
	// the failed append leaves no row and no level change behind
	var rows int
	if err := l.DB.QueryRowContext(ctx, `SELECT count(*) FROM cylinder_movements WHERE depot_id='depot-1'`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Fatalf("movement rows = %d, want 1", rows)
	}
	levels, err := l.CurrentLevels(ctx, "depot-1")
	if err != nil {
		t.Fatal(err)
	}
	if levels[StockKey{domain.Size9kg, domain.StockFull}] != 5 {
		t.Fatalf("full = %d, want 5", levels[StockKey{domain.Size9kg, domain.StockFull}])
	}
}

func TestAppendValidation(t *testing.T) {
	l, ctx := newTestLedger(t)
	cases := []domain.CylinderMovement{
		{DepotID: "depot-1", CylinderSize: domain.Size9kg, MovementType: domain.MovementReceived, Quantity: 0, ActorID: "tester"},
		{DepotID: "depot-1", CylinderSize: "7kg", MovementType: domain.MovementReceived, Quantity: 1, ActorID: "tester"},
		{DepotID: "depot-1", CylinderSize: domain.Size9kg, MovementType: domain.MovementReceived, Quantity: 1},
	}
	for _, m := range cases {
		err := tryAppend(l, ctx, m)
		var invalid InvalidMovementError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidMovementError for %+v, got %v", m, err)
		}
	}
}

func TestProjectionMatchesRunningTotals(t *testing.T) {
	l, ctx := newTestLedger(t)
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementReceived, Quantity: 20, ActorID: "tester",
	})
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementIssuedToDelivery, Quantity: 6, ActorID: "tester",
	})
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementDelivered, Quantity: 6, ActorID: "tester",
	})
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementCollectedEmpty, Quantity: 4, ActorID: "tester",
	})

	folded, err := l.ProjectStock(ctx, "depot-1", "")
	if err != nil {
		t.Fatal(err)
	}
	levels, err := l.CurrentLevels(ctx, "depot-1")
	if err != nil {
		t.Fatal(err)
	}
	for key, qty := range levels {
		if folded[key] != qty {
			t.Fatalf("bucket %v: fold %d vs level %d", key, folded[key], qty)
		}
	}
	want := map[StockKey]int{
		{domain.Size9kg, domain.StockFull}:       14,
		{domain.Size9kg, domain.StockIssued}:     0,
		{domain.Size9kg, domain.StockAtCustomer}: 2,
		{domain.Size9kg, domain.StockEmpty}:      4,
	}
	for key, qty := range want {
		if folded[key] != qty {
			t.Fatalf("fold[%v] = %d, want %d", key, folded[key], qty)
		}
	}
}

func TestProjectAsOfBound(t *testing.T) {
	l, ctx := newTestLedger(t)
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementReceived, Quantity: 10, ActorID: "tester",
		CreatedAt: "2024-03-01T08:00:00Z",
	})
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size9kg,
		MovementType: domain.MovementReceived, Quantity: 7, ActorID: "tester",
		CreatedAt: "2024-03-02T08:00:00Z",
	})
	proj, err := l.ProjectStock(ctx, "depot-1", "2024-03-01T23:59:59Z")
	if err != nil {
		t.Fatal(err)
	}
	if got := proj[StockKey{domain.Size9kg, domain.StockFull}]; got != 10 {
		t.Fatalf("as-of fold = %d, want 10", got)
	}
}

func TestLevelInsideTransaction(t *testing.T) {
	l, ctx := newTestLedger(t)
	appendOne(t, l, ctx, domain.CylinderMovement{
		DepotID: "depot-1", CylinderSize: domain.Size14kg,
		MovementType: domain.MovementReceived, Quantity: 9, ActorID: "tester",
	})
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	got, err := l.Level(ctx, tx, "depot-1", domain.Size14kg, domain.StockFull)
	if err != nil {
		t.Fatal(err)
	}
	if got != 9 {
		t.Fatalf("level = %d, want 9", got)
	}
	// an empty bucket reads as zero, not as an error
	got, err = l.Level(ctx, tx, "depot-1", domain.Size48kg, domain.StockDamaged)
	if err != nil || got != 0 {
		t.Fatalf("empty bucket = %d, %v", got, err)
	}
}

func TestProjectionJSONKeys(t *testing.T) {
	proj := Projection{
		{Size: domain.Size9kg, Status: domain.StockFull}: 12,
	}
	data, err := json.Marshal(proj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var flat map[string]int
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if flat["9kg/full"] != 12 {
		t.Fatalf("unexpected keys: %s", data)
	}
}
