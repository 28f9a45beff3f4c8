package main

import (
	"testing"

	"gasline/internal/domain"
)

func TestBuildMovement(t *testing.T) {
	m := buildMovement("depot-1", "9kg", "adjustment", "issued", "", "ord-1", "stocktake", "tester", 3)
	if m.RelatedOrderID == nil || *m.RelatedOrderID != "ord-1" {
		t.Fatalf("related order = %v, want ord-1", m.RelatedOrderID)
	}
	if m.PreviousStatus == nil || *m.PreviousStatus != domain.StockIssued {
		t.Fatalf("previous status = %v, want issued", m.PreviousStatus)
	}
	if m.NewStatus != nil {
		t.Fatalf("new status should stay nil when the flag is empty")
	}

	bare := buildMovement("depot-1", "9kg", "received", "", "", "", "", "tester", 5)
	if bare.RelatedOrderID != nil || bare.PreviousStatus != nil || bare.NewStatus != nil {
		t.Fatalf("optional fields must stay nil: %+v", bare)
	}
}

func TestParseLoadedQuantities(t *testing.T) {
	got, err := parseLoadedQuantities([]string{"9kg:15", "19kg:4"})
	if err != nil {
		t.Fatal(err)
	}
	if got[domain.Size9kg] != 15 || got[domain.Size19kg] != 4 {
		t.Fatalf("unexpected quantities: %v", got)
	}
	if _, err := parseLoadedQuantities([]string{"9kg"}); err == nil {
		t.Fatalf("missing qty must fail")
	}
	if _, err := parseLoadedQuantities([]string{"9kg:many"}); err == nil {
		t.Fatalf("non-numeric qty must fail")
	}
	if got, err := parseLoadedQuantities(nil); err != nil || got != nil {
		t.Fatalf("no flags means no cross-check, got %v, %v", got, err)
	}
}
