package server

import (
	"encoding/json"

	"gasline/internal/domain"
	"gasline/internal/engine"
	"gasline/internal/ledger"
)

// Request payloads

type CreateDepotRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type OrderItemRequest struct {
	ProductID    string `json:"product_id"`
	CylinderSize string `json:"cylinder_size" enum:"9kg,14kg,19kg,48kg"`
	Quantity     int    `json:"quantity"`
}

type CreateOrderRequest struct {
	CustomerID string             `json:"customer_id"`
	SiteID     string             `json:"site_id"`
	Priority   int                `json:"priority,omitempty"`
	Items      []OrderItemRequest `json:"items"`
}

type ScheduleOrderRequest struct {
	DriverID  string `json:"driver_id,omitempty"`
	VehicleID string `json:"vehicle_id,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status"`
}

type DeliveryLineRequest struct {
	ProductID         string `json:"product_id"`
	DeliveredQuantity int    `json:"delivered_quantity"`
	EmptiesCollected  int    `json:"empties_collected,omitempty"`
}

type CompleteDeliveryRequest struct {
	Lines []DeliveryLineRequest `json:"lines"`
}

type CreateQuoteRequest struct {
	CustomerID string `json:"customer_id"`
}

type ConvertQuoteRequest struct {
	SiteID   string             `json:"site_id"`
	Priority int                `json:"priority,omitempty"`
	Items    []OrderItemRequest `json:"items"`
}

type CreateRunRequest struct {
	VehicleID string `json:"vehicle_id"`
	DriverID  string `json:"driver_id"`
}

type AddStopRequest struct {
	OrderID          string `json:"order_id"`
	Sequence         int    `json:"sequence"`
	EstimatedArrival string `json:"estimated_arrival,omitempty" format:"date-time"`
}

// CompleteLoadingRequest optionally cross-checks what the yard crew
// loaded, keyed by cylinder size, against the run's ordered totals.
type CompleteLoadingRequest struct {
	LoadedQuantities map[string]int `json:"loaded_quantities,omitempty"`
}

type CreateBatchRequest struct {
	CylinderSize string `json:"cylinder_size" enum:"9kg,14kg,19kg,48kg"`
	PlannedCount int    `json:"planned_count"`
}

type CompleteInspectionRequest struct {
	InspectedCount        int `json:"inspected_count"`
	PassedInspectionCount int `json:"passed_inspection_count"`
}

type CompleteFillingRequest struct {
	FilledCount int `json:"filled_count"`
}

type CompleteQCRequest struct {
	QCPassedCount int    `json:"qc_passed_count"`
	Reason        string `json:"reason,omitempty"`
}

type FailBatchRequest struct {
	Reason string `json:"reason"`
}

type RecordMovementRequest struct {
	CylinderSize   string  `json:"cylinder_size" enum:"9kg,14kg,19kg,48kg"`
	MovementType   string  `json:"movement_type"`
	Quantity       int     `json:"quantity"`
	PreviousStatus *string `json:"previous_status,omitempty" enum:"full,empty,issued,at_customer,damaged"`
	NewStatus      *string `json:"new_status,omitempty" enum:"full,empty,issued,at_customer,damaged"`
	RelatedOrderID *string `json:"related_order_id,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

type CountLineRequest struct {
	CylinderSize     string `json:"cylinder_size" enum:"9kg,14kg,19kg,48kg"`
	StockStatus      string `json:"stock_status" enum:"full,empty,issued,at_customer,damaged"`
	PhysicalQuantity int    `json:"physical_quantity"`
}

type SubmitCountRequest struct {
	CountDate string             `json:"count_date" format:"date"`
	Lines     []CountLineRequest `json:"lines"`
}

type StartChecklistRequest struct {
	TemplateID string `json:"template_id"`
	EntityType string `json:"entity_type" enum:"vehicle,driver,order"`
	EntityID   string `json:"entity_id"`
}

type ChecklistAnswerRequest struct {
	ItemID string `json:"item_id"`
	Passed bool   `json:"passed"`
	Note   string `json:"note,omitempty"`
}

type CompleteChecklistRequest struct {
	Answers []ChecklistAnswerRequest `json:"answers"`
}

type UpsertDriverRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	LicenseNo string `json:"license_no,omitempty"`
	Status    string `json:"status,omitempty" enum:"active,inactive"`
}

type UpsertVehicleRequest struct {
	ID           string `json:"id,omitempty"`
	Registration string `json:"registration"`
	CapacityKg   int    `json:"capacity_kg,omitempty"`
	Status       string `json:"status,omitempty" enum:"active,inactive"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type DepotResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type StockLevelResponse struct {
	CylinderSize string `json:"cylinder_size" enum:"9kg,14kg,19kg,48kg"`
	StockStatus  string `json:"stock_status" enum:"full,empty,issued,at_customer,damaged"`
	Quantity     int    `json:"quantity"`
}

type MovementResponse struct {
	ID             string  `json:"id"`
	DepotID        string  `json:"depot_id"`
	CylinderSize   string  `json:"cylinder_size"`
	MovementType   string  `json:"movement_type"`
	Quantity       int     `json:"quantity"`
	PreviousStatus *string `json:"previous_status,omitempty"`
	NewStatus      *string `json:"new_status,omitempty"`
	RelatedOrderID *string `json:"related_order_id,omitempty"`
	RelatedBatchID *string `json:"related_batch_id,omitempty"`
	ActorID        string  `json:"actor_id"`
	Notes          string  `json:"notes,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	DepotID    string         `json:"depot_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedOrders struct {
	Items      []domain.Order `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type StatusResponse struct {
	DepotID     string         `json:"depot_id"`
	Status      string         `json:"status"`
	OrderCounts map[string]int `json:"order_counts"`
}

// Mappers

func depotResponse(d domain.Depot) DepotResponse {
	return DepotResponse{ID: d.ID, Name: d.Name, Status: d.Status, CreatedAt: d.CreatedAt}
}

func mapDepots(items []domain.Depot) []DepotResponse {
	res := make([]DepotResponse, 0, len(items))
	for _, d := range items {
		res = append(res, depotResponse(d))
	}
	return res
}

func movementResponse(m domain.CylinderMovement) MovementResponse {
	out := MovementResponse{
		ID:             m.ID,
		DepotID:        m.DepotID,
		CylinderSize:   string(m.CylinderSize),
		MovementType:   string(m.MovementType),
		Quantity:       m.Quantity,
		RelatedOrderID: m.RelatedOrderID,
		RelatedBatchID: m.RelatedBatchID,
		ActorID:        m.ActorID,
		Notes:          m.Notes,
		CreatedAt:      m.CreatedAt,
	}
	if m.PreviousStatus != nil {
		s := string(*m.PreviousStatus)
		out.PreviousStatus = &s
	}
	if m.NewStatus != nil {
		s := string(*m.NewStatus)
		out.NewStatus = &s
	}
	return out
}

func mapMovements(items []domain.CylinderMovement) []MovementResponse {
	res := make([]MovementResponse, 0, len(items))
	for _, m := range items {
		res = append(res, movementResponse(m))
	}
	return res
}

func stockResponse(proj ledger.Projection) []StockLevelResponse {
	res := make([]StockLevelResponse, 0, len(proj))
	for _, size := range domain.CylinderSizes {
		for _, status := range domain.StockStatuses {
			if qty, ok := proj[ledger.StockKey{Size: size, Status: status}]; ok {
				res = append(res, StockLevelResponse{
					CylinderSize: string(size),
					StockStatus:  string(status),
					Quantity:     qty,
				})
			}
		}
	}
	return res
}

// VerifyStockResponse reports buckets where the stock_levels running totals
// disagree with a full fold of the movement ledger.
type VerifyStockResponse struct {
	Consistent bool            `json:"consistent"`
	Mismatches []StockMismatch `json:"mismatches"`
}

type StockMismatch struct {
	CylinderSize string `json:"cylinder_size"`
	StockStatus  string `json:"stock_status"`
	Levels       int    `json:"levels"`
	Ledger       int    `json:"ledger"`
}

func verifyResponse(diff map[ledger.StockKey][2]int) VerifyStockResponse {
	res := VerifyStockResponse{Consistent: len(diff) == 0, Mismatches: []StockMismatch{}}
	for _, size := range domain.CylinderSizes {
		for _, status := range domain.StockStatuses {
			if pair, ok := diff[ledger.StockKey{Size: size, Status: status}]; ok {
				res.Mismatches = append(res.Mismatches, StockMismatch{
					CylinderSize: string(size),
					StockStatus:  string(status),
					Levels:       pair[0],
					Ledger:       pair[1],
				})
			}
		}
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		DepotID:    e.DepotID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func orderItems(items []OrderItemRequest) []domain.OrderItem {
	res := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		res = append(res, domain.OrderItem{
			ProductID:    item.ProductID,
			CylinderSize: domain.CylinderSize(item.CylinderSize),
			Quantity:     item.Quantity,
		})
	}
	return res
}

func deliveryLines(lines []DeliveryLineRequest) []engine.DeliveryLine {
	res := make([]engine.DeliveryLine, 0, len(lines))
	for _, line := range lines {
		res = append(res, engine.DeliveryLine{
			ProductID:         line.ProductID,
			DeliveredQuantity: line.DeliveredQuantity,
			EmptiesCollected:  line.EmptiesCollected,
		})
	}
	return res
}

func checklistAnswers(answers []ChecklistAnswerRequest) []domain.ChecklistAnswer {
	res := make([]domain.ChecklistAnswer, 0, len(answers))
	for _, a := range answers {
		res = append(res, domain.ChecklistAnswer{ItemID: a.ItemID, Passed: a.Passed, Note: a.Note})
	}
	return res
}

func countLines(lines []CountLineRequest) []engine.PhysicalCount {
	res := make([]engine.PhysicalCount, 0, len(lines))
	for _, line := range lines {
		res = append(res, engine.PhysicalCount{
			CylinderSize: domain.CylinderSize(line.CylinderSize),
			StockStatus:  domain.StockStatus(line.StockStatus),
			Quantity:     line.PhysicalQuantity,
		})
	}
	return res
}
