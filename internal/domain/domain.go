package domain

// CylinderSize is the closed set of bottle sizes the depot handles.
type CylinderSize string

const (
	Size9kg  CylinderSize = "9kg"
	Size14kg CylinderSize = "14kg"
	Size19kg CylinderSize = "19kg"
	Size48kg CylinderSize = "48kg"
)

// CylinderSizes lists every valid size, in catalog order.
var CylinderSizes = []CylinderSize{Size9kg, Size14kg, Size19kg, Size48kg}

func ValidCylinderSize(s CylinderSize) bool {
	for _, v := range CylinderSizes {
		if v == s {
			return true
		}
	}
	return false
}

// StockStatus is a bucket in the stock projection.
type StockStatus string

const (
	StockFull       StockStatus = "full"
	StockEmpty      StockStatus = "empty"
	StockIssued     StockStatus = "issued"
	StockAtCustomer StockStatus = "at_customer"
	StockDamaged    StockStatus = "damaged"
)

var StockStatuses = []StockStatus{StockFull, StockEmpty, StockIssued, StockAtCustomer, StockDamaged}

func ValidStockStatus(s StockStatus) bool {
	for _, v := range StockStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Depot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// MovementType identifies how a ledger entry affects stock buckets.
type MovementType string

const (
	MovementReceived         MovementType = "received"
	MovementFilled           MovementType = "filled"
	MovementReturnedFull     MovementType = "returned_full"
	MovementTransferIn       MovementType = "transfer_in"
	MovementInitialStock     MovementType = "initial_stock"
	MovementIssuedToDelivery MovementType = "issued_to_delivery"
	MovementDelivered        MovementType = "delivered"
	MovementScrapped         MovementType = "scrapped"
	MovementTransferOut      MovementType = "transfer_out"
	MovementReturnedEmpty    MovementType = "returned_empty"
	MovementCollectedEmpty   MovementType = "collected_empty"
	MovementDamaged          MovementType = "damaged"
	MovementAdjustment       MovementType = "adjustment"
	MovementVarianceApproved MovementType = "variance_approved"
	MovementVarianceRejected MovementType = "variance_rejected"
	MovementDepositPaid      MovementType = "deposit_paid"
	MovementDepositRefunded  MovementType = "deposit_refunded"
)

// CylinderMovement is one immutable ledger entry. Corrections are new
// entries, never edits.
type CylinderMovement struct {
	ID             string       `json:"id"`
	DepotID        string       `json:"depot_id"`
	CylinderSize   CylinderSize `json:"cylinder_size" enum:"9kg,14kg,19kg,48kg"`
	MovementType   MovementType `json:"movement_type"`
	Quantity       int          `json:"quantity"`
	PreviousStatus *StockStatus `json:"previous_status,omitempty" enum:"full,empty,issued,at_customer,damaged"`
	NewStatus      *StockStatus `json:"new_status,omitempty" enum:"full,empty,issued,at_customer,damaged"`
	RelatedOrderID *string      `json:"related_order_id,omitempty"`
	RelatedBatchID *string      `json:"related_batch_id,omitempty"`
	ActorID        string       `json:"actor_id"`
	Notes          string       `json:"notes,omitempty"`
	CreatedAt      string       `json:"created_at" format:"date-time"`
}

// BatchStatus is the refill pipeline state.
type BatchStatus string

const (
	BatchCreated    BatchStatus = "created"
	BatchInspecting BatchStatus = "inspecting"
	BatchFilling    BatchStatus = "filling"
	BatchQC         BatchStatus = "qc"
	BatchPassed     BatchStatus = "passed"
	BatchFailed     BatchStatus = "failed"
	BatchStocked    BatchStatus = "stocked"
)

func (s BatchStatus) Terminal() bool { return s == BatchFailed || s == BatchStocked }

type RefillBatch struct {
	ID                    string       `json:"id"`
	DepotID               string       `json:"depot_id"`
	CylinderSize          CylinderSize `json:"cylinder_size" enum:"9kg,14kg,19kg,48kg"`
	PlannedCount          int          `json:"planned_count"`
	Status                BatchStatus  `json:"status" enum:"created,inspecting,filling,qc,passed,failed,stocked"`
	InspectedCount        *int         `json:"inspected_count,omitempty"`
	PassedInspectionCount *int         `json:"passed_inspection_count,omitempty"`
	FilledCount           *int         `json:"filled_count,omitempty"`
	QCPassedCount         *int         `json:"qc_passed_count,omitempty"`
	FailureReason         string       `json:"failure_reason,omitempty"`
	CreatedAt             string       `json:"created_at" format:"date-time"`
	UpdatedAt             string       `json:"updated_at" format:"date-time"`
	StockedAt             *string      `json:"stocked_at,omitempty" format:"date-time"`
}

// QuoteStatus is the quote lifecycle state.
type QuoteStatus string

const (
	QuoteDraft     QuoteStatus = "draft"
	QuoteSent      QuoteStatus = "sent"
	QuoteAccepted  QuoteStatus = "accepted"
	QuoteRejected  QuoteStatus = "rejected"
	QuoteExpired   QuoteStatus = "expired"
	QuoteConverted QuoteStatus = "converted"
)

func (s QuoteStatus) Terminal() bool {
	return s == QuoteRejected || s == QuoteExpired || s == QuoteConverted
}

type Quote struct {
	ID         string      `json:"id"`
	DepotID    string      `json:"depot_id"`
	CustomerID string      `json:"customer_id"`
	Status     QuoteStatus `json:"status" enum:"draft,sent,accepted,rejected,expired,converted"`
	OrderID    *string     `json:"order_id,omitempty"`
	ExpiresAt  *string     `json:"expires_at,omitempty" format:"date-time"`
	CreatedAt  string      `json:"created_at" format:"date-time"`
	UpdatedAt  string      `json:"updated_at" format:"date-time"`
}

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderCreated         OrderStatus = "created"
	OrderScheduled       OrderStatus = "scheduled"
	OrderPrepared        OrderStatus = "prepared"
	OrderLoading         OrderStatus = "loading"
	OrderDispatched      OrderStatus = "dispatched"
	OrderInTransit       OrderStatus = "in_transit"
	OrderArrived         OrderStatus = "arrived"
	OrderDelivered       OrderStatus = "delivered"
	OrderPartialDelivery OrderStatus = "partial_delivery"
	OrderFailed          OrderStatus = "failed"
	OrderClosed          OrderStatus = "closed"
	OrderCancelled       OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool { return s == OrderClosed || s == OrderCancelled }

type OrderItem struct {
	ProductID         string       `json:"product_id"`
	CylinderSize      CylinderSize `json:"cylinder_size" enum:"9kg,14kg,19kg,48kg"`
	Quantity          int          `json:"quantity"`
	DeliveredQuantity *int         `json:"delivered_quantity,omitempty"`
	ReturnedQuantity  *int         `json:"returned_quantity,omitempty"`
}

type Order struct {
	ID            string      `json:"id"`
	DepotID       string      `json:"depot_id"`
	QuoteID       *string     `json:"quote_id,omitempty"`
	CustomerID    string      `json:"customer_id"`
	SiteID        string      `json:"site_id"`
	Status        OrderStatus `json:"status" enum:"created,scheduled,prepared,loading,dispatched,in_transit,arrived,delivered,partial_delivery,failed,closed,cancelled"`
	Priority      int         `json:"priority"`
	Items         []OrderItem `json:"items"`
	DriverID      *string     `json:"driver_id,omitempty"`
	VehicleID     *string     `json:"vehicle_id,omitempty"`
	ScheduleRunID *string     `json:"schedule_run_id,omitempty"`
	CreatedAt     string      `json:"created_at" format:"date-time"`
	UpdatedAt     string      `json:"updated_at" format:"date-time"`
	ClosedAt      *string     `json:"closed_at,omitempty" format:"date-time"`
}

// RunStatus is the delivery run lifecycle state.
type RunStatus string

const (
	RunPlanned    RunStatus = "planned"
	RunReady      RunStatus = "ready"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunCancelled  RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunCancelled }

// StopStatus is a stop's sub-machine state within its run.
type StopStatus string

const (
	StopPending    StopStatus = "pending"
	StopInProgress StopStatus = "in_progress"
	StopCompleted  StopStatus = "completed"
	StopSkipped    StopStatus = "skipped"
	StopFailed     StopStatus = "failed"
)

func (s StopStatus) Terminal() bool {
	return s == StopCompleted || s == StopSkipped || s == StopFailed
}

type ScheduleRun struct {
	ID        string         `json:"id"`
	DepotID   string         `json:"depot_id"`
	VehicleID string         `json:"vehicle_id"`
	DriverID  string         `json:"driver_id"`
	Status    RunStatus      `json:"status" enum:"planned,ready,in_progress,completed,cancelled"`
	Stops     []ScheduleStop `json:"stops,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type ScheduleStop struct {
	ID               string     `json:"id"`
	RunID            string     `json:"run_id"`
	OrderID          string     `json:"order_id"`
	Sequence         int        `json:"sequence"`
	Status           StopStatus `json:"status" enum:"pending,in_progress,completed,skipped,failed"`
	EstimatedArrival *string    `json:"estimated_arrival,omitempty" format:"date-time"`
	ActualArrival    *string    `json:"actual_arrival,omitempty" format:"date-time"`
	CompletedAt      *string    `json:"completed_at,omitempty" format:"date-time"`
}

// ChecklistStatus is the response lifecycle state.
type ChecklistStatus string

const (
	ChecklistInProgress ChecklistStatus = "in_progress"
	ChecklistCompleted  ChecklistStatus = "completed"
	ChecklistCancelled  ChecklistStatus = "cancelled"
)

type ChecklistAnswer struct {
	ItemID string `json:"item_id"`
	Passed bool   `json:"passed"`
	Note   string `json:"note,omitempty"`
}

type ChecklistResponse struct {
	ID         string            `json:"id"`
	DepotID    string            `json:"depot_id"`
	TemplateID string            `json:"template_id"`
	EntityType string            `json:"entity_type" enum:"vehicle,driver,order"`
	EntityID   string            `json:"entity_id"`
	Status     ChecklistStatus   `json:"status" enum:"in_progress,completed,cancelled"`
	Passed     *bool             `json:"passed,omitempty"`
	Blocked    bool              `json:"blocked"`
	Answers    []ChecklistAnswer `json:"answers,omitempty"`
	ActorID    string            `json:"actor_id"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
	UpdatedAt  string            `json:"updated_at" format:"date-time"`
}

// CountStatus is the daily count approval state.
type CountStatus string

const (
	CountPendingReview CountStatus = "pending_review"
	CountApproved      CountStatus = "approved"
	CountRejected      CountStatus = "rejected"
	CountFinalized     CountStatus = "finalized"
)

type DailyCountItem struct {
	CylinderSize      CylinderSize `json:"cylinder_size" enum:"9kg,14kg,19kg,48kg"`
	StockStatus       StockStatus  `json:"stock_status" enum:"full,empty,issued,at_customer,damaged"`
	PhysicalQuantity  int          `json:"physical_quantity"`
	ProjectedQuantity int          `json:"projected_quantity"`
	Variance          int          `json:"variance"`
}

type DailyCount struct {
	ID         string           `json:"id"`
	DepotID    string           `json:"depot_id"`
	CountDate  string           `json:"count_date" format:"date"`
	Status     CountStatus      `json:"status" enum:"pending_review,approved,rejected,finalized"`
	Items      []DailyCountItem `json:"items"`
	ActorID    string           `json:"actor_id"`
	CreatedAt  string           `json:"created_at" format:"date-time"`
	ResolvedAt *string          `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy *string          `json:"resolved_by,omitempty"`
}

type Driver struct {
	ID        string `json:"id"`
	DepotID   string `json:"depot_id"`
	Name      string `json:"name"`
	LicenseNo string `json:"license_no,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Vehicle struct {
	ID           string `json:"id"`
	DepotID      string `json:"depot_id"`
	Registration string `json:"registration"`
	CapacityKg   int    `json:"capacity_kg,omitempty"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DepotID    string `json:"depot_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
