package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gasline/internal/domain"
)

// InvalidMovementError indicates an append that would drive a stock bucket
// negative, or an entry that fails basic validation.
type InvalidMovementError struct {
	CylinderSize domain.CylinderSize
	StockStatus  domain.StockStatus
	Requested    int
	Available    int
	Reason       string
}

func (e InvalidMovementError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid movement: %s", e.Reason)
	}
	return fmt.Sprintf("invalid movement: %d %s cylinders requested from %q but only %d available",
		e.Requested, e.CylinderSize, e.StockStatus, e.Available)
}

// StockKey addresses one bucket of the projection.
type StockKey struct {
	Size   domain.CylinderSize
	Status domain.StockStatus
}

// MarshalText renders the key as "size/status" so projections JSON-encode
// as flat objects.
func (k StockKey) MarshalText() ([]byte, error) {
	return []byte(string(k.Size) + "/" + string(k.Status)), nil
}

// Projection maps stock buckets to current counts.
type Projection map[StockKey]int

// delta is one signed bucket change produced by a movement.
type delta struct {
	status domain.StockStatus
	qty    int
}

// Ledger owns the cylinder_movements table and the stock_levels running
// totals. Appends are tx-scoped so the non-negativity check and the write
// commit or roll back as one unit with the caller's other effects.
type Ledger struct {
	DB  *sql.DB
	Now func() time.Time
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// canonicalize fills the source/target statuses a movement type implies and
// returns the signed bucket deltas. Callers may override the defaults through
// PreviousStatus/NewStatus where the type allows it; shape questions are
// settled here, never inside the state machines.
func canonicalize(m *domain.CylinderMovement) ([]delta, error) {
	src := m.PreviousStatus
	dst := m.NewStatus
	setSrc := func(s domain.StockStatus) {
		if src == nil {
			src = &s
			m.PreviousStatus = src
		}
	}
	setDst := func(s domain.StockStatus) {
		if dst == nil {
			dst = &s
			m.NewStatus = dst
		}
	}
	switch m.MovementType {
	case domain.MovementReceived, domain.MovementFilled, domain.MovementReturnedFull,
		domain.MovementTransferIn, domain.MovementInitialStock:
		setDst(domain.StockFull)
		m.PreviousStatus = nil
		return []delta{{*dst, m.Quantity}}, nil
	case domain.MovementIssuedToDelivery:
		setSrc(domain.StockFull)
		setDst(domain.StockIssued)
		return []delta{{*src, -m.Quantity}, {*dst, m.Quantity}}, nil
	case domain.MovementDelivered:
		setSrc(domain.StockIssued)
		setDst(domain.StockAtCustomer)
		return []delta{{*src, -m.Quantity}, {*dst, m.Quantity}}, nil
	case domain.MovementScrapped, domain.MovementTransferOut:
		setSrc(domain.StockFull)
		m.NewStatus = nil
		return []delta{{*src, -m.Quantity}}, nil
	case domain.MovementReturnedEmpty, domain.MovementCollectedEmpty:
		setSrc(domain.StockAtCustomer)
		setDst(domain.StockEmpty)
		return []delta{{*src, -m.Quantity}, {*dst, m.Quantity}}, nil
	case domain.MovementDamaged:
		setSrc(domain.StockFull)
		setDst(domain.StockDamaged)
		if *src != domain.StockFull && *src != domain.StockEmpty {
			return nil, InvalidMovementError{Reason: fmt.Sprintf("damaged source must be full or empty, got %q", *src)}
		}
		if *dst != domain.StockDamaged {
			return nil, InvalidMovementError{Reason: fmt.Sprintf("damaged destination must be damaged, got %q", *dst)}
		}
		return []delta{{*src, -m.Quantity}, {*dst, m.Quantity}}, nil
	case domain.MovementAdjustment, domain.MovementVarianceApproved:
		// Direction comes from which side names the bucket: new_status adds,
		// previous_status subtracts.
		if dst != nil {
			m.PreviousStatus = nil
			return []delta{{*dst, m.Quantity}}, nil
		}
		if src != nil {
			m.NewStatus = nil
			return []delta{{*src, -m.Quantity}}, nil
		}
		return nil, InvalidMovementError{Reason: "adjustment requires previous_status or new_status"}
	case domain.MovementVarianceRejected, domain.MovementDepositPaid, domain.MovementDepositRefunded:
		// Audit/financial side-channel, no stock effect.
		return nil, nil
	default:
		return nil, InvalidMovementError{Reason: fmt.Sprintf("unknown movement type %q", m.MovementType)}
	}
}

func validate(m domain.CylinderMovement) error {
	if m.Quantity <= 0 {
		return InvalidMovementError{Reason: "quantity must be positive"}
	}
	if !domain.ValidCylinderSize(m.CylinderSize) {
		return InvalidMovementError{Reason: fmt.Sprintf("unknown cylinder size %q", m.CylinderSize)}
	}
	if m.PreviousStatus != nil && !domain.ValidStockStatus(*m.PreviousStatus) {
		return InvalidMovementError{Reason: fmt.Sprintf("unknown stock status %q", *m.PreviousStatus)}
	}
	if m.NewStatus != nil && !domain.ValidStockStatus(*m.NewStatus) {
		return InvalidMovementError{Reason: fmt.Sprintf("unknown stock status %q", *m.NewStatus)}
	}
	if m.ActorID == "" {
		return InvalidMovementError{Reason: "actor_id required"}
	}
	return nil
}

// Append validates the entry, checks every debited bucket against the
// tx-consistent running totals, applies the deltas and inserts the row. The
// entry is immutable once committed; a failed append leaves nothing behind.
func (l Ledger) Append(ctx context.Context, tx *sql.Tx, m domain.CylinderMovement) (domain.CylinderMovement, error) {
	if err := validate(m); err != nil {
		return domain.CylinderMovement{}, err
	}
	deltas, err := canonicalize(&m)
	if err != nil {
		return domain.CylinderMovement{}, err
	}
	for _, d := range deltas {
		if d.qty >= 0 {
			continue
		}
		var current int
		err := tx.QueryRowContext(ctx, `SELECT quantity FROM stock_levels WHERE depot_id=? AND cylinder_size=? AND stock_status=?`,
			m.DepotID, m.CylinderSize, d.status).Scan(&current)
		if err == sql.ErrNoRows {
			current = 0
		} else if err != nil {
			return domain.CylinderMovement{}, err
		}
		if current+d.qty < 0 {
			return domain.CylinderMovement{}, InvalidMovementError{
				CylinderSize: m.CylinderSize,
				StockStatus:  d.status,
				Requested:    -d.qty,
				Available:    current,
			}
		}
	}
	// Two statements on purpose: an upsert carrying the delta would have the
	// CHECK (quantity >= 0) evaluated against the candidate insert row, so
	// any debit of an existing bucket aborts before conflict resolution.
	for _, d := range deltas {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO stock_levels(depot_id,cylinder_size,stock_status,quantity) VALUES (?,?,?,0)`,
			m.DepotID, m.CylinderSize, d.status); err != nil {
			return domain.CylinderMovement{}, fmt.Errorf("ensure stock row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE stock_levels SET quantity=quantity+? WHERE depot_id=? AND cylinder_size=? AND stock_status=?`,
			d.qty, m.DepotID, m.CylinderSize, d.status); err != nil {
			return domain.CylinderMovement{}, fmt.Errorf("apply stock delta: %w", err)
		}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt == "" {
		m.CreatedAt = l.now().UTC().Format(time.RFC3339)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cylinder_movements(id,depot_id,cylinder_size,movement_type,quantity,previous_status,new_status,related_order_id,related_batch_id,actor_id,notes,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.DepotID, m.CylinderSize, m.MovementType, m.Quantity,
		statusPtr(m.PreviousStatus), statusPtr(m.NewStatus),
		nullableStringPtr(m.RelatedOrderID), nullableStringPtr(m.RelatedBatchID),
		m.ActorID, nullable(m.Notes), m.CreatedAt); err != nil {
		return domain.CylinderMovement{}, fmt.Errorf("insert movement: %w", err)
	}
	return m, nil
}

// ProjectStock folds the ledger into the projection. An empty asOf folds
// everything; otherwise entries up to and including the bound count.
func (l Ledger) ProjectStock(ctx context.Context, depotID, asOf string) (Projection, error) {
	query := `SELECT cylinder_size,movement_type,quantity,previous_status,new_status FROM cylinder_movements WHERE depot_id=?`
	args := []any{depotID}
	if asOf != "" {
		query += ` AND created_at <= ?`
		args = append(args, asOf)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	proj := Projection{}
	for rows.Next() {
		var m domain.CylinderMovement
		var prev, next sql.NullString
		if err := rows.Scan(&m.CylinderSize, &m.MovementType, &m.Quantity, &prev, &next); err != nil {
			return nil, err
		}
		if prev.Valid {
			s := domain.StockStatus(prev.String)
			m.PreviousStatus = &s
		}
		if next.Valid {
			s := domain.StockStatus(next.String)
			m.NewStatus = &s
		}
		deltas, err := canonicalize(&m)
		if err != nil {
			return nil, fmt.Errorf("fold ledger: %w", err)
		}
		for _, d := range deltas {
			proj[StockKey{m.CylinderSize, d.status}] += d.qty
		}
	}
	return proj, rows.Err()
}

// CurrentLevels reads the maintained running totals.
func (l Ledger) CurrentLevels(ctx context.Context, depotID string) (Projection, error) {
	rows, err := l.DB.QueryContext(ctx, `SELECT cylinder_size,stock_status,quantity FROM stock_levels WHERE depot_id=?`, depotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	proj := Projection{}
	for rows.Next() {
		var size domain.CylinderSize
		var status domain.StockStatus
		var qty int
		if err := rows.Scan(&size, &status, &qty); err != nil {
			return nil, err
		}
		proj[StockKey{size, status}] = qty
	}
	return proj, rows.Err()
}

// Level reads one bucket inside the caller's transaction.
func (l Ledger) Level(ctx context.Context, tx *sql.Tx, depotID string, size domain.CylinderSize, status domain.StockStatus) (int, error) {
	var qty int
	err := tx.QueryRowContext(ctx, `SELECT quantity FROM stock_levels WHERE depot_id=? AND cylinder_size=? AND stock_status=?`,
		depotID, size, status).Scan(&qty)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return qty, err
}

func statusPtr(s *domain.StockStatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
