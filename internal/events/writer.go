// Package events persists the audit trail. Every state-changing engine
// transaction appends one row here, so the webhook dispatcher and the log
// tail replay exactly the history the machines produced.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append records one audit row inside the caller's transaction. Types are
// dotted entity.status names ("order.dispatched", "run.stop.added"); the
// acting identity is mandatory since the trail answers who did what.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, depotID, entityKind, entityID, actorID string, payload EventPayload) error {
	if evtType == "" {
		return fmt.Errorf("event type required")
	}
	if actorID == "" {
		return fmt.Errorf("event actor required")
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,depot_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		w.now().UTC().Format(time.RFC3339), evtType, nullable(depotID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
