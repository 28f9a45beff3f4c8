package engine

import "fmt"

// InvalidTransitionError rejects a transition the state machine does not
// allow from the entity's current status.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Entity, e.From, e.To)
}

// StaleTransitionError means the optimistic status write matched zero rows:
// another writer moved the entity first.
type StaleTransitionError struct {
	Entity   string
	ID       string
	Expected string
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("%s %s no longer in status %s; reload and retry", e.Entity, e.ID, e.Expected)
}

// InvalidQuantityError rejects a quantity outside what the operation allows.
type InvalidQuantityError struct {
	Field     string
	Requested int
	Allowed   int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("%s: %d exceeds allowed %d", e.Field, e.Requested, e.Allowed)
}
