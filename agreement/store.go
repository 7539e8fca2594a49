package agreement

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no agreement exists for the identifier.
	ErrNotFound = errors.New("agreement: not found")
	// ErrSignedRegression is returned when a mutation would flip the signed
	// flag back to false. The flag is monotonic by contract.
	ErrSignedRegression = errors.New("agreement: signed flag cannot revert")
	// ErrInvalidTransition is returned for a status change outside the
	// lifecycle state machine.
	ErrInvalidTransition = errors.New("agreement: invalid status transition")
)

// Store is the document store owning persisted agreement state. Mutations
// are whole-record upserts; every mutation emits an Event carrying the
// before/after snapshot pair for that specific write.
type Store interface {
	Create(ctx context.Context, params CreateParams) (Agreement, error)
	Get(ctx context.Context, id string) (Agreement, error)
	Update(ctx context.Context, next Agreement) (before, after Agreement, err error)
}
