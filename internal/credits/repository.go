package credits

import (
	"context"
	"time"
)

// Repository is the persistence contract for allocations and the ledger.
//
// The ledger MUST be append-only: no update or delete methods exist by design.
// SpendableAllocation must lock the returned row when backed by SQL so the
// select-then-decrement in settlement cannot lose updates.
type Repository interface {
	InsertAllocation(ctx context.Context, a Allocation) error

	// SpendableAllocation returns the allocation with the soonest expiry
	// among those with Remaining > 0 and ExpiresAt after now.
	SpendableAllocation(ctx context.Context, userID string, now time.Time) (Allocation, bool, error)

	HasSpendable(ctx context.Context, userID string, now time.Time) (bool, error)

	UpdateAllocation(ctx context.Context, a Allocation) error

	AllocationsForUser(ctx context.Context, userID string) ([]Allocation, error)

	AppendLedger(ctx context.Context, e LedgerEntry) error

	LedgerForUser(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)

	LedgerForSession(ctx context.Context, sessionID string) ([]LedgerEntry, error)
}
