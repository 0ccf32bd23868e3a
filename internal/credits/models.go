package credits

import "time"

// Allocation is one purchased or granted block of call-minutes.
//
// Invariants:
// - Remaining <= Purchased and never negative (debits clamp at zero).
// - A user may hold several allocations; drawdown always consumes the one
//   with the soonest expiry among those still spendable.
// - Mutated only by settlement or an explicit admin adjustment, and every
//   mutation is paired with a ledger entry.
type Allocation struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	Purchased  int        `json:"purchased" db:"purchased"`
	Remaining  int        `json:"remaining" db:"remaining"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Spendable reports whether the allocation can fund a call at t.
func (a Allocation) Spendable(t time.Time) bool {
	return a.Remaining > 0 && a.ExpiresAt.After(t)
}

// LedgerEntry is an immutable append-only audit record of a balance change
// or notable lifecycle event. Debits are negative, credits positive;
// call_initiated breadcrumbs carry a zero delta.
type LedgerEntry struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	SessionID string    `json:"session_id,omitempty" db:"session_id"`
	Action    Action    `json:"action" db:"action"`
	Delta     int       `json:"delta" db:"delta"`
	Reason    string    `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Action string

const (
	ActionCallInitiated Action = "call_initiated"
	ActionUsed          Action = "used"
	ActionGranted       Action = "granted"
	ActionAdjusted      Action = "adjusted"
)
