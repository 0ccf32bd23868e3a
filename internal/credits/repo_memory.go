package credits

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests.
// It is not intended for production use.

type MemoryRepo struct {
	mu          sync.Mutex
	allocations map[string]Allocation
	ledger      []LedgerEntry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{allocations: make(map[string]Allocation)}
}

func (r *MemoryRepo) InsertAllocation(ctx context.Context, a Allocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocations[a.ID] = a
	return nil
}

func (r *MemoryRepo) SpendableAllocation(ctx context.Context, userID string, now time.Time) (Allocation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []Allocation
	for _, a := range r.allocations {
		if a.UserID == userID && a.Spendable(now) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return Allocation{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ExpiresAt.Before(candidates[j].ExpiresAt)
	})
	return candidates[0], true, nil
}

func (r *MemoryRepo) HasSpendable(ctx context.Context, userID string, now time.Time) (bool, error) {
	_, ok, err := r.SpendableAllocation(ctx, userID, now)
	return ok, err
}

func (r *MemoryRepo) UpdateAllocation(ctx context.Context, a Allocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocations[a.ID] = a
	return nil
}

func (r *MemoryRepo) AllocationsForUser(ctx context.Context, userID string) ([]Allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Allocation
	for _, a := range r.allocations {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

func (r *MemoryRepo) AppendLedger(ctx context.Context, e LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = append(r.ledger, e)
	return nil
}

func (r *MemoryRepo) LedgerForUser(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []LedgerEntry
	for i := len(r.ledger) - 1; i >= 0; i-- {
		if r.ledger[i].UserID == userID {
			out = append(out, r.ledger[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryRepo) LedgerForSession(ctx context.Context, sessionID string) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []LedgerEntry
	for _, e := range r.ledger {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Ledger returns a copy of every entry, oldest first.
func (r *MemoryRepo) Ledger() []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LedgerEntry, len(r.ledger))
	copy(out, r.ledger)
	return out
}
