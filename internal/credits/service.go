package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service owns every mutation of allocations and the ledger.
//
// Invariants:
// - No allocation mutation without a ledger entry.
// - Ledger is append-only (immutable).
// - Debits clamp at zero remaining; balances never go negative.
//
// DebitForCall is designed to run inside the caller's transaction: the
// settlement routine invokes it while holding the session row lock, so the
// session flip and both debits commit or roll back together.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidArgument = errors.New("credits: invalid argument")
	ErrNoAllocation    = errors.New("credits: no spendable allocation")
)

// HasSpendableCredit reports whether the user holds at least one unexpired
// allocation with remaining credit.
func (s *Service) HasSpendableCredit(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidArgument
	}
	return s.repo.HasSpendable(ctx, userID, s.clock().UTC())
}

// DebitForCall draws billed minutes from the user's earliest-expiring
// spendable allocation and appends a used ledger entry referencing the
// session. The debit clamps at zero: if the allocation holds fewer minutes
// than billed, the shortfall is absorbed and the ledger records what was
// actually drawn. A user with no spendable allocation is skipped entirely
// (no entry) and ErrNoAllocation is returned for the caller to log.
func (s *Service) DebitForCall(ctx context.Context, userID, sessionID string, minutes int) (int, error) {
	if userID == "" || sessionID == "" || minutes <= 0 {
		return 0, ErrInvalidArgument
	}

	now := s.clock().UTC()
	a, ok, err := s.repo.SpendableAllocation(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoAllocation
	}

	debit := minutes
	if debit > a.Remaining {
		debit = a.Remaining
	}

	a.Remaining -= debit
	a.LastUsedAt = &now
	if err := s.repo.UpdateAllocation(ctx, a); err != nil {
		return 0, err
	}

	reason := "call usage"
	if debit < minutes {
		reason = fmt.Sprintf("call usage (short %d of %d minutes)", minutes-debit, minutes)
	}
	entry := LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Action:    ActionUsed,
		Delta:     -debit,
		Reason:    reason,
		CreatedAt: now,
	}
	if err := s.repo.AppendLedger(ctx, entry); err != nil {
		return 0, err
	}
	return debit, nil
}

// RecordInitiation writes the zero-delta call_initiated breadcrumbs for both
// parties. No balance effect; audit only.
func (s *Service) RecordInitiation(ctx context.Context, callerID, receiverID, sessionID string) error {
	if callerID == "" || receiverID == "" || sessionID == "" {
		return ErrInvalidArgument
	}
	now := s.clock().UTC()
	for _, userID := range []string{callerID, receiverID} {
		e := LedgerEntry{
			ID:        uuid.NewString(),
			UserID:    userID,
			SessionID: sessionID,
			Action:    ActionCallInitiated,
			Delta:     0,
			Reason:    "call initiated",
			CreatedAt: now,
		}
		if err := s.repo.AppendLedger(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Grant creates a new allocation (plan purchase or admin top-up) and the
// paired granted entry.
func (s *Service) Grant(ctx context.Context, userID string, amount int, validity time.Duration, reason string) (Allocation, error) {
	if userID == "" || amount <= 0 || validity <= 0 || reason == "" {
		return Allocation{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	a := Allocation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purchased: amount,
		Remaining: amount,
		ExpiresAt: now.Add(validity),
		CreatedAt: now,
	}
	if err := s.repo.InsertAllocation(ctx, a); err != nil {
		return Allocation{}, err
	}

	e := LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    ActionGranted,
		Delta:     amount,
		Reason:    reason,
		CreatedAt: now,
	}
	if err := s.repo.AppendLedger(ctx, e); err != nil {
		return Allocation{}, err
	}
	return a, nil
}

// Adjust applies an admin delta to the user's nearest-expiry spendable
// allocation. Additions are capped so Remaining never exceeds Purchased;
// removals clamp at zero. The paired adjusted entry records the applied
// delta, which may be smaller in magnitude than requested.
func (s *Service) Adjust(ctx context.Context, userID string, delta int, reason string) (Allocation, error) {
	if userID == "" || delta == 0 || reason == "" {
		return Allocation{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	a, ok, err := s.repo.SpendableAllocation(ctx, userID, now)
	if err != nil {
		return Allocation{}, err
	}
	if !ok {
		return Allocation{}, ErrNoAllocation
	}

	applied := delta
	next := a.Remaining + delta
	switch {
	case next < 0:
		applied = -a.Remaining
		next = 0
	case next > a.Purchased:
		applied = a.Purchased - a.Remaining
		next = a.Purchased
	}

	a.Remaining = next
	if err := s.repo.UpdateAllocation(ctx, a); err != nil {
		return Allocation{}, err
	}

	e := LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    ActionAdjusted,
		Delta:     applied,
		Reason:    reason,
		CreatedAt: now,
	}
	if err := s.repo.AppendLedger(ctx, e); err != nil {
		return Allocation{}, err
	}
	return a, nil
}

func (s *Service) Allocations(ctx context.Context, userID string) ([]Allocation, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.AllocationsForUser(ctx, userID)
}

func (s *Service) Ledger(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.LedgerForUser(ctx, userID, limit)
}

func (s *Service) LedgerForSession(ctx context.Context, sessionID string) ([]LedgerEntry, error) {
	if sessionID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.LedgerForSession(ctx, sessionID)
}

// WithClock overrides the service clock for deterministic tests.
func (s *Service) WithClock(fn func() time.Time) *Service {
	s.clock = fn
	return s
}
