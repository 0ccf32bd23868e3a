package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests.
// It is not intended for production use.

type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
	webhooks map[string]WebhookRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		sessions: make(map[string]Session),
		webhooks: make(map[string]WebhookRecord),
	}
}

func (r *MemoryRepo) InsertSession(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) SessionByID(ctx context.Context, id string) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok, nil
}

func (r *MemoryRepo) SessionByProviderRef(ctx context.Context, providerRef string) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ProviderRef == providerRef {
			return s, true, nil
		}
	}
	return Session{}, false, nil
}

func (r *MemoryRepo) UpdateSession(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) StuckSessions(ctx context.Context, cutoff time.Time, limit int) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Session
	for _, s := range r.sessions {
		if !s.Status.Terminal() && s.UpdatedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) InsertWebhook(ctx context.Context, rec WebhookRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhooks[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) MarkWebhookProcessed(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.webhooks[id]; ok {
		rec.Processed = true
		r.webhooks[id] = rec
	}
	return nil
}

func (r *MemoryRepo) UnprocessedWebhooks(ctx context.Context, limit int) ([]WebhookRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []WebhookRecord
	for _, rec := range r.webhooks {
		if !rec.Processed {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Webhooks returns a copy of all records for test assertions.
func (r *MemoryRepo) Webhooks() []WebhookRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WebhookRecord, 0, len(r.webhooks))
	for _, rec := range r.webhooks {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MemoryTxRunner serializes units of work with a mutex, standing in for
// database transactions in tests. It provides mutual exclusion but not
// rollback; tests that need failure atomicity assert on the Postgres
// runner's contract instead.
type MemoryTxRunner struct {
	mu sync.Mutex
}

func NewMemoryTxRunner() *MemoryTxRunner { return &MemoryTxRunner{} }

func (t *MemoryTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}
