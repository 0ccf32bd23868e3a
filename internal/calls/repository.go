package calls

import (
	"context"
	"time"
)

// Repository is the persistence contract for sessions and webhook records.
//
// SessionByProviderRef and SessionByID must lock the returned row when
// backed by SQL: every mutation path fetches the session, decides, and
// writes inside one transaction, and the lock is what serializes duplicate
// webhooks racing the sweeper.
type Repository interface {
	InsertSession(ctx context.Context, s Session) error

	SessionByID(ctx context.Context, id string) (Session, bool, error)

	SessionByProviderRef(ctx context.Context, providerRef string) (Session, bool, error)

	UpdateSession(ctx context.Context, s Session) error

	// StuckSessions returns sessions still non-terminal whose last update is
	// older than cutoff, oldest first.
	StuckSessions(ctx context.Context, cutoff time.Time, limit int) ([]Session, error)

	InsertWebhook(ctx context.Context, r WebhookRecord) error

	MarkWebhookProcessed(ctx context.Context, id string) error

	// UnprocessedWebhooks is the operator inspection queue: records whose
	// processing failed or never ran.
	UnprocessedWebhooks(ctx context.Context, limit int) ([]WebhookRecord, error)
}

// TxRunner scopes a unit of work to one transaction. Repository calls made
// with the ctx passed to fn share that transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
