package telephony

import (
	"context"
	"fmt"
	"time"
)

// Gateway is the provider-agnostic contract for the external telephony
// service that bridges two phone numbers.
//
// Rules:
// - No provider HTTP calls outside this package.
// - Keep request/response types provider-agnostic; raw provider payloads
//   stay inside the adapter.
type Gateway interface {
	// Connect places one outbound connect-request: the provider dials From,
	// then bridges To. Metadata is carried opaquely and echoed back in
	// status callbacks for correlation recovery.
	Connect(ctx context.Context, req ConnectRequest) (ConnectResponse, error)

	// CallStatus looks up the provider's authoritative view of a call.
	CallStatus(ctx context.Context, providerRef string) (CallDetails, error)
}

type ConnectRequest struct {
	From        string
	To          string
	CallerID    string
	CallbackURL string

	// Metadata is compact JSON stored in the provider's custom field.
	Metadata string
}

type ConnectResponse struct {
	ProviderRef string
	Status      string
}

// Leg is one side of a bridged call with its own provider-reported outcome.
type Leg struct {
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
}

// CallDetails is the provider's ground truth for one call, used by the
// reconciliation path when callbacks were lost.
type CallDetails struct {
	ProviderRef string
	Status      string

	DurationSeconds     int
	ConversationSeconds int

	RecordingURL string

	StartedAt *time.Time
	EndedAt   *time.Time

	Legs []Leg
}

// GatewayError covers any non-2xx or malformed provider response. Callers
// roll back whatever unit of work triggered the request.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telephony: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("telephony: %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }
