package calls

import (
	"strings"
	"time"
)

// Session is one attempt to connect two matched users by voice.
//
// Invariants:
// - Status only moves forward (initiated -> ringing -> in_progress -> terminal).
// - Once terminal the record is immutable except for late-arriving recording
//   metadata.
// - Sessions are never deleted; they are audit records.
//
// Settlement reminder: credit debits reference Session.ID in the ledger;
// no money state is stored here beyond the computed CostUnits.
type Session struct {
	ID         string `json:"id" db:"id"`
	CallerID   string `json:"caller_id" db:"caller_id"`
	ReceiverID string `json:"receiver_id" db:"receiver_id"`

	// ProviderRef is the external call identifier, unique per session,
	// used for idempotent webhook correlation.
	ProviderRef string `json:"provider_ref" db:"provider_ref"`

	Status Status `json:"status" db:"status"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	// ConversationSeconds is the provider-reported talk time and the
	// authoritative billable duration; never wall-clock.
	ConversationSeconds int `json:"conversation_seconds" db:"conversation_seconds"`

	CostUnits int `json:"cost_units" db:"cost_units"`

	CallerLeg   LegOutcome `json:"caller_leg" db:"caller_leg"`
	ReceiverLeg LegOutcome `json:"receiver_leg" db:"receiver_leg"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LegOutcome is the provider-reported result of one side of the bridge.
type LegOutcome struct {
	Status          string `json:"status,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// statusRank orders the forward path. All terminal states share a rank:
// there is no transition between terminal states.
var statusRank = map[Status]int{
	StatusInitiated:  0,
	StatusRinging:    1,
	StatusInProgress: 2,
	StatusCompleted:  3,
	StatusBusy:       3,
	StatusNoAnswer:   3,
	StatusFailed:     3,
	StatusCanceled:   3,
}

func (s Status) Terminal() bool {
	return statusRank[s] == 3
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether moving from s to next is a forward step.
// Backward moves and transitions out of a terminal state are rejected;
// callers treat a rejection as an idempotent no-op, not an error, because
// webhooks duplicate and race the sweeper.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// StatusFromProvider maps a provider status string onto the session state
// machine. The provider may emit "answered" directly without a ringing
// event. Unrecognized statuses return ok=false and are logged upstream.
func StatusFromProvider(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "initiated":
		return StatusInitiated, true
	case "ringing":
		return StatusRinging, true
	case "answered", "in-progress", "in_progress":
		return StatusInProgress, true
	case "completed":
		return StatusCompleted, true
	case "busy":
		return StatusBusy, true
	case "no-answer", "no_answer":
		return StatusNoAnswer, true
	case "failed":
		return StatusFailed, true
	case "canceled", "cancelled":
		return StatusCanceled, true
	default:
		return "", false
	}
}

// BilledMinutes rounds the billable conversation duration up to whole
// minutes. 125s bills as 3 minutes.
func BilledMinutes(conversationSeconds int) int {
	if conversationSeconds <= 0 {
		return 0
	}
	return (conversationSeconds + 59) / 60
}

// WebhookRecord stores a received callback payload verbatim. Records are
// immutable except for the processed flag; unprocessed rows are the replay
// and inspection queue after ingest failures.
type WebhookRecord struct {
	ID          string    `json:"id" db:"id"`
	ProviderRef string    `json:"provider_ref" db:"provider_ref"`
	Payload     string    `json:"payload" db:"payload"`
	Processed   bool      `json:"processed" db:"processed"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
