package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"matchcall/internal/credits"
	"matchcall/internal/telephony"

	"github.com/google/uuid"
)

// HandleWebhook ingests one provider status callback.
//
// The raw record is persisted before any processing so an event is never
// lost to a crash mid-transaction. Steps 2-4 (resolve session, apply
// transition, mark processed) share one transaction: a failure leaves the
// record processed=false, visible to operators and replayable.
//
// The return value is for logging only; the HTTP layer acknowledges the
// provider regardless, to avoid provider-side retry storms.
func (s *Service) HandleWebhook(ctx context.Context, event telephony.StatusEvent, rawPayload string) error {
	s.metrics.WebhooksReceived.Inc()

	rec := WebhookRecord{
		ID:          uuid.NewString(),
		ProviderRef: event.ProviderRef,
		Payload:     rawPayload,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.repo.InsertWebhook(ctx, rec); err != nil {
		s.metrics.WebhooksFailed.Inc()
		return fmt.Errorf("calls: persist webhook record: %w", err)
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sess, ok, err := s.repo.SessionByProviderRef(ctx, event.ProviderRef)
		if err != nil {
			return err
		}
		if !ok {
			// The provider may notify about a call this system does not
			// track. Acknowledge; the record stays unprocessed for audit.
			s.metrics.WebhooksUnmatched.Inc()
			s.log.Warn("webhook for unknown session", "provider_ref", event.ProviderRef)
			return nil
		}

		if err := s.applyOutcome(ctx, &sess, outcomeFromEvent(event)); err != nil {
			return err
		}
		return s.repo.MarkWebhookProcessed(ctx, rec.ID)
	})
	if err != nil {
		s.metrics.WebhooksFailed.Inc()
		s.log.Error("webhook processing failed", "provider_ref", event.ProviderRef, "err", err)
		return err
	}
	return nil
}

// RecordInvalidWebhook stores a callback body that could not be parsed or
// carries no call reference. Nothing can be done with it automatically; the
// record stays unprocessed so an operator can inspect the payload.
func (s *Service) RecordInvalidWebhook(ctx context.Context, rawPayload string) error {
	s.metrics.WebhooksReceived.Inc()
	s.metrics.WebhooksFailed.Inc()

	rec := WebhookRecord{
		ID:        uuid.NewString(),
		Payload:   rawPayload,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.repo.InsertWebhook(ctx, rec); err != nil {
		return fmt.Errorf("calls: persist invalid webhook record: %w", err)
	}
	return nil
}

// outcome is the normalized effect of a provider event or status poll.
type outcome struct {
	status Status
	known  bool

	conversationSeconds int
	durationSeconds     int
	recordingURL        string
	startedAt           *time.Time
	endedAt             *time.Time
	legs                []telephony.Leg
}

func outcomeFromEvent(e telephony.StatusEvent) outcome {
	st, known := StatusFromProvider(e.Status)
	if !known && e.EventType != "" {
		// Some callback variants carry only an event type.
		st, known = StatusFromProvider(e.EventType)
	}
	return outcome{
		status:              st,
		known:               known,
		conversationSeconds: e.ConversationSeconds,
		recordingURL:        e.RecordingURL,
		startedAt:           parseEventTime(e.StartTime),
		endedAt:             parseEventTime(e.EndTime),
		legs:                e.Legs,
	}
}

func outcomeFromDetails(d telephony.CallDetails) outcome {
	st, known := StatusFromProvider(d.Status)
	return outcome{
		status:              st,
		known:               known,
		conversationSeconds: d.ConversationSeconds,
		durationSeconds:     d.DurationSeconds,
		recordingURL:        d.RecordingURL,
		startedAt:           d.StartedAt,
		endedAt:             d.EndedAt,
		legs:                d.Legs,
	}
}

// applyOutcome moves the session through the state machine and, on a billed
// completion, settles both parties. It must run inside a transaction with
// the session row locked: the terminal flip and the debits commit together,
// which is what makes settlement exactly-once under duplicate delivery.
func (s *Service) applyOutcome(ctx context.Context, sess *Session, o outcome) error {
	now := s.clock().UTC()

	if !o.known {
		s.metrics.WebhooksNoOp.Inc()
		s.log.Warn("unrecognized call status", "session_id", sess.ID, "provider_ref", sess.ProviderRef)
		return nil
	}

	if sess.Status.Terminal() {
		// Immutable except late-arriving recording metadata.
		if sess.RecordingURL == "" && o.recordingURL != "" {
			sess.RecordingURL = o.recordingURL
			sess.UpdatedAt = now
			return s.repo.UpdateSession(ctx, *sess)
		}
		s.metrics.WebhooksNoOp.Inc()
		s.log.Debug("event for terminal session ignored", "session_id", sess.ID, "status", o.status)
		return nil
	}

	if !sess.Status.CanTransition(o.status) {
		s.metrics.WebhooksNoOp.Inc()
		s.log.Debug("backward transition ignored",
			"session_id", sess.ID, "from", sess.Status, "to", o.status)
		return nil
	}

	if !o.status.Terminal() {
		sess.Status = o.status
		if o.status == StatusInProgress && sess.StartedAt == nil {
			t := now
			if o.startedAt != nil {
				t = *o.startedAt
			}
			sess.StartedAt = &t
		}
		sess.UpdatedAt = now
		return s.repo.UpdateSession(ctx, *sess)
	}

	// Terminal event: persist outcome, then settle if billable.
	sess.Status = o.status
	sess.ConversationSeconds = o.conversationSeconds
	sess.DurationSeconds = o.durationSeconds
	if sess.DurationSeconds == 0 {
		sess.DurationSeconds = o.conversationSeconds
	}
	if o.recordingURL != "" {
		sess.RecordingURL = o.recordingURL
	}
	if sess.StartedAt == nil && o.startedAt != nil {
		sess.StartedAt = o.startedAt
	}
	end := now
	if o.endedAt != nil {
		end = *o.endedAt
	}
	sess.EndedAt = &end
	applyLegs(sess, o.legs)

	minutes := BilledMinutes(o.conversationSeconds)
	if o.status == StatusCompleted && minutes > 0 {
		sess.CostUnits = minutes * s.costPerMinute
		if s.settlementDisabled {
			s.log.Info("settlement disabled by deploy flag", "session_id", sess.ID)
		} else if err := s.settle(ctx, sess, minutes); err != nil {
			return err
		}
	} else {
		sess.CostUnits = 0
	}

	sess.UpdatedAt = now
	if err := s.repo.UpdateSession(ctx, *sess); err != nil {
		return err
	}

	s.log.Info("call session closed",
		"session_id", sess.ID,
		"status", sess.Status,
		"billed_minutes", minutes,
		"cost_units", sess.CostUnits,
	)
	return nil
}

// settle debits both parties for a completed call. A party with nothing
// spendable is a shortfall: the platform absorbs it rather than failing the
// transition, since the call already happened.
func (s *Service) settle(ctx context.Context, sess *Session, minutes int) error {
	for _, userID := range []string{sess.CallerID, sess.ReceiverID} {
		debited, err := s.credits.DebitForCall(ctx, userID, sess.ID, minutes)
		if err != nil {
			if errors.Is(err, credits.ErrNoAllocation) {
				s.metrics.SettlementShortfalls.Inc()
				s.log.Warn("settlement shortfall, no spendable allocation",
					"session_id", sess.ID, "user_id", userID, "minutes", minutes)
				continue
			}
			return fmt.Errorf("calls: settle session %s for %s: %w", sess.ID, userID, err)
		}
		if debited < minutes {
			s.metrics.SettlementShortfalls.Inc()
			s.log.Warn("settlement shortfall, partial debit",
				"session_id", sess.ID, "user_id", userID,
				"debited", debited, "minutes", minutes)
		}
	}
	s.metrics.SettlementsTotal.Inc()
	return nil
}

// applyLegs maps provider legs onto the caller/receiver slots. The provider
// reports the dialed (caller) leg first.
func applyLegs(sess *Session, legs []telephony.Leg) {
	if len(legs) > 0 {
		sess.CallerLeg = LegOutcome{
			Status:          strings.ToLower(legs[0].Status),
			DurationSeconds: legs[0].DurationSeconds,
		}
	}
	if len(legs) > 1 {
		sess.ReceiverLeg = LegOutcome{
			Status:          strings.ToLower(legs[1].Status),
			DurationSeconds: legs[1].DurationSeconds,
		}
	}
}

func parseEventTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
