package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"matchcall/internal/credits"
	"matchcall/internal/monitoring"
	"matchcall/internal/telephony"
	"matchcall/internal/users"

	"github.com/google/uuid"
)

// Precondition failures reported synchronously to the caller of Initiate.
// None of them leave side effects; the client may fix the cause and retry.
var (
	ErrNoCredits       = errors.New("calls: caller has no spendable credits")
	ErrTargetNoCredits = errors.New("calls: target has no spendable credits")
	ErrUserNotFound    = errors.New("calls: user not found or inactive")
	ErrMissingPhone    = errors.New("calls: user has no registered phone number")
	ErrNotMatched      = errors.New("calls: users are not matched")
)

// Service orchestrates call sessions: initiation, webhook ingestion,
// settlement and reconciliation all go through it so the state machine and
// the money invariants live in one place.
type Service struct {
	repo    Repository
	credits *credits.Service
	users   users.Directory
	gateway telephony.Gateway
	tx      TxRunner
	log     *slog.Logger
	metrics *monitoring.Metrics

	costPerMinute      int
	settlementDisabled bool
	gatewayCallerID    string
	callbackURL        string

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Params struct {
	Repo    Repository
	Credits *credits.Service
	Users   users.Directory
	Gateway telephony.Gateway
	Tx      TxRunner
	Logger  *slog.Logger
	Metrics *monitoring.Metrics

	CostPerMinute      int
	SettlementDisabled bool
	GatewayCallerID    string
	CallbackURL        string
}

func NewService(p Params) *Service {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Metrics == nil {
		p.Metrics = monitoring.New(nil)
	}
	if p.CostPerMinute <= 0 {
		p.CostPerMinute = 1
	}
	return &Service{
		repo:               p.Repo,
		credits:            p.Credits,
		users:              p.Users,
		gateway:            p.Gateway,
		tx:                 p.Tx,
		log:                p.Logger,
		metrics:            p.Metrics,
		costPerMinute:      p.CostPerMinute,
		settlementDisabled: p.SettlementDisabled,
		gatewayCallerID:    p.GatewayCallerID,
		callbackURL:        p.CallbackURL,
		clock:              time.Now,
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *Service) WithClock(fn func() time.Time) *Service {
	s.clock = fn
	return s
}

type InitiateResult struct {
	SessionID   string `json:"session_id"`
	ProviderRef string `json:"provider_ref"`
}

// connectMetadata rides the provider's custom field so a callback can be
// correlated even if the provider_ref lookup ever fails. Primary correlation
// stays the stored provider_ref.
type connectMetadata struct {
	CallerID   string `json:"caller_id"`
	ReceiverID string `json:"receiver_id"`
	SessionID  string `json:"session_id"`
}

// Initiate validates preconditions, creates the session, places exactly one
// connect-request at the gateway, and persists the provider reference — all
// in one transaction. A gateway failure rolls the session back entirely;
// credits are checked here, never reserved (settlement happens at terminal
// state).
func (s *Service) Initiate(ctx context.Context, callerID, receiverID string) (InitiateResult, error) {
	if callerID == "" || receiverID == "" {
		return InitiateResult{}, fmt.Errorf("calls: caller and receiver ids are required")
	}
	if callerID == receiverID {
		s.metrics.InitiationPrecondFail.WithLabelValues("not_matched").Inc()
		return InitiateResult{}, ErrNotMatched
	}

	var out InitiateResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if ok, err := s.credits.HasSpendableCredit(ctx, callerID); err != nil {
			return err
		} else if !ok {
			s.metrics.InitiationPrecondFail.WithLabelValues("no_credits").Inc()
			return ErrNoCredits
		}
		if ok, err := s.credits.HasSpendableCredit(ctx, receiverID); err != nil {
			return err
		} else if !ok {
			s.metrics.InitiationPrecondFail.WithLabelValues("target_no_credits").Inc()
			return ErrTargetNoCredits
		}

		caller, receiver, err := s.lookupParties(ctx, callerID, receiverID)
		if err != nil {
			return err
		}

		if matched, err := s.users.Matched(ctx, callerID, receiverID); err != nil {
			return err
		} else if !matched {
			s.metrics.InitiationPrecondFail.WithLabelValues("not_matched").Inc()
			return ErrNotMatched
		}

		now := s.clock().UTC()
		sess := Session{
			ID:         uuid.NewString(),
			CallerID:   callerID,
			ReceiverID: receiverID,
			Status:     StatusInitiated,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.repo.InsertSession(ctx, sess); err != nil {
			return err
		}
		if err := s.credits.RecordInitiation(ctx, callerID, receiverID, sess.ID); err != nil {
			return err
		}

		meta, err := json.Marshal(connectMetadata{
			CallerID:   callerID,
			ReceiverID: receiverID,
			SessionID:  sess.ID,
		})
		if err != nil {
			return err
		}

		// One outbound attempt per invocation; retry policy belongs to the
		// caller of this API. Failure here rolls back the session insert
		// and both breadcrumbs.
		resp, err := s.gateway.Connect(ctx, telephony.ConnectRequest{
			From:        caller.Phone,
			To:          receiver.Phone,
			CallerID:    s.gatewayCallerID,
			CallbackURL: s.callbackURL,
			Metadata:    string(meta),
		})
		if err != nil {
			return err
		}

		sess.ProviderRef = resp.ProviderRef
		sess.UpdatedAt = s.clock().UTC()
		if err := s.repo.UpdateSession(ctx, sess); err != nil {
			return err
		}

		out = InitiateResult{SessionID: sess.ID, ProviderRef: sess.ProviderRef}
		return nil
	})
	if err != nil {
		return InitiateResult{}, err
	}

	s.metrics.CallsInitiated.Inc()
	s.log.Info("call initiated",
		"session_id", out.SessionID,
		"provider_ref", out.ProviderRef,
		"caller_id", callerID,
		"receiver_id", receiverID,
	)
	return out, nil
}

func (s *Service) lookupParties(ctx context.Context, callerID, receiverID string) (users.User, users.User, error) {
	var zero users.User
	caller, ok, err := s.users.User(ctx, callerID)
	if err != nil {
		return zero, zero, err
	}
	if !ok || !caller.Active {
		s.metrics.InitiationPrecondFail.WithLabelValues("user_not_found").Inc()
		return zero, zero, ErrUserNotFound
	}
	receiver, ok, err := s.users.User(ctx, receiverID)
	if err != nil {
		return zero, zero, err
	}
	if !ok || !receiver.Active {
		s.metrics.InitiationPrecondFail.WithLabelValues("user_not_found").Inc()
		return zero, zero, ErrUserNotFound
	}
	if caller.Phone == "" || receiver.Phone == "" {
		s.metrics.InitiationPrecondFail.WithLabelValues("missing_phone").Inc()
		return zero, zero, ErrMissingPhone
	}
	return caller, receiver, nil
}

// Session returns one session by id.
func (s *Service) Session(ctx context.Context, id string) (Session, bool, error) {
	if id == "" {
		return Session{}, false, fmt.Errorf("calls: session id is required")
	}
	return s.repo.SessionByID(ctx, id)
}

// UnprocessedWebhooks exposes the inspection queue to operators.
func (s *Service) UnprocessedWebhooks(ctx context.Context, limit int) ([]WebhookRecord, error) {
	return s.repo.UnprocessedWebhooks(ctx, limit)
}
