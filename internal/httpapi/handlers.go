package httpapi

import (
	"errors"
	"net/http"
	"time"

	"matchcall/internal/auth"
	"matchcall/internal/calls"
	"matchcall/internal/credits"
	"matchcall/internal/telephony"
	"matchcall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Calls   *calls.Service
	Credits *credits.Service

	// Now is injectable for deterministic tests; nil means time.Now.
	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Provider webhooks ---

// VoiceStatusWebhook receives telephony status callbacks. The provider
// retries on non-2xx, so processing failures still acknowledge: the stored
// record keeps the payload for replay. 400 is reserved for payloads with no
// call reference at all, which can never be correlated.
func (h Handlers) VoiceStatusWebhook(c *gin.Context) {
	log := logger.FromGin(c)

	event, raw, err := telephony.ParseStatusEvent(c.Request)
	if err != nil {
		log.Warn("unparseable webhook payload", "err", err)
	}
	if event.ProviderRef == "" {
		// Uncorrelatable, but the payload is still kept for inspection.
		if err := h.Calls.RecordInvalidWebhook(c.Request.Context(), raw); err != nil {
			log.Error("persist invalid webhook failed", "err", err)
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call reference required"})
		return
	}

	if err := h.Calls.HandleWebhook(c.Request.Context(), event, raw); err != nil {
		log.Error("webhook ingest failed", "provider_ref", event.ProviderRef, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Calls ---

type initiateCallRequest struct {
	ReceiverID string `json:"receiver_id"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ReceiverID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "receiver_id required"})
		return
	}

	res, err := h.Calls.Initiate(c.Request.Context(), callerID, req.ReceiverID)
	if err != nil {
		status, msg := initiateErrorStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func initiateErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, calls.ErrNoCredits):
		return http.StatusPaymentRequired, "no spendable credits"
	case errors.Is(err, calls.ErrTargetNoCredits):
		return http.StatusConflict, "receiver has no spendable credits"
	case errors.Is(err, calls.ErrNotMatched):
		return http.StatusForbidden, "users are not matched"
	case errors.Is(err, calls.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, calls.ErrMissingPhone):
		return http.StatusConflict, "user has no registered phone number"
	default:
		var gwErr *telephony.GatewayError
		if errors.As(err, &gwErr) {
			return http.StatusBadGateway, "call could not be placed"
		}
		return http.StatusInternalServerError, "call initiation failed"
	}
}

// GetCall returns one session, visible only to its two parties.
func (h Handlers) GetCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	sessionID := c.Param("id")
	if sessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}

	sess, ok, err := h.Calls.Session(c.Request.Context(), sessionID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}
	if !ok || (sess.CallerID != userID && sess.ReceiverID != userID) {
		// Non-party callers get the same answer as a missing session.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// --- Credits ---

// GetCredits returns the caller's allocations and recent ledger.
func (h Handlers) GetCredits(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	allocs, err := h.Credits.Allocations(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credit lookup failed"})
		return
	}
	entries, err := h.Credits.Ledger(c.Request.Context(), userID, 50)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger lookup failed"})
		return
	}

	remaining := 0
	now := h.now().UTC()
	for _, a := range allocs {
		if a.Spendable(now) {
			remaining += a.Remaining
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"remaining":   remaining,
		"allocations": allocs,
		"ledger":      entries,
	})
}

type adminGrantRequest struct {
	UserID       string `json:"user_id"`
	Amount       int    `json:"amount"`
	ValidityDays int    `json:"validity_days"`
	Reason       string `json:"reason"`
}

// AdminGrantCredits creates a new allocation. RBAC: admin.
func (h Handlers) AdminGrantCredits(c *gin.Context) {
	var req adminGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ValidityDays <= 0 {
		req.ValidityDays = 30
	}

	a, err := h.Credits.Grant(c.Request.Context(), req.UserID, req.Amount,
		time.Duration(req.ValidityDays)*24*time.Hour, req.Reason)
	if err != nil {
		if errors.Is(err, credits.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, positive amount and reason required"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "grant failed"})
		return
	}
	c.JSON(http.StatusCreated, a)
}

type adminAdjustRequest struct {
	UserID string `json:"user_id"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// AdminAdjustCredits applies a correction to an existing allocation.
// RBAC: admin.
func (h Handlers) AdminAdjustCredits(c *gin.Context) {
	var req adminAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	a, err := h.Credits.Adjust(c.Request.Context(), req.UserID, req.Delta, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, credits.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, non-zero delta and reason required"})
		case errors.Is(err, credits.ErrNoAllocation):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no spendable allocation to adjust"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "adjust failed"})
		}
		return
	}
	c.JSON(http.StatusOK, a)
}
