package httpapi

import (
	"errors"
	"net/http"

	"callbridge/internal/events"
	"callbridge/internal/installation"
	"callbridge/internal/orchestrator"
	"callbridge/internal/vonage"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Installations *installation.Service
	Orchestrator  *orchestrator.Service
	Ingestor      *events.Ingestor
	Tokens        *vonage.Signer
}

// legacyError is the error envelope the softphone client expects. The
// client treats every HTTP 200 body with err=true as a soft failure, so
// these endpoints respond 200 even on error.
func legacyError(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"err": true, "log": msg})
}

// --- Call setup ---

type prepareCallRequest struct {
	UserID         string `json:"userId"`
	CustomerNumber string `json:"customerNumber"`
}

// PrepareCall stores the customer number the operator is about to dial,
// keyed by operator id, for the answer webhook to pick up.
func (h Handlers) PrepareCall(c *gin.Context) {
	var req prepareCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.CustomerNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "userId and customerNumber required"})
		return
	}
	if err := h.Orchestrator.PrepareCall(c.Request.Context(), req.UserID, req.CustomerNumber); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "prepare failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "call prepared"})
}

// Answer handles the provider's answer webhook for the operator leg.
// The response body is the NCCO action array the provider executes; it
// must always be valid, so orchestration problems are logged and the
// operator is parked on hold regardless.
func (h Handlers) Answer(c *gin.Context) {
	params := map[string]any{}
	if err := c.ShouldBindJSON(&params); err != nil {
		// Some provider configurations deliver answer data as query
		// parameters instead of a JSON body.
		for key, values := range c.Request.URL.Query() {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}
	}
	ncco, err := h.Orchestrator.HandleAnswer(c.Request.Context(), params)
	if err != nil {
		logger.FromGin(c).Error("answer handling failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "answer failed"})
		return
	}
	c.JSON(http.StatusOK, ncco)
}

type triggerCustomerCallRequest struct {
	CustomerNumber   string `json:"customerNumber"`
	ConversationName string `json:"conversationName"`
	OperatorCallUUID string `json:"operatorCallUuid"`
}

// TriggerCustomerCall dials the customer leg directly, for clients that
// drive the second leg themselves instead of relying on the automatic
// post-answer dial.
func (h Handlers) TriggerCustomerCall(c *gin.Context) {
	var req triggerCustomerCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CustomerNumber == "" || req.ConversationName == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "customerNumber and conversationName required"})
		return
	}
	if _, err := h.Orchestrator.DialCustomer(c.Request.Context(), req.CustomerNumber, req.ConversationName, req.OperatorCallUUID); err != nil {
		legacyError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "customer call triggered"})
}

// Hangup tears down the operator leg and its correlated customer leg.
func (h Handlers) Hangup(c *gin.Context) {
	uuid := c.Param("uuid")
	if uuid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "uuid required"})
		return
	}
	if err := h.Orchestrator.Hangup(c.Request.Context(), uuid); err != nil {
		legacyError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "call terminated"})
}

// TestCall dials the configured test number.
func (h Handlers) TestCall(c *gin.Context) {
	call, err := h.Orchestrator.TestCall(c.Request.Context())
	if err != nil {
		legacyError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, call)
}

// --- Credentials ---

// SDKToken issues a short-lived client SDK JWT for the softphone.
func (h Handlers) SDKToken(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		legacyError(c, "userId required")
		return
	}
	token, err := h.Tokens.ClientSDKToken(userID)
	if err != nil {
		logger.FromGin(c).Error("sdk token signing failed", "user_id", userID, "err", err)
		legacyError(c, "token signing failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// --- Webhooks ---

// WebhookEvent ingests a provider lifecycle event. The token in the
// query string is verified against this installation's shared secret
// before anything touches storage; an invalid token is answered 200 so
// the provider does not retry, but the payload is dropped.
func (h Handlers) WebhookEvent(c *gin.Context) {
	installationID := c.Query("installation_id")
	token := c.Query("token")

	valid, err := h.Installations.ValidateEventURLToken(c.Request.Context(), token, installationID)
	if err != nil {
		logger.FromGin(c).Error("webhook token validation failed", "err", err)
		legacyError(c, "Invalid token")
		return
	}
	if !valid {
		logger.FromGin(c).Warn("webhook rejected", "installation_id", installationID)
		legacyError(c, "Invalid token")
		return
	}

	payload := map[string]any{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		legacyError(c, "invalid payload")
		return
	}
	if err := h.Ingestor.HandleEvent(c.Request.Context(), payload); err != nil {
		logger.FromGin(c).Error("event ingestion failed", "err", err)
		legacyError(c, "event not processed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"err": false})
}

// --- Call records ---

func (h Handlers) ListCalls(c *gin.Context) {
	calls, err := h.Ingestor.ListCalls(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call listing failed"})
		return
	}
	c.JSON(http.StatusOK, calls)
}

func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Ingestor.CallByUUID(c.Request.Context(), c.Param("uuid"))
	switch {
	case errors.Is(err, events.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
	default:
		c.JSON(http.StatusOK, call)
	}
}

func (h Handlers) GetCallEvents(c *gin.Context) {
	call, err := h.Ingestor.CallByUUID(c.Request.Context(), c.Param("uuid"))
	switch {
	case errors.Is(err, events.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	list, err := h.Ingestor.EventsForCall(c.Request.Context(), call.ID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event listing failed"})
		return
	}
	c.JSON(http.StatusOK, list)
}
