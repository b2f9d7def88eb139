package main

import (
	"callbridge/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	voice := r.Group("/voice")
	{
		// Client-facing call control.
		voice.POST("/prepare-call", h.PrepareCall)
		voice.POST("/trigger-customer-call", h.TriggerCustomerCall)
		voice.PUT("/calls/:uuid/hangup", h.Hangup)
		voice.POST("/test-call", h.TestCall)
		voice.GET("/sdk-token", h.SDKToken)

		// Provider webhooks. The event webhook authenticates itself via
		// the signed token in its query string; the answer webhook is
		// reached only through the provider's configured answer URL.
		voice.POST("/answer", h.Answer)
		voice.POST("/webhook/event", h.WebhookEvent)

		// Call records.
		voice.GET("/calls", h.ListCalls)
		voice.GET("/calls/:uuid", h.GetCall)
		voice.GET("/calls/:uuid/events", h.GetCallEvents)
	}
}
