package main

import (
	"agent-softphone/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires the local control API to handlers.
// Keep this file free of session logic. Handlers hand intents to the coordinator.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, controlMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(controlMW)
	{
		v1.GET("/session", h.GetSession)
		v1.GET("/notices", h.ListNotices)

		offer := v1.Group("/offer")
		{
			offer.POST("/accept", h.AcceptOffer)
			offer.POST("/reject", h.RejectOffer)
		}

		calls := v1.Group("/calls")
		{
			calls.POST("", h.PlaceCall)
			calls.POST("/hangup", h.Hangup)
			calls.POST("/mute", h.ToggleMute)
			calls.POST("/participants", h.AddParticipant)
			calls.GET("/history", h.ListCallHistory)
			calls.GET("/summary", h.CallsSummary)
		}

		v1.POST("/endpoint/register", h.Register)
		v1.POST("/signaling/reconnect", h.Reconnect)
	}
}
