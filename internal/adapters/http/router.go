// Package http wires the broker and the provider admin surface into a
// gin router.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/freaksai/roomgate/internal/broker"
	"github.com/freaksai/roomgate/internal/config"
	"github.com/freaksai/roomgate/internal/provider"
)

func SetupRouter(cfg *config.Config, b *broker.Broker, admin provider.AdminAdapter) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{broker: b, admin: admin}

	video := r.Group("/video")
	// Any method reaches the token handler so the broker can answer
	// non-POST probes itself, before origin policy is consulted.
	video.Any("/token", h.issueToken)

	adm := video.Group("/admin")
	adm.POST("/mute", h.muteParticipant)
	adm.POST("/kick", h.kickParticipant)
	adm.GET("/participants", h.listParticipants)

	return r
}
