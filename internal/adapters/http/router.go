package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/adapters/events"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *Handlers, hub *events.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CollabSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.POST("/relay/send", h.RelaySend)
	api.POST("/relay/receive", h.RelayReceive)

	api.POST("/sessions/request", h.RequestSession)
	api.POST("/sessions/:sessionId/ballot", h.CastBallot)
	api.POST("/sessions/:sessionId/stop", h.StopSession)
	api.GET("/sessions/:sessionId", h.GetSession)

	api.GET("/rooms/:roomId/sessions", h.SessionHistory)
	api.GET("/rooms/:roomId/sessions/active", h.ActiveSession)
	api.POST("/rooms/:roomId/join", h.JoinRoom)
	api.POST("/rooms/:roomId/leave", h.LeaveRoom)

	api.GET("/ws/rooms/:roomId/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("room", c.Param("roomId")).Msg("events subscription")
		hub.HandleSubscribe(ctx, c)
	})

	return r
}
