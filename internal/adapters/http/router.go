package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/Courier/internal/adapters"
	"github.com/avdeev/Courier/internal/app"
	"github.com/avdeev/Courier/internal/auth"
	"github.com/avdeev/Courier/internal/config"
	"github.com/avdeev/Courier/internal/core"
)

// Deps bundles everything the HTTP surface talks to.
type Deps struct {
	Tokens   *auth.Tokens
	Users    core.UserStore
	Groups   core.GroupStore
	Messages core.MessageStore
	Backlog  core.BacklogStore
	Sender   *app.Sender
	Delivery *app.Delivery
	Registry *app.Registry
	Mutator  *app.MessageMutator
	Limiter  *app.SendLimiter
}

// SetupRouter wires REST + the two websocket endpoints.
func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{deps: d}

	r.GET("/health", h.health)
	r.POST("/token", h.createToken)
	r.POST("/user/create", h.createUser)

	authed := r.Group("/", h.requireUser)
	authed.GET("/user/me", h.me)
	authed.GET("/user/groups", h.userGroups)
	authed.GET("/user/unread-messages", h.unreadMessages)
	authed.POST("/group/create", h.createGroup)
	authed.POST("/group/join", h.joinGroup)
	authed.GET("/group/:id/members", h.groupMembers)
	authed.GET("/group/:id/messages", h.groupMessages)
	authed.GET("/group/:id/changes", h.groupChanges)
	authed.DELETE("/group/:id/changes", h.deleteGroupChanges)
	authed.GET("/message/:id/first-unread-message", h.firstUnread)
	authed.PUT("/message/:id", h.editMessage)
	authed.DELETE("/message/:id", h.deleteMessage)

	sendCtl := &adapters.SendController{
		Tokens:    d.Tokens,
		Authorize: d.Delivery.Authorize,
		Sender:    d.Sender,
		Registry:  d.Registry,
		Limiter:   d.Limiter,
		ReadLimit: cfg.ReadLimit,
	}
	deliveryCtl := &adapters.DeliveryController{
		Tokens:    d.Tokens,
		Authorize: d.Delivery.Authorize,
		Delivery:  d.Delivery,
		Registry:  d.Registry,
	}

	r.GET("/ws/send-message", func(c *gin.Context) {
		sendCtl.Handle(ctx, c)
	})
	r.GET("/ws/get-unread-messages", func(c *gin.Context) {
		deliveryCtl.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
