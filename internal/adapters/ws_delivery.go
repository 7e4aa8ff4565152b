package adapters

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/Courier/internal/app"
	"github.com/avdeev/Courier/internal/auth"
	"github.com/avdeev/Courier/internal/domain"
)

// DeliveryController serves /ws/get-unread-messages: the exclusive
// per-user backlog drain for one group. A second connection for the
// same user is refused with its own close code and the first one keeps
// draining undisturbed.
type DeliveryController struct {
	Tokens    *auth.Tokens
	Authorize func(ctx context.Context, uid domain.UserID, groupID domain.GroupID) error
	Delivery  *app.Delivery
	Registry  *app.Registry
}

func (ctl *DeliveryController) Handle(ctx context.Context, c *gin.Context) {
	ws, user, gid, ok := admit(ctx, c, ctl.Tokens, ctl.Authorize)
	if !ok {
		return
	}

	conn := NewDrainConn(ws)
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wake, err := ctl.Registry.RegisterDelivery(user.ID, conn)
	if err != nil {
		if errors.Is(err, app.ErrAlreadyConnected) {
			log.Warn().Str("module", "adapters.ws").Int64("user", int64(user.ID)).Msg("second delivery connection refused")
			closeWithCode(ws, CloseAlreadyConnected, "already connected")
			return
		}
		closeWithCode(ws, CloseUnauthorized, "registration failed")
		return
	}
	log.Info().Str("module", "adapters.ws").Int64("user", int64(user.ID)).Int64("group", int64(gid)).Msg("delivery socket open")

	// The client never sends application data here; reading only
	// surfaces the close frame so the drain loop stops promptly.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ctl.Delivery.Run(connCtx, user.ID, gid, conn, wake)
	conn.Close()
	log.Info().Str("module", "adapters.ws").Int64("user", int64(user.ID)).Msg("delivery socket closed")
}
