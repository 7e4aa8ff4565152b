package adapters

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/Courier/internal/app"
	"github.com/avdeev/Courier/internal/auth"
	"github.com/avdeev/Courier/internal/domain"
)

var upgrader = websocket.Upgrader{
	// TODO: restrict origins once the frontend host is fixed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SendController serves /ws/send-message: inbound text frames become
// sends, and the same socket doubles as the best-effort push channel
// for messages from other members.
type SendController struct {
	Tokens    *auth.Tokens
	Authorize func(ctx context.Context, uid domain.UserID, groupID domain.GroupID) error
	Sender    *app.Sender
	Registry  *app.Registry
	Limiter   *app.SendLimiter
	ReadLimit int64
}

// admit upgrades and runs the shared credential/membership gate. The
// membership policy itself lives in the delivery core (Authorize);
// admit only maps its verdict to a close code. Returns a nil user when
// the connection was already closed with a policy code.
func admit(ctx context.Context, c *gin.Context, tokens *auth.Tokens, authorize func(context.Context, domain.UserID, domain.GroupID) error) (*websocket.Conn, *domain.User, domain.GroupID, bool) {
	token := c.Query("token")
	groupParam := c.Query("group_id")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Str("module", "adapters.ws").Err(err).Msg("upgrade failed")
		return nil, nil, 0, false
	}
	if token == "" || groupParam == "" {
		closeWithCode(ws, CloseUnauthorized, "missing credential")
		return nil, nil, 0, false
	}
	gid, err := strconv.ParseInt(groupParam, 10, 64)
	if err != nil {
		closeWithCode(ws, CloseForbidden, "bad group id")
		return nil, nil, 0, false
	}
	user, err := tokens.Authenticate(ctx, token)
	if err != nil {
		closeWithCode(ws, CloseUnauthorized, "invalid credential")
		return nil, nil, 0, false
	}
	if err := authorize(ctx, user.ID, domain.GroupID(gid)); err != nil {
		if errors.Is(err, app.ErrForbidden) {
			log.Warn().Str("module", "adapters.ws").Int64("user", int64(user.ID)).Int64("group", gid).Msg("not a member")
			closeWithCode(ws, CloseForbidden, "not a member")
			return nil, nil, 0, false
		}
		log.Error().Str("module", "adapters.ws").Err(err).Msg("membership check failed")
		closeWithCode(ws, websocket.CloseInternalServerErr, "internal error")
		return nil, nil, 0, false
	}
	return ws, user, domain.GroupID(gid), true
}

func (ctl *SendController) Handle(ctx context.Context, c *gin.Context) {
	ws, user, gid, ok := admit(ctx, c, ctl.Tokens, ctl.Authorize)
	if !ok {
		return
	}
	cid := uuid.NewString()
	log.Info().Str("module", "adapters.ws").Str("conn", cid).Int64("user", int64(user.ID)).Int64("group", int64(gid)).Msg("send socket open")

	conn := NewSendConn(ws)
	conn.StartWritePump()
	ctl.Registry.AddSend(user.ID, conn)
	defer func() {
		ctl.Registry.RemoveSend(user.ID, conn)
		conn.Close()
		log.Info().Str("module", "adapters.ws").Str("conn", cid).Int64("user", int64(user.ID)).Msg("send socket closed")
	}()

	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if ctl.Limiter != nil && !ctl.Limiter.Allow(user.ID) {
			log.Warn().Str("module", "adapters.ws").Int64("user", int64(user.ID)).Msg("send rate limited, frame dropped")
			continue
		}
		if _, err := ctl.Sender.Send(ctx, user.ID, gid, string(data)); err != nil {
			if errors.Is(err, app.ErrNotAMember) {
				closeWithCode(ws, CloseForbidden, "not a member")
				return
			}
			log.Error().Str("module", "adapters.ws").Str("conn", cid).Err(err).Msg("send failed")
		}
	}
}
