package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/Courier/internal/app"
	"github.com/avdeev/Courier/internal/auth"
	"github.com/avdeev/Courier/internal/core"
	"github.com/avdeev/Courier/internal/domain"
)

type handlers struct {
	deps Deps
}

const ctxUserKey = "current_user"

func (h *handlers) requireUser(c *gin.Context) {
	raw := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok {
		// Browsers cannot set headers on websocket upgrades, so the
		// REST surface also accepts the query form.
		token = c.Query("token")
	}
	user, err := h.deps.Tokens.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}
	c.Set(ctxUserKey, user)
	c.Next()
}

func currentUser(c *gin.Context) *domain.User {
	return c.MustGet(ctxUserKey).(*domain.User)
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad id"})
		return 0, false
	}
	return id, true
}

// requireMember is the shared membership gate for group-scoped reads.
func (h *handlers) requireMember(c *gin.Context, groupID domain.GroupID) bool {
	if _, err := h.deps.Groups.GroupByID(c.Request.Context(), groupID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such group"})
			return false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return false
	}
	user := currentUser(c)
	ok, err := h.deps.Groups.IsMember(c.Request.Context(), user.ID, groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return false
	}
	return true
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) createToken(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	user, err := h.deps.Tokens.Login(c.Request.Context(), username, password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect username or password"})
		return
	}
	token, err := h.deps.Tokens.Mint(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

func (h *handlers) createUser(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
		FullName string `json:"full_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username or password"})
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	user, err := h.deps.Users.CreateUser(c.Request.Context(), req.Username, hash, req.Email, req.FullName)
	if err != nil {
		if errors.Is(err, core.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		if errors.Is(err, domain.ErrUsernameEmpty) || errors.Is(err, domain.ErrUsernameTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Str("module", "adapters.http").Err(err).Msg("create user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *handlers) me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (h *handlers) userGroups(c *gin.Context) {
	user := currentUser(c)
	groups, err := h.deps.Groups.GroupsOf(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if groups == nil {
		groups = []*domain.Group{}
	}
	c.JSON(http.StatusOK, gin.H{"user_id": user.ID, "groups": groups})
}

func (h *handlers) unreadMessages(c *gin.Context) {
	user := currentUser(c)
	entries, err := h.deps.Backlog.UnreadFor(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"user_id":    e.UserID,
			"message_id": e.MessageID,
			"group_id":   e.GroupID,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) createGroup(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Address == "" || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing address or name"})
		return
	}
	ctx := c.Request.Context()
	group, err := h.deps.Groups.CreateGroup(ctx, req.Address, req.Name)
	if err != nil {
		if errors.Is(err, core.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "address taken"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	user := currentUser(c)
	if err := h.deps.Groups.JoinGroup(ctx, user.ID, group.ID, domain.RoleAdmin); err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("creator join failed")
	}
	c.JSON(http.StatusOK, group)
}

func (h *handlers) joinGroup(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing address"})
		return
	}
	ctx := c.Request.Context()
	group, err := h.deps.Groups.GroupByAddress(ctx, req.Address)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such group"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	user := currentUser(c)
	if err := h.deps.Groups.JoinGroup(ctx, user.ID, group.ID, domain.RoleMember); err != nil {
		if errors.Is(err, core.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "already a member"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, true)
}

func (h *handlers) groupMembers(c *gin.Context) {
	gid, ok := idParam(c)
	if !ok {
		return
	}
	if !h.requireMember(c, domain.GroupID(gid)) {
		return
	}
	members, err := h.deps.Groups.MembersOf(c.Request.Context(), domain.GroupID(gid))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	usernames := make([]string, 0, len(members))
	for _, m := range members {
		usernames = append(usernames, m.User.Username)
	}
	c.JSON(http.StatusOK, gin.H{"group_id": gid, "members": usernames})
}

func (h *handlers) groupMessages(c *gin.Context) {
	gid, ok := idParam(c)
	if !ok {
		return
	}
	if !h.requireMember(c, domain.GroupID(gid)) {
		return
	}
	user := currentUser(c)
	msgs, err := h.deps.Messages.ReadMessages(c.Request.Context(), user.ID, domain.GroupID(gid))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, gin.H{
			"username":     m.SenderName,
			"message_id":   m.ID,
			"datetime":     m.CreatedAt,
			"message_text": m.Text,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) groupChanges(c *gin.Context) {
	gid, ok := idParam(c)
	if !ok {
		return
	}
	if !h.requireMember(c, domain.GroupID(gid)) {
		return
	}
	changes, err := h.deps.Messages.ChangesByGroup(c.Request.Context(), domain.GroupID(gid))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, changes)
}

func (h *handlers) deleteGroupChanges(c *gin.Context) {
	gid, ok := idParam(c)
	if !ok {
		return
	}
	if !h.requireMember(c, domain.GroupID(gid)) {
		return
	}
	if err := h.deps.Messages.DeleteChangesByGroup(c.Request.Context(), domain.GroupID(gid)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// firstUnread answers GET /message/:id/first-unread-message where :id
// is the group id, mirroring the original route shape.
func (h *handlers) firstUnread(c *gin.Context) {
	gid, ok := idParam(c)
	if !ok {
		return
	}
	if !h.requireMember(c, domain.GroupID(gid)) {
		return
	}
	user := currentUser(c)
	id, found, err := h.deps.Backlog.FirstUnread(c.Request.Context(), user.ID, domain.GroupID(gid))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no unread messages"})
		return
	}
	c.JSON(http.StatusOK, id)
}

func (h *handlers) editMessage(c *gin.Context) {
	mid, ok := idParam(c)
	if !ok {
		return
	}
	newText := c.Query("changed_message")
	if newText == "" {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing new text"})
			return
		}
		newText = req.Text
	}
	user := currentUser(c)
	text, err := h.deps.Mutator.Edit(c.Request.Context(), user.ID, domain.MessageID(mid), newText)
	if err != nil {
		h.mutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, text)
}

func (h *handlers) deleteMessage(c *gin.Context) {
	mid, ok := idParam(c)
	if !ok {
		return
	}
	user := currentUser(c)
	text, err := h.deps.Mutator.Delete(c.Request.Context(), user.ID, domain.MessageID(mid))
	if err != nil {
		h.mutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, text)
}

func (h *handlers) mutationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
	case errors.Is(err, domain.ErrTextTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Str("module", "adapters.http").Err(err).Msg("message mutation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
