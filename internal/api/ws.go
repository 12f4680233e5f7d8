package api

import (
	"rental-service/internal/realtime"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// serveWS upgrades an authenticated request to a realtime websocket
func (h *Handler) serveWS(c *gin.Context) {
	actor := actorFrom(c)
	identity := realtime.Identity{UserID: actor.UserID, Role: actor.Role}

	if err := realtime.ServeWS(c.Request.Context(), h.hub, h.authorizer, identity, c.Writer, c.Request); err != nil {
		// the upgrader has already written the error response
		h.logger.Warn("Websocket upgrade failed", zap.Int64("user_id", actor.UserID), zap.Error(err))
	}
}
