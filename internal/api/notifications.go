package api

import (
	"context"
	"net/http"

	"rental-service/internal/models"
	"rental-service/internal/service"

	"github.com/gin-gonic/gin"
)

// NotificationAPI serves a user's notifications
type NotificationAPI interface {
	List(ctx context.Context, actor service.Actor, unreadOnly bool, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, actor service.Actor) (int64, error)
	MarkRead(ctx context.Context, actor service.Actor, id int64) error
	MarkAllRead(ctx context.Context, actor service.Actor) (int64, error)
}

func (h *Handler) listNotifications(c *gin.Context) {
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}
	unreadOnly := c.Query("unread") == "true"

	list, err := h.notifications.List(c.Request.Context(), actorFrom(c), unreadOnly, int(limit))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *Handler) unreadNotifications(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), actorFrom(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) markAllNotificationsRead(c *gin.Context) {
	n, err := h.notifications.MarkAllRead(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}
