package handler

import (
	"net/http"

	"talkback/backend/internal/config"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListNotifications(c *gin.Context) {
	page, err := intQuery(c, "page")
	if err != nil {
		badRequest(c, err)
		return
	}
	size, err := intQuery(c, "size")
	if err != nil {
		badRequest(c, err)
		return
	}
	if size == 0 {
		size = config.NotificationPage
	}
	res, err := h.Notifications.List(c.Request.Context(), memberID(c), page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) NotificationUnreadCount(c *gin.Context) {
	n, err := h.Notifications.UnreadCount(c.Request.Context(), memberID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": n})
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	if err := h.Notifications.MarkRead(c.Request.Context(), memberID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
