package handler

import (
	"errors"
	"net/http"

	"talkback/backend/internal/chat"
	"talkback/backend/internal/logging"
	"talkback/backend/internal/notification"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrRoomNotFound),
		errors.Is(err, chat.ErrReceiverNotFound),
		errors.Is(err, chat.ErrMemberNotFound),
		errors.Is(err, notification.ErrNotificationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrInvalidContent), errors.Is(err, chat.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrInvalidRoomState):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logging.Ctx(c.Request.Context()).Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
