package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"talkback/backend/internal/chat"

	"github.com/gin-gonic/gin"
)

type postMessageRequest struct {
	RoomToken string `json:"roomToken" binding:"required"`
	Content   string `json:"content"`
}

// PostMessage приймає нове повідомлення від автентифікованого учасника
func (h *Handler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	view, err := h.Chat.Submit(c.Request.Context(), chat.SubmitRequest{
		RoomToken: req.RoomToken,
		SenderID:  memberID(c),
		Content:   req.Content,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) RecentMessages(c *gin.Context) {
	room := c.Param("room")
	count, err := intQuery(c, "count")
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Chat.CanView(c.Request.Context(), room, memberID(c)); err != nil {
		respondError(c, err)
		return
	}
	views, err := h.Chat.Recent(c.Request.Context(), room, count)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) PreviousMessages(c *gin.Context) {
	room := c.Param("room")
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			badRequest(c, fmt.Errorf("before: %w", err))
			return
		}
		before = t
	}
	var beforeID uint64
	if raw := c.Query("beforeId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(c, fmt.Errorf("beforeId: %w", err))
			return
		}
		beforeID = id
	}
	size, err := intQuery(c, "size")
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := h.Chat.CanView(c.Request.Context(), room, memberID(c)); err != nil {
		respondError(c, err)
		return
	}
	views, err := h.Chat.Previous(c.Request.Context(), room, before, uint(beforeID), size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) MarkRoomRead(c *gin.Context) {
	n, err := h.Chat.MarkRead(c.Request.Context(), c.Param("room"), memberID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) RoomUnreadCount(c *gin.Context) {
	n, err := h.Chat.UnreadCount(c.Request.Context(), c.Param("room"), memberID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": n})
}

func (h *Handler) EnterRoom(c *gin.Context) {
	if err := h.Chat.Enter(c.Request.Context(), memberID(c), c.Param("room")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	if err := h.Chat.Leave(c.Request.Context(), memberID(c), c.Param("room")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// intQuery reads an optional integer query parameter; absent means 0.
func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
