package handler

import (
	"errors"
	"net/http"

	"talkback/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type createRoomRequest struct {
	TargetID string `json:"targetId" binding:"required"`
	Message  string `json:"message" binding:"max=500"`
}

// CreateRoom надсилає запит на чат іншому учаснику
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	room, created, err := h.Chat.RequestChat(c.Request.Context(), memberID(c), req.TargetID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"roomToken": room.Token, "status": room.Status})
}

func (h *Handler) AcceptRoom(c *gin.Context) {
	room, err := h.Chat.Accept(c.Request.Context(), c.Param("room"), memberID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomToken": room.Token, "status": room.Status})
}

func (h *Handler) RejectRoom(c *gin.Context) {
	if err := h.Chat.Reject(c.Request.Context(), c.Param("room"), memberID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DisconnectRoom(c *gin.Context) {
	if err := h.Chat.Disconnect(c.Request.Context(), memberID(c), c.Param("room")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.Chat.Summaries(c.Request.Context(), memberID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *Handler) ListRequests(c *gin.Context) {
	var role models.MemberRole
	switch c.DefaultQuery("role", "received") {
	case "received":
		role = models.RoleReceiver
	case "sent":
		role = models.RoleSender
	default:
		badRequest(c, errors.New("role must be sent or received"))
		return
	}
	reqs, err := h.Chat.Requests(c.Request.Context(), memberID(c), role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}
