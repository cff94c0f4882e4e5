package handler

import (
	"talkback/backend/internal/chat"
	"talkback/backend/internal/chathub"
	"talkback/backend/internal/notification"
	"talkback/backend/internal/storage"
)

// Handler містить сервіси, які обслуговують HTTP API
type Handler struct {
	Chat          *chat.Service
	Notifications *notification.Service
	Hub           *chathub.ManagerService
	Members       storage.MemberStore
	Auth          *Authenticator
	// SendBuffer is the per-stream outbound queue length.
	SendBuffer int
}

func NewHandler(chatSvc *chat.Service, notes *notification.Service, hub *chathub.ManagerService, members storage.MemberStore, auth *Authenticator, sendBuffer int) *Handler {
	return &Handler{
		Chat:          chatSvc,
		Notifications: notes,
		Hub:           hub,
		Members:       members,
		Auth:          auth,
		SendBuffer:    sendBuffer,
	}
}
