package chat

import (
	"errors"

	"talkback/backend/internal/members"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrForbidden        = errors.New("not allowed in this room")
	ErrReceiverNotFound = errors.New("receiver not found")
	ErrInvalidContent   = errors.New("invalid message content")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidRoomState = errors.New("invalid room state")
	ErrMemberNotFound   = members.ErrMemberNotFound
)
