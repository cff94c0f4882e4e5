package models

import (
	"strconv"
	"time"
)

type MessageStatus string

const (
	MessageUnread MessageStatus = "UNREAD"
	MessageRead   MessageStatus = "READ"
)

// ChatMessage is a persisted message. ID is assigned by the durable store and,
// together with SentAt, gives a total order inside a room.
type ChatMessage struct {
	ID           uint          `gorm:"primaryKey;index:idx_room_sent,priority:3" bson:"_id" json:"id"`
	RoomToken    string        `gorm:"type:text;not null;index:idx_room_sent,priority:1;index:idx_room_receiver_status,priority:1" bson:"room_token" json:"roomToken"`
	SenderID     string        `gorm:"type:text;not null" bson:"sender_id" json:"senderId"`
	SenderName   string        `gorm:"type:text" bson:"sender_name" json:"senderName"`
	ReceiverID   string        `gorm:"type:text;not null;index:idx_room_receiver_status,priority:2" bson:"receiver_id" json:"receiverId"`
	ReceiverName string        `gorm:"type:text" bson:"receiver_name" json:"receiverName"`
	Content      string        `gorm:"type:text;not null" bson:"content" json:"content"`
	SentAt       time.Time     `gorm:"not null;index:idx_room_sent,priority:2" bson:"sent_at" json:"sentAt"`
	Status       MessageStatus `gorm:"type:text;not null;index:idx_room_receiver_status,priority:3" bson:"status" json:"status"`
}

// Before reports whether m sorts before o in (SentAt, ID) order.
func (m ChatMessage) Before(o ChatMessage) bool {
	if m.SentAt.Equal(o.SentAt) {
		return m.ID < o.ID
	}
	return m.SentAt.Before(o.SentAt)
}

// MessageView is the wire form of a message returned to clients.
type MessageView struct {
	MessageID    string        `json:"messageId"`
	RoomToken    string        `json:"roomToken"`
	SenderID     string        `json:"senderId"`
	SenderName   string        `json:"senderName"`
	ReceiverID   string        `json:"receiverId"`
	ReceiverName string        `json:"receiverName"`
	Content      string        `json:"content"`
	Timestamp    time.Time     `json:"timestamp"`
	Status       MessageStatus `json:"status"`
}

func (m ChatMessage) View() MessageView {
	return MessageView{
		MessageID:    strconv.FormatUint(uint64(m.ID), 10),
		RoomToken:    m.RoomToken,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		ReceiverID:   m.ReceiverID,
		ReceiverName: m.ReceiverName,
		Content:      m.Content,
		Timestamp:    m.SentAt,
		Status:       m.Status,
	}
}
