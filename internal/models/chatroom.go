package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

type RoomType string

const (
	RoomTypeOneToOne  RoomType = "ONE_TO_ONE"
	RoomTypeOneToMany RoomType = "ONE_TO_MANY"
)

type RoomStatus string

const (
	RoomStatusPending  RoomStatus = "PENDING"
	RoomStatusAccepted RoomStatus = "ACCEPTED"
	RoomStatusRejected RoomStatus = "REJECTED"
)

// CanTransition reports whether a room may move from s to next.
// Status only moves forward: PENDING -> ACCEPTED | REJECTED.
func (s RoomStatus) CanTransition(next RoomStatus) bool {
	if s == next {
		return true
	}
	return s == RoomStatusPending && (next == RoomStatusAccepted || next == RoomStatusRejected)
}

// ChatRoom is a 1:1 conversation between two members.
type ChatRoom struct {
	// ID is the internal key that RoomMember rows point to.
	ID uint `gorm:"primaryKey" json:"-"`
	// Token is the public room identifier (UUID) used by clients and cache keys.
	Token  string     `gorm:"type:text;uniqueIndex;not null" json:"roomToken"`
	Type   RoomType   `gorm:"type:text;not null" json:"type"`
	Status RoomStatus `gorm:"type:text;not null;index" json:"status"`
	// Participants is a denormalized list of member ids for "rooms of member X" lookups.
	Participants pq.StringArray `gorm:"type:text[]" json:"participants"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// BeforeCreate fills the token and the default type/status.
func (r *ChatRoom) BeforeCreate(tx *gorm.DB) (err error) {
	if r.Token == "" {
		r.Token = uuid.New().String()
	}
	if r.Type == "" {
		r.Type = RoomTypeOneToOne
	}
	if r.Status == "" {
		r.Status = RoomStatusPending
	}
	return
}

// HasParticipant reports whether memberID is listed in the room.
func (r *ChatRoom) HasParticipant(memberID string) bool {
	for _, p := range r.Participants {
		if p == memberID {
			return true
		}
	}
	return false
}

type MemberRole string

const (
	RoleSender   MemberRole = "SENDER"
	RoleReceiver MemberRole = "RECEIVER"
)

type MemberStatus string

const (
	MemberStatusPending MemberStatus = "PENDING"
	MemberStatusJoined  MemberStatus = "JOINED"
)

// RoomMember links a member to a room. It references the room by id only.
type RoomMember struct {
	ID       uint         `gorm:"primaryKey" json:"-"`
	RoomID   uint         `gorm:"not null;uniqueIndex:idx_room_member" json:"-"`
	MemberID string       `gorm:"type:text;not null;uniqueIndex:idx_room_member;index" json:"memberId"`
	Role     MemberRole   `gorm:"type:text;not null" json:"role"`
	Status   MemberStatus `gorm:"type:text;not null" json:"status"`
	// JoinedAt is nil until the member joins the room.
	JoinedAt *time.Time `json:"joinedAt,omitempty"`
}

// FindMember returns the membership of memberID, if any.
func FindMember(members []RoomMember, memberID string) (RoomMember, bool) {
	for _, m := range members {
		if m.MemberID == memberID {
			return m, true
		}
	}
	return RoomMember{}, false
}

// Counterpart returns the single other member of a 1:1 room.
// ok is false when the membership does not contain exactly one other member.
func Counterpart(members []RoomMember, memberID string) (RoomMember, bool) {
	var (
		other RoomMember
		found int
	)
	for _, m := range members {
		if m.MemberID != memberID {
			other = m
			found++
		}
	}
	return other, found == 1
}

// RequesterOf returns the member who opened the room: the earliest joiner.
func RequesterOf(members []RoomMember) (string, bool) {
	var first *RoomMember
	for i := range members {
		m := &members[i]
		if m.JoinedAt == nil {
			continue
		}
		if first == nil || m.JoinedAt.Before(*first.JoinedAt) {
			first = m
		}
	}
	if first == nil {
		return "", false
	}
	return first.MemberID, true
}
