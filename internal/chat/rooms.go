package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/models"
	"talkback/backend/internal/storage"
)

// RoomSummary is one entry of a member's room list.
type RoomSummary struct {
	RoomToken    string              `json:"roomToken"`
	Status       models.RoomStatus   `json:"status"`
	OpponentID   string              `json:"opponentId"`
	OpponentName string              `json:"opponentName"`
	LastMessage  *models.MessageView `json:"lastMessage,omitempty"`
	UnreadCount  int64               `json:"unreadCount"`
	CreatedAt    time.Time           `json:"createdAt"`
}

func (r RoomSummary) lastActivity() time.Time {
	if r.LastMessage != nil {
		return r.LastMessage.Timestamp
	}
	return r.CreatedAt
}

// RequestSummary is a pending chat request seen from one side.
type RequestSummary struct {
	RoomToken    string            `json:"roomToken"`
	Role         models.MemberRole `json:"role"`
	OpponentID   string            `json:"opponentId"`
	OpponentName string            `json:"opponentName"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// RequestChat opens a PENDING 1:1 room from requesterID to targetID and
// notifies the target. An existing room between the two is returned as is;
// created reports which case happened.
func (s *Service) RequestChat(ctx context.Context, requesterID, targetID, message string) (room *models.ChatRoom, created bool, err error) {
	if targetID == "" || requesterID == targetID {
		return nil, false, fmt.Errorf("%w: cannot request a chat with %q", ErrInvalidRequest, targetID)
	}
	requester, err := s.Members.Resolve(ctx, requesterID)
	if err != nil {
		return nil, false, fmt.Errorf("requester %s: %w", requesterID, err)
	}
	if _, err := s.Members.Resolve(ctx, targetID); err != nil {
		return nil, false, fmt.Errorf("target %s: %w", targetID, err)
	}

	existing, err := s.Rooms.RoomBetween(ctx, requesterID, targetID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	joined := nowUTC()
	room = &models.ChatRoom{
		Type:         models.RoomTypeOneToOne,
		Status:       models.RoomStatusPending,
		Participants: []string{requesterID, targetID},
	}
	members := []models.RoomMember{
		{MemberID: requesterID, Role: models.RoleSender, Status: models.MemberStatusJoined, JoinedAt: &joined},
		{MemberID: targetID, Role: models.RoleReceiver, Status: models.MemberStatusPending},
	}
	if err := s.Rooms.CreateRoom(ctx, room, members); err != nil {
		return nil, false, fmt.Errorf("create room: %w", err)
	}

	payload := models.ChatRequestPayload{
		RoomToken:     room.Token,
		RequesterID:   requesterID,
		RequesterName: requester.DisplayName,
		Message:       message,
	}
	if _, _, err := s.Notifier.Notify(context.WithoutCancel(ctx), targetID, payload); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("room", room.Token).Str("user", targetID).Msg("chat request notification failed")
	}
	return room, true, nil
}

// Accept lets the receiver of a request join the room. Accepting an already
// accepted room is a no-op.
func (s *Service) Accept(ctx context.Context, roomToken, memberID string) (*models.ChatRoom, error) {
	room, members, err := s.memberRoom(ctx, roomToken, memberID)
	if err != nil {
		return nil, err
	}
	switch room.Status {
	case models.RoomStatusAccepted:
		return room, nil
	case models.RoomStatusRejected:
		return nil, fmt.Errorf("accept %s: room is %s: %w", roomToken, room.Status, ErrInvalidRoomState)
	}
	if me, _ := models.FindMember(members, memberID); me.Role != models.RoleReceiver {
		return nil, fmt.Errorf("only the receiver accepts %s: %w", roomToken, ErrForbidden)
	}

	if err := s.Rooms.AcceptRoom(ctx, room.ID, memberID, nowUTC()); err != nil {
		return nil, fmt.Errorf("accept %s: %w", roomToken, err)
	}
	room.Status = models.RoomStatusAccepted

	s.notifyRequester(ctx, room, members, memberID, "Chat request accepted", "%s accepted your chat request", "CHAT_ACCEPTED")
	return room, nil
}

// Reject lets the receiver decline a pending request. The room is removed.
func (s *Service) Reject(ctx context.Context, roomToken, memberID string) error {
	room, members, err := s.memberRoom(ctx, roomToken, memberID)
	if err != nil {
		return err
	}
	if room.Status == models.RoomStatusAccepted {
		return fmt.Errorf("reject %s: room is %s: %w", roomToken, room.Status, ErrInvalidRoomState)
	}
	if me, _ := models.FindMember(members, memberID); me.Role != models.RoleReceiver {
		return fmt.Errorf("only the receiver rejects %s: %w", roomToken, ErrForbidden)
	}

	if err := s.Rooms.DeleteRoom(ctx, room.ID); err != nil {
		return fmt.Errorf("reject %s: %w", roomToken, err)
	}
	s.notifyRequester(ctx, room, members, memberID, "Chat request declined", "%s declined your chat request", "CHAT_REJECTED")
	return nil
}

func (s *Service) notifyRequester(ctx context.Context, room *models.ChatRoom, members []models.RoomMember, actorID, title, format, category string) {
	requesterID, ok := models.RequesterOf(members)
	if !ok || requesterID == actorID {
		return
	}
	name := actorID
	if actor, err := s.Members.Resolve(ctx, actorID); err == nil {
		name = actor.DisplayName
	}
	payload := models.SystemPayload{
		Title:    title,
		Content:  fmt.Sprintf(format, name),
		Category: category,
	}
	if _, _, err := s.Notifier.Notify(context.WithoutCancel(ctx), requesterID, payload); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("room", room.Token).Str("user", requesterID).Msg("request outcome notification failed")
	}
}

// Disconnect removes memberID from the room. The last member leaving deletes
// the room and its cached window.
func (s *Service) Disconnect(ctx context.Context, memberID, roomToken string) error {
	room, members, err := s.memberRoom(ctx, roomToken, memberID)
	if err != nil {
		return err
	}
	if err := s.Rooms.DeleteMember(ctx, room.ID, memberID); err != nil {
		return fmt.Errorf("disconnect %s: %w", roomToken, err)
	}
	log := logging.Ctx(ctx).With().Str("room", roomToken).Str("user", memberID).Logger()
	if err := s.Presence.Leave(ctx, memberID, roomToken); err != nil {
		log.Warn().Err(err).Msg("presence leave failed")
	}
	if err := s.Unread.Reset(ctx, roomToken, memberID); err != nil {
		log.Warn().Err(err).Msg("unread reset failed")
	}
	if len(members) > 1 {
		return nil
	}
	if err := s.Rooms.DeleteRoom(ctx, room.ID); err != nil {
		return fmt.Errorf("delete empty room %s: %w", roomToken, err)
	}
	if err := s.Cache.Evict(ctx, roomToken); err != nil {
		log.Warn().Err(err).Msg("recent cache evict failed")
	}
	return nil
}

// Summaries lists memberID's rooms, most recently active first.
func (s *Service) Summaries(ctx context.Context, memberID string) ([]RoomSummary, error) {
	rooms, err := s.Rooms.RoomsFor(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("rooms of %s: %w", memberID, err)
	}
	out := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		sum := RoomSummary{RoomToken: room.Token, Status: room.Status, CreatedAt: room.CreatedAt}

		members, err := s.Rooms.MembersOf(ctx, room.ID)
		if err != nil {
			return nil, fmt.Errorf("members of %s: %w", room.Token, err)
		}
		if other, ok := models.Counterpart(members, memberID); ok {
			sum.OpponentID = other.MemberID
			sum.OpponentName = s.displayName(ctx, other.MemberID)
		}

		last, err := s.Messages.LastMessage(ctx, room.Token)
		if err != nil {
			return nil, fmt.Errorf("last message of %s: %w", room.Token, err)
		}
		if last != nil {
			v := last.View()
			sum.LastMessage = &v
		}

		if sum.UnreadCount, err = s.unreadCount(ctx, room.Token, memberID); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	slices.SortStableFunc(out, func(a, b RoomSummary) int {
		return b.lastActivity().Compare(a.lastActivity())
	})
	return out, nil
}

// Requests lists pending rooms where memberID holds role: SENDER for requests
// they sent, RECEIVER for requests waiting on them.
func (s *Service) Requests(ctx context.Context, memberID string, role models.MemberRole) ([]RequestSummary, error) {
	if role != models.RoleSender && role != models.RoleReceiver {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidRequest, role)
	}
	rooms, err := s.Rooms.PendingRoomsFor(ctx, memberID, role)
	if err != nil {
		return nil, fmt.Errorf("pending rooms of %s: %w", memberID, err)
	}
	out := make([]RequestSummary, 0, len(rooms))
	for _, room := range rooms {
		req := RequestSummary{RoomToken: room.Token, Role: role, CreatedAt: room.CreatedAt}
		for _, p := range room.Participants {
			if p != memberID {
				req.OpponentID = p
				req.OpponentName = s.displayName(ctx, p)
				break
			}
		}
		out = append(out, req)
	}
	slices.SortStableFunc(out, func(a, b RequestSummary) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return out, nil
}

func (s *Service) displayName(ctx context.Context, memberID string) string {
	m, err := s.Members.Resolve(ctx, memberID)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("user", memberID).Msg("profile unavailable")
		return ""
	}
	return m.DisplayName
}
