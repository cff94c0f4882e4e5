package chat

import (
	"context"
	"fmt"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/models"
)

// MarkRead resets the unread counter and flips every UNREAD message of the
// room addressed to userID. Repeating it changes nothing.
func (s *Service) MarkRead(ctx context.Context, roomToken, userID string) (int64, error) {
	if _, _, err := s.memberRoom(ctx, roomToken, userID); err != nil {
		return 0, err
	}
	return s.markRead(ctx, roomToken, userID)
}

func (s *Service) markRead(ctx context.Context, roomToken, userID string) (int64, error) {
	log := logging.Ctx(ctx).With().Str("room", roomToken).Str("user", userID).Logger()

	if err := s.Unread.Reset(ctx, roomToken, userID); err != nil {
		log.Warn().Err(err).Msg("unread reset failed")
	}
	n, err := s.Messages.MarkRead(ctx, roomToken, userID)
	if err != nil {
		return 0, fmt.Errorf("mark read %s: %w", roomToken, err)
	}
	if n > 0 {
		// cached copies still say UNREAD
		if err := s.Cache.Evict(ctx, roomToken); err != nil {
			log.Warn().Err(err).Msg("recent cache evict failed")
		}
	}
	return n, nil
}

// UnreadCount returns the counter when known, otherwise recomputes it from
// the durable store and seeds the counter.
func (s *Service) UnreadCount(ctx context.Context, roomToken, userID string) (int64, error) {
	if _, _, err := s.memberRoom(ctx, roomToken, userID); err != nil {
		return 0, err
	}
	return s.unreadCount(ctx, roomToken, userID)
}

func (s *Service) unreadCount(ctx context.Context, roomToken, userID string) (int64, error) {
	n, known, err := s.Unread.Get(ctx, roomToken, userID)
	if err == nil && known {
		return n, nil
	}
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("room", roomToken).Str("user", userID).Msg("unread counter read failed, recomputing")
	}
	return s.RecomputeUnread(ctx, roomToken, userID)
}

// RecomputeUnread counts UNREAD messages in the durable store and overwrites
// the counter with the result.
func (s *Service) RecomputeUnread(ctx context.Context, roomToken, userID string) (int64, error) {
	n, err := s.Messages.CountUnread(ctx, roomToken, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread %s: %w", roomToken, err)
	}
	if err := s.Unread.Set(ctx, roomToken, userID, n); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("room", roomToken).Str("user", userID).Msg("unread counter seed failed")
	}
	return n, nil
}

// Enter records that userID is viewing the room and marks it read.
func (s *Service) Enter(ctx context.Context, userID, roomToken string) error {
	if _, _, err := s.memberRoom(ctx, roomToken, userID); err != nil {
		return err
	}
	if err := s.Presence.Enter(ctx, userID, roomToken); err != nil {
		return fmt.Errorf("enter %s: %w", roomToken, err)
	}
	_, err := s.markRead(ctx, roomToken, userID)
	return err
}

// Leave clears the presence record if it still points at roomToken.
func (s *Service) Leave(ctx context.Context, userID, roomToken string) error {
	if err := s.Presence.Leave(ctx, userID, roomToken); err != nil {
		return fmt.Errorf("leave %s: %w", roomToken, err)
	}
	return nil
}

// HandleFrame serves enter/leave frames sent over a WebSocket stream.
func (s *Service) HandleFrame(ctx context.Context, userID string, frame models.ClientFrame) {
	var err error
	switch frame.Type {
	case "enter":
		err = s.Enter(ctx, userID, frame.RoomToken)
	case "leave":
		err = s.Leave(ctx, userID, frame.RoomToken)
	default:
		logging.Ctx(ctx).Debug().Str("user", userID).Str("frame", frame.Type).Msg("unknown client frame")
		return
	}
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user", userID).Str("room", frame.RoomToken).Str("frame", frame.Type).Msg("client frame failed")
	}
}
