package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/metrics"
	"talkback/backend/internal/models"

	"github.com/go-playground/validator/v10"
)

const previewLength = 100

type SubmitRequest struct {
	RoomToken string `json:"roomToken" validate:"required"`
	SenderID  string `json:"-" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

func (s *Service) validateSubmit(req SubmitRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Field() == "Content" {
					return fmt.Errorf("%w: content is %s", ErrInvalidContent, fe.Tag())
				}
			}
			return fmt.Errorf("%w: %s is %s", ErrInvalidRequest, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.Content) == "" {
		return fmt.Errorf("%w: content is blank", ErrInvalidContent)
	}
	if n := utf8.RuneCountInString(req.Content); n > s.opts.MaxContentLength {
		return fmt.Errorf("%w: %d characters, limit %d", ErrInvalidContent, n, s.opts.MaxContentLength)
	}
	return nil
}

// Submit accepts a message from an authenticated member. Once the message is
// durably stored Submit succeeds; cache, unread, notification and relay
// updates after that point are best effort and only logged on failure.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.MessageView, error) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.SubmitDuration, start)

	if err := s.validateSubmit(req); err != nil {
		metrics.SubmitFailures.WithLabelValues("validate").Inc()
		return nil, err
	}

	room, ms, err := s.memberRoom(ctx, req.RoomToken, req.SenderID)
	if err != nil {
		metrics.SubmitFailures.WithLabelValues("validate").Inc()
		return nil, err
	}
	if room.Status != models.RoomStatusAccepted && room.Status != models.RoomStatusPending {
		metrics.SubmitFailures.WithLabelValues("validate").Inc()
		return nil, fmt.Errorf("room %s is %s: %w", room.Token, room.Status, ErrForbidden)
	}

	receiver, ok := models.Counterpart(ms, req.SenderID)
	if !ok {
		metrics.SubmitFailures.WithLabelValues("validate").Inc()
		return nil, fmt.Errorf("room %s: %w", room.Token, ErrReceiverNotFound)
	}
	receiverProfile, err := s.Members.Resolve(ctx, receiver.MemberID)
	if err != nil {
		metrics.SubmitFailures.WithLabelValues("validate").Inc()
		return nil, fmt.Errorf("%s: %w", receiver.MemberID, ErrReceiverNotFound)
	}
	senderName := req.SenderID
	if sender, err := s.Members.Resolve(ctx, req.SenderID); err == nil {
		senderName = sender.DisplayName
	} else {
		logging.Ctx(ctx).Warn().Err(err).Str("user", req.SenderID).Msg("sender profile unavailable, using id as name")
	}

	msg := &models.ChatMessage{
		RoomToken:    room.Token,
		SenderID:     req.SenderID,
		SenderName:   senderName,
		ReceiverID:   receiverProfile.ID,
		ReceiverName: receiverProfile.DisplayName,
		Content:      req.Content,
		Status:       models.MessageUnread,
	}
	if err := s.Messages.SaveMessage(ctx, msg); err != nil {
		metrics.SubmitFailures.WithLabelValues("persist").Inc()
		logging.Ctx(ctx).Error().Err(err).Str("room", room.Token).Str("user", req.SenderID).Msg("failed to persist message")
		return nil, fmt.Errorf("persist message: %w", err)
	}
	metrics.MessagesSubmitted.Inc()

	// the caller already has its answer; side effects must not die with its context
	s.afterPersist(context.WithoutCancel(ctx), msg)
	view := msg.View()
	return &view, nil
}

func (s *Service) afterPersist(ctx context.Context, msg *models.ChatMessage) {
	log := logging.Ctx(ctx).With().
		Str("room", msg.RoomToken).
		Str("user", msg.ReceiverID).
		Uint("message_id", msg.ID).
		Logger()

	present, err := s.Presence.IsPresent(ctx, msg.ReceiverID, msg.RoomToken)
	if err != nil {
		metrics.SubmitFailures.WithLabelValues("presence").Inc()
		log.Warn().Err(err).Msg("presence lookup failed, treating receiver as away")
		present = false
	}

	staleWindow := false
	if present {
		// receiver is looking at the room
		n, err := s.Messages.MarkRead(ctx, msg.RoomToken, msg.ReceiverID)
		if err != nil {
			log.Warn().Err(err).Msg("mark read for present receiver failed")
		} else {
			msg.Status = models.MessageRead
			staleWindow = n > 1
		}
	}

	if staleWindow {
		if err := s.Cache.Evict(ctx, msg.RoomToken); err != nil {
			log.Warn().Err(err).Msg("recent cache evict failed")
		}
	} else if err := s.Cache.Append(ctx, *msg); err != nil {
		metrics.SubmitFailures.WithLabelValues("cache").Inc()
		log.Warn().Err(err).Msg("recent cache append failed, evicting window")
		// a window with a hole would hide the message from recent reads
		if err := s.Cache.Evict(ctx, msg.RoomToken); err != nil {
			log.Warn().Err(err).Msg("recent cache evict failed")
		}
	}

	view := msg.View()
	if present {
		s.Live.Push(ctx, msg.ReceiverID, models.PushEvent{
			EventID:   view.MessageID,
			EventType: models.EventMessage,
			Payload:   view,
		})
	} else {
		if _, _, err := s.Unread.Increment(ctx, msg.RoomToken, msg.ReceiverID); err != nil {
			metrics.SubmitFailures.WithLabelValues("unread").Inc()
			log.Warn().Err(err).Msg("unread increment failed")
		}
		payload := models.ChatPayload{
			RoomToken:  msg.RoomToken,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			MessageID:  view.MessageID,
			Preview:    preview(msg.Content),
		}
		if _, res, err := s.Notifier.Notify(ctx, msg.ReceiverID, payload); err != nil {
			metrics.SubmitFailures.WithLabelValues("notify").Inc()
			log.Warn().Err(err).Msg("chat notification failed")
		} else {
			log.Debug().Str("push", res.String()).Msg("chat notification stored")
		}
	}

	if s.Relay == nil {
		return
	}
	if err := s.Relay.Emit(ctx, models.NewMessageCreatedEvent(*msg)); err != nil {
		metrics.SubmitFailures.WithLabelValues("relay").Inc()
		log.Warn().Err(err).Msg("message created event not queued")
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	r := []rune(content)
	return string(r[:previewLength]) + "…"
}
