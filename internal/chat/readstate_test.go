package chat_test

import (
	"context"
	"testing"

	"talkback/backend/internal/chat"
	"talkback/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkRead_ClearsCounterAndDurableState(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	room := h.acceptedRoom(t)
	h.seed(t, room, 4)
	n, err := h.svc.UnreadCount(ctx, room, "B")
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	// Act
	updated, err := h.svc.MarkRead(ctx, room, "B")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated)
	n, known, err := h.unread.Get(ctx, room, "B")
	require.NoError(t, err)
	assert.True(t, known)
	assert.Zero(t, n)
	left, _ := h.store.UnreadFor(ctx, room, "B")
	assert.Empty(t, left)
}

func TestMarkRead_IsIdempotent(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	room := h.acceptedRoom(t)
	h.seed(t, room, 2)
	_, err := h.svc.MarkRead(ctx, room, "B")
	require.NoError(t, err)
	before, err := h.svc.Recent(ctx, room, 30)
	require.NoError(t, err)

	// Act
	updated, err := h.svc.MarkRead(ctx, room, "B")

	// Assert
	require.NoError(t, err)
	assert.Zero(t, updated)
	after, err := h.svc.Recent(ctx, room, 30)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	n, err := h.svc.UnreadCount(ctx, room, "B")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkRead_RejectsOutsiders(t *testing.T) {
	h := newHarness(t)
	room := h.acceptedRoom(t)

	_, err := h.svc.MarkRead(context.Background(), room, "C")

	assert.ErrorIs(t, err, chat.ErrForbidden)
}

func TestUnreadCount_LostCounterIsRecomputed(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	room := h.acceptedRoom(t)
	h.seed(t, room, 3)
	_, err := h.svc.UnreadCount(ctx, room, "B")
	require.NoError(t, err)
	h.mr.FlushAll()

	// Act
	n, err := h.svc.UnreadCount(ctx, room, "B")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	seeded, err := h.mr.Get("unread:chat:" + room + ":B")
	require.NoError(t, err)
	assert.Equal(t, "3", seeded)
}

func TestUnreadCount_KnownCounterIsIncremented(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	room := h.acceptedRoom(t)
	h.seed(t, room, 1)
	_, err := h.svc.UnreadCount(ctx, room, "B")
	require.NoError(t, err)

	// Act
	h.seed(t, room, 2)
	n, known, err := h.unread.Get(ctx, room, "B")

	// Assert
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, int64(3), n)
}

func TestEnter_MarksRoomReadAndSetsPresence(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	room := h.acceptedRoom(t)
	h.seed(t, room, 2)

	// Act
	err := h.svc.Enter(ctx, "B", room)

	// Assert
	require.NoError(t, err)
	present, err := h.presence.IsPresent(ctx, "B", room)
	require.NoError(t, err)
	assert.True(t, present)
	unread, _ := h.store.CountUnread(ctx, room, "B")
	assert.Zero(t, unread)
}

func TestLeave_OnlyClearsMatchingRoom(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	room := h.acceptedRoom(t)
	require.NoError(t, h.svc.Enter(ctx, "B", room))

	// Act
	require.NoError(t, h.svc.Leave(ctx, "B", "some-other-room"))
	stillThere, _ := h.presence.IsPresent(ctx, "B", room)
	require.NoError(t, h.svc.Leave(ctx, "B", room))
	gone, _ := h.presence.IsPresent(ctx, "B", room)

	// Assert
	assert.True(t, stillThere)
	assert.False(t, gone)
}

func TestHandleFrame_EnterAndLeave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room := h.acceptedRoom(t)

	h.svc.HandleFrame(ctx, "B", models.ClientFrame{Type: "enter", RoomToken: room})
	entered, _ := h.presence.IsPresent(ctx, "B", room)
	h.svc.HandleFrame(ctx, "B", models.ClientFrame{Type: "leave", RoomToken: room})
	left, _ := h.presence.IsPresent(ctx, "B", room)

	assert.True(t, entered)
	assert.False(t, left)
}
