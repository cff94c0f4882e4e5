package chathub_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"talkback/backend/internal/chathub"
	"talkback/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEClient_WritesEventStream(t *testing.T) {
	// Arrange
	rec := httptest.NewRecorder()
	client := chathub.NewSSEClient("user_B", rec, 4)
	client.Run()

	// Act
	err := client.Send(models.PushEvent{
		EventID:   "n1",
		EventType: "chat",
		Payload:   json.RawMessage(`{"roomToken":"r1"}`),
	})
	client.Close()
	client.Wait()

	// Assert
	require.NoError(t, err)
	body := rec.Body.String()
	assert.Contains(t, body, "id:n1\n")
	assert.Contains(t, body, "event:chat\n")
	assert.Contains(t, body, `data:{"roomToken":"r1"}`)
	assert.True(t, rec.Flushed)
}

func TestSSEClient_SendAfterCloseFails(t *testing.T) {
	client := chathub.NewSSEClient("user_B", httptest.NewRecorder(), 4)
	client.Run()
	client.Close()
	client.Wait()

	err := client.Send(models.PushEvent{EventType: "chat"})

	assert.ErrorIs(t, err, chathub.ErrClientClosed)
}
