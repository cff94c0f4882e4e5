package relay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerWAL_PendingInWriteOrder(t *testing.T) {
	// Arrange
	w := openWAL(t)
	var keys []string
	for i := uint(1); i <= 3; i++ {
		e, err := w.Write(event(i))
		require.NoError(t, err)
		keys = append(keys, e.Key)
	}

	// Act
	require.NoError(t, w.Confirm(keys[1]))
	pending, err := w.Pending(0)

	// Assert
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint(1), pending[0].Event.MessageID)
	assert.Equal(t, uint(3), pending[1].Event.MessageID)
	assert.Equal(t, keys[0], pending[0].Key)
}

func TestBadgerWAL_PendingLimitAndUnknownConfirm(t *testing.T) {
	w := openWAL(t)
	for i := uint(1); i <= 5; i++ {
		_, err := w.Write(event(i))
		require.NoError(t, err)
	}

	pending, err := w.Pending(2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.NoError(t, w.Confirm("relay:missing"))
}
