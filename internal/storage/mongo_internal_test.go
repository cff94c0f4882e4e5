package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestBeforeFilter(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		before   time.Time
		beforeID uint
		want     bson.M
	}{
		{
			name: "unbounded",
			want: bson.M{"room_token": "r"},
		},
		{
			name:   "time only",
			before: at,
			want:   bson.M{"room_token": "r", "sent_at": bson.M{"$lt": at}},
		},
		{
			name:     "time and id",
			before:   at,
			beforeID: 7,
			want: bson.M{"room_token": "r", "$or": bson.A{
				bson.M{"sent_at": bson.M{"$lt": at}},
				bson.M{"sent_at": at, "_id": bson.M{"$lt": uint(7)}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, beforeFilter("r", tt.before, tt.beforeID))
		})
	}
}
