package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talkback/backend/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	messagesCollection = "chat_messages"
	countersCollection = "counters"
	messageSeqName     = "chat_message_id"
)

// MongoMessageStore keeps message history in MongoDB. Message ids come from an
// atomic counter document so (sent_at, _id) stays a total order per room.
type MongoMessageStore struct {
	messages *mongo.Collection
	counters *mongo.Collection
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{
		messages: db.Collection(messagesCollection),
		counters: db.Collection(countersCollection),
	}
}

// EnsureIndexes creates the paging and unread indexes.
func (s *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "room_token", Value: 1}, {Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "room_token", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "status", Value: 1}}},
	})
	return err
}

func (s *MongoMessageStore) nextID(ctx context.Context) (uint, error) {
	res := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": messageSeqName},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, fmt.Errorf("next message id: %w", err)
	}
	return uint(doc.Seq), nil
}

func (s *MongoMessageStore) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	id, err := s.nextID(ctx)
	if err != nil {
		return err
	}
	msg.ID = id
	// BSON dates carry milliseconds
	msg.SentAt = time.Now().UTC().Truncate(time.Millisecond)
	if msg.Status == "" {
		msg.Status = models.MessageUnread
	}
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("save message in room %s: %w", msg.RoomToken, err)
	}
	return nil
}

// beforeFilter selects messages of roomToken strictly older than (before, beforeID).
func beforeFilter(roomToken string, before time.Time, beforeID uint) bson.M {
	filter := bson.M{"room_token": roomToken}
	switch {
	case before.IsZero():
	case beforeID == 0:
		filter["sent_at"] = bson.M{"$lt": before}
	default:
		filter["$or"] = bson.A{
			bson.M{"sent_at": bson.M{"$lt": before}},
			bson.M{"sent_at": before, "_id": bson.M{"$lt": beforeID}},
		}
	}
	return filter
}

func (s *MongoMessageStore) MessagesBefore(ctx context.Context, roomToken string, before time.Time, beforeID uint, limit int) ([]models.ChatMessage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.messages.Find(ctx, beforeFilter(roomToken, before, beforeID), opts)
	if err != nil {
		return nil, fmt.Errorf("messages before %s in room %s: %w", before, roomToken, err)
	}
	var out []models.ChatMessage
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func unreadFilter(roomToken, receiverID string) bson.M {
	return bson.M{"room_token": roomToken, "receiver_id": receiverID, "status": models.MessageUnread}
}

func (s *MongoMessageStore) UnreadFor(ctx context.Context, roomToken, receiverID string) ([]models.ChatMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.messages.Find(ctx, unreadFilter(roomToken, receiverID), opts)
	if err != nil {
		return nil, err
	}
	var out []models.ChatMessage
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoMessageStore) MarkRead(ctx context.Context, roomToken, receiverID string) (int64, error) {
	res, err := s.messages.UpdateMany(ctx, unreadFilter(roomToken, receiverID),
		bson.M{"$set": bson.M{"status": models.MessageRead}})
	if err != nil {
		return 0, fmt.Errorf("mark read in room %s: %w", roomToken, err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoMessageStore) CountUnread(ctx context.Context, roomToken, receiverID string) (int64, error) {
	return s.messages.CountDocuments(ctx, unreadFilter(roomToken, receiverID))
}

func (s *MongoMessageStore) LastMessage(ctx context.Context, roomToken string) (*models.ChatMessage, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}})
	var msg models.ChatMessage
	err := s.messages.FindOne(ctx, bson.M{"room_token": roomToken}, opts).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
