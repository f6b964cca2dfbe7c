package repository

import (
	"context"
	"errors"

	"wachat/infrastructure/db"
	"wachat/internal/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ChatRepository interface {
	// Upsert creates the room or refreshes its participant names, keeping
	// the last message summary of an existing room.
	Upsert(ctx context.Context, room entity.ChatRoom) (entity.ChatRoom, error)
	Get(ctx context.Context, chatId string) (entity.ChatRoom, error)
	Index(ctx context.Context, userId string) ([]entity.ChatRoom, error)
	UpdateLastMessage(ctx context.Context, message entity.Message) error
}

type chatRepository struct {
	db mongo.Database
}

func NewChatRepository(db mongo.Database) ChatRepository {
	return &chatRepository{
		db: db,
	}
}

func (r *chatRepository) Upsert(ctx context.Context, room entity.ChatRoom) (entity.ChatRoom, error) {
	collection := r.db.Collection(db.RoomsCollection)
	update := bson.M{
		"$set": bson.M{
			"participants":     room.Participants,
			"participantNames": room.ParticipantNames,
			"updatedAt":        room.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"createdAt": room.CreatedAt,
		},
	}

	var stored entity.ChatRoom
	err := collection.FindOneAndUpdate(ctx, bson.M{"_id": room.Id}, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&stored)
	if err != nil {
		return entity.ChatRoom{}, err
	}
	return stored, nil
}

// Get returns a chat room by ID
func (r *chatRepository) Get(ctx context.Context, chatId string) (entity.ChatRoom, error) {
	collection := r.db.Collection(db.RoomsCollection)
	filter := bson.M{"_id": chatId}

	var room entity.ChatRoom
	err := collection.FindOne(ctx, filter).Decode(&room)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.ChatRoom{}, ErrRoomNotFound
		}
		return entity.ChatRoom{}, err
	}

	return room, nil
}

// Index returns all rooms a user participates in, most recently updated first
func (r *chatRepository) Index(ctx context.Context, userId string) ([]entity.ChatRoom, error) {
	collection := r.db.Collection(db.RoomsCollection)
	filter := bson.M{"participants": userId}

	cursor, err := collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	rooms := []entity.ChatRoom{}
	err = cursor.All(ctx, &rooms)
	if err != nil {
		return nil, err
	}

	return rooms, nil
}

// UpdateLastMessage records message as the room summary. Rooms that do not
// exist yet are left alone: a room only appears once an invitation is accepted.
func (r *chatRepository) UpdateLastMessage(ctx context.Context, message entity.Message) error {
	collection := r.db.Collection(db.RoomsCollection)
	filter := bson.M{
		"_id": entity.ConversationKey(message.SenderId, message.ReceiverId),
		// out of order writes must not move the summary backwards
		"$or": bson.A{
			bson.M{"lastMessageTime": bson.M{"$exists": false}},
			bson.M{"lastMessageTime": bson.M{"$lte": message.CreatedAt}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"lastMessage":     message.Text,
			"lastMessageTime": message.CreatedAt,
			"updatedAt":       message.CreatedAt,
		},
	}

	_, err := collection.UpdateOne(ctx, filter, update)
	return err
}
