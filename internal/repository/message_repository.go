package repository

import (
	"context"
	"errors"

	"wachat/infrastructure/db"
	"wachat/internal/entity"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepository interface {
	Index(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error)
	Get(ctx context.Context, messageId string) (entity.Message, error)
	Create(ctx context.Context, message entity.Message) (string, error)
	MarkRead(ctx context.Context, messageId, readerId string) (entity.Message, error)
}

type messageRepository struct {
	db mongo.Database
}

func NewMessageRepository(db mongo.Database) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

// Index returns the latest filter.Limit messages in ascending createdAt order.
func (r *messageRepository) Index(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error) {
	collection := r.db.Collection(db.MessagesCollection)

	bsonFilter := bson.M{}
	if filter.ChatId != "" {
		bsonFilter["chatId"] = filter.ChatId
	}

	opts := options.Find()
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	opts.SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := collection.Find(ctx, bsonFilter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []entity.Message{}
	err = cursor.All(ctx, &messages)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *messageRepository) Get(ctx context.Context, messageId string) (entity.Message, error) {
	collection := r.db.Collection(db.MessagesCollection)
	filter := bson.M{"_id": messageId}

	var message entity.Message
	err := collection.FindOne(ctx, filter).Decode(&message)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.Message{}, ErrMessageNotFound
		}
		return entity.Message{}, err
	}

	return message, nil
}

func (r *messageRepository) Create(ctx context.Context, message entity.Message) (string, error) {
	collection := r.db.Collection(db.MessagesCollection)
	if message.Id == "" {
		message.Id = uuid.New().String()
	}

	_, err := collection.InsertOne(ctx, message)
	if err != nil {
		return "", err
	}

	return message.Id, nil
}

// MarkRead flips a message addressed to readerId to READ.
func (r *messageRepository) MarkRead(ctx context.Context, messageId, readerId string) (entity.Message, error) {
	collection := r.db.Collection(db.MessagesCollection)
	filter := bson.M{"_id": messageId, "receiverId": readerId}
	update := bson.M{"$set": bson.M{"status": entity.MessageStatusRead}}

	var message entity.Message
	err := collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&message)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.Message{}, ErrMessageNotFound
		}
		return entity.Message{}, err
	}
	return message, nil
}
