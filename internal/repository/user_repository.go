package repository

import (
	"context"
	"errors"
	"regexp"
	"time"

	"wachat/infrastructure/db"
	"wachat/internal/entity"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type UserRepository interface {
	Get(ctx context.Context, userId string) (entity.User, error)
	GetByLoginId(ctx context.Context, loginId string) (entity.User, error)
	GetByPhone(ctx context.Context, phoneNumber string) (entity.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	PhoneExists(ctx context.Context, phoneNumber string) (bool, error)
	Create(ctx context.Context, user entity.User) (string, error)
	UpdateProfile(ctx context.Context, userId string, req entity.UpdateProfileRequest) (entity.User, error)
	SetPhoto(ctx context.Context, userId, photoURL string) error
	SetPresence(ctx context.Context, userId, presence string, lastSeen time.Time) error
	Search(ctx context.Context, filter entity.UserSearchFilter, excludeUserId string) ([]entity.User, error)
	List(ctx context.Context, limit int, excludeUserId string) ([]entity.User, error)
}

type userRepository struct {
	db mongo.Database
}

func NewUserRepository(db mongo.Database) UserRepository {
	return &userRepository{
		db: db,
	}
}

func (r *userRepository) Get(ctx context.Context, userId string) (entity.User, error) {
	return r.findOne(ctx, bson.M{"_id": userId})
}

func (r *userRepository) GetByLoginId(ctx context.Context, loginId string) (entity.User, error) {
	return r.findOne(ctx, bson.M{"loginId": loginId})
}

func (r *userRepository) GetByPhone(ctx context.Context, phoneNumber string) (entity.User, error) {
	return r.findOne(ctx, bson.M{"phoneNumber": phoneNumber})
}

func (r *userRepository) findOne(ctx context.Context, filter bson.M) (entity.User, error) {
	collection := r.db.Collection(db.UsersCollection)

	var user entity.User
	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.User{}, ErrUserNotFound
		}
		return entity.User{}, err
	}

	return user, nil
}

func (r *userRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, bson.M{"username": username})
}

func (r *userRepository) PhoneExists(ctx context.Context, phoneNumber string) (bool, error) {
	return r.exists(ctx, bson.M{"phoneNumber": phoneNumber})
}

func (r *userRepository) exists(ctx context.Context, filter bson.M) (bool, error) {
	collection := r.db.Collection(db.UsersCollection)
	count, err := collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *userRepository) Create(ctx context.Context, user entity.User) (string, error) {
	collection := r.db.Collection(db.UsersCollection)
	user.Id = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	_, err := collection.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrUserExists
		}
		return "", err
	}

	return user.Id, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, userId string, req entity.UpdateProfileRequest) (entity.User, error) {
	collection := r.db.Collection(db.UsersCollection)

	set := bson.M{"updatedAt": time.Now()}
	if req.DisplayName != nil {
		set["displayName"] = *req.DisplayName
	}
	if req.Status != nil {
		set["status"] = *req.Status
	}

	var user entity.User
	err := collection.FindOneAndUpdate(ctx,
		bson.M{"_id": userId},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.User{}, ErrUserNotFound
		}
		return entity.User{}, err
	}
	return user, nil
}

func (r *userRepository) SetPhoto(ctx context.Context, userId, photoURL string) error {
	return r.update(ctx, userId, bson.M{"photoURL": photoURL, "updatedAt": time.Now()})
}

func (r *userRepository) SetPresence(ctx context.Context, userId, presence string, lastSeen time.Time) error {
	return r.update(ctx, userId, bson.M{"presence": presence, "lastSeen": lastSeen})
}

func (r *userRepository) update(ctx context.Context, userId string, set bson.M) error {
	collection := r.db.Collection(db.UsersCollection)
	res, err := collection.UpdateOne(ctx, bson.M{"_id": userId}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Search matches usernames starting with filter.Prefix, ordered by username.
func (r *userRepository) Search(ctx context.Context, filter entity.UserSearchFilter, excludeUserId string) ([]entity.User, error) {
	query := bson.M{
		"username": bson.M{"$regex": "^" + regexp.QuoteMeta(filter.Prefix)},
	}
	if excludeUserId != "" {
		query["_id"] = bson.M{"$ne": excludeUserId}
	}

	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return r.find(ctx, query, opts)
}

// List returns the newest users first.
func (r *userRepository) List(ctx context.Context, limit int, excludeUserId string) ([]entity.User, error) {
	query := bson.M{}
	if excludeUserId != "" {
		query["_id"] = bson.M{"$ne": excludeUserId}
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, query, opts)
}

func (r *userRepository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]entity.User, error) {
	collection := r.db.Collection(db.UsersCollection)
	cursor, err := collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []entity.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}
