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

type InvitationRepository interface {
	Create(ctx context.Context, invitation entity.Invitation) error
	Get(ctx context.Context, invitationId string) (entity.Invitation, error)
	Transition(ctx context.Context, invitationId string, status entity.InvitationStatus, at entity.Timestamp) (entity.Invitation, error)
	Pending(ctx context.Context, toUserId string) ([]entity.Invitation, error)
}

type invitationRepository struct {
	db mongo.Database
}

func NewInvitationRepository(db mongo.Database) InvitationRepository {
	return &invitationRepository{
		db: db,
	}
}

// Create stores a pending invitation. An existing accepted or declined
// invitation with the same id is replaced; a pending one yields
// ErrInvitationPending.
func (r *invitationRepository) Create(ctx context.Context, invitation entity.Invitation) error {
	collection := r.db.Collection(db.InvitationsCollection)
	filter := bson.M{
		"_id":    invitation.Id,
		"status": bson.M{"$ne": entity.InvitationPending},
	}

	// the upsert collides on _id when the stored invitation is still pending
	_, err := collection.ReplaceOne(ctx, filter, invitation, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrInvitationPending
		}
		return err
	}
	return nil
}

func (r *invitationRepository) Get(ctx context.Context, invitationId string) (entity.Invitation, error) {
	collection := r.db.Collection(db.InvitationsCollection)

	var invitation entity.Invitation
	err := collection.FindOne(ctx, bson.M{"_id": invitationId}).Decode(&invitation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.Invitation{}, ErrInvitationNotFound
		}
		return entity.Invitation{}, err
	}
	return invitation, nil
}

// Transition moves a pending invitation to status. It fails with
// ErrInvitationSettled when another response won the race.
func (r *invitationRepository) Transition(ctx context.Context, invitationId string, status entity.InvitationStatus, at entity.Timestamp) (entity.Invitation, error) {
	collection := r.db.Collection(db.InvitationsCollection)
	filter := bson.M{"_id": invitationId, "status": entity.InvitationPending}
	update := bson.M{"$set": bson.M{"status": status, "updatedAt": at}}

	var invitation entity.Invitation
	err := collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&invitation)
	if err == nil {
		return invitation, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return entity.Invitation{}, err
	}

	if _, getErr := r.Get(ctx, invitationId); getErr != nil {
		return entity.Invitation{}, getErr
	}
	return entity.Invitation{}, ErrInvitationSettled
}

// Pending lists invitations addressed to toUserId, newest first.
func (r *invitationRepository) Pending(ctx context.Context, toUserId string) ([]entity.Invitation, error) {
	collection := r.db.Collection(db.InvitationsCollection)
	filter := bson.M{
		"toUserId": toUserId,
		"status":   entity.InvitationPending,
	}

	cursor, err := collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	invitations := []entity.Invitation{}
	if err := cursor.All(ctx, &invitations); err != nil {
		return nil, err
	}
	return invitations, nil
}
