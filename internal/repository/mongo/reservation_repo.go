package mongo

import (
	"alcyxob/fitness-booking/internal/domain"
	"alcyxob/fitness-booking/internal/repository"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const reservationCollectionName = "reservations"

// uniqueBookedIndexName backs the one-booked-reservation-per-member-and-class rule.
const uniqueBookedIndexName = "uniq_booked_member_class"

// mongoReservationRepository implements repository.ReservationRepository
type mongoReservationRepository struct {
	collection *mongo.Collection
}

// NewMongoReservationRepository creates a new Reservation repository backed by MongoDB.
func NewMongoReservationRepository(db *mongo.Database) repository.ReservationRepository {
	return &mongoReservationRepository{
		collection: db.Collection(reservationCollectionName),
	}
}

// Create inserts a booked reservation. The partial unique index turns a
// concurrent duplicate into repository.ErrDuplicateKey.
func (r *mongoReservationRepository) Create(ctx context.Context, reservation *domain.Reservation) (primitive.ObjectID, error) {
	if reservation.MemberID == primitive.NilObjectID || reservation.ClassID == primitive.NilObjectID {
		return primitive.NilObjectID, errors.New("reservation requires memberId and classId")
	}

	reservation.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	reservation.CreatedAt = now
	reservation.UpdatedAt = now
	reservation.Status = domain.ReservationBooked

	result, err := r.collection.InsertOne(ctx, reservation)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return primitive.NilObjectID, repository.ErrDuplicateKey
		}
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted reservation ID")
	}
	return insertedID, nil
}

// GetByID retrieves a reservation by its ID.
func (r *mongoReservationRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Reservation, error) {
	var reservation domain.Reservation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&reservation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &reservation, nil
}

// FindBooked retrieves the member's booked reservation for a class, if any.
func (r *mongoReservationRepository) FindBooked(ctx context.Context, memberID, classID primitive.ObjectID) (*domain.Reservation, error) {
	var reservation domain.Reservation
	filter := bson.M{"memberId": memberID, "classId": classID, "status": domain.ReservationBooked}
	err := r.collection.FindOne(ctx, filter).Decode(&reservation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &reservation, nil
}

// MarkCancelled flips a booked reservation to cancelled. The status is part of
// the filter so a second cancel matches nothing.
func (r *mongoReservationRepository) MarkCancelled(ctx context.Context, id primitive.ObjectID) error {
	filter := bson.M{"_id": id, "status": domain.ReservationBooked}
	update := bson.M{"$set": bson.M{"status": domain.ReservationCancelled, "updatedAt": time.Now().UTC()}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrUpdateFailed
	}
	return nil
}

// ListByMember retrieves a member's whole reservation history, newest first.
func (r *mongoReservationRepository) ListByMember(ctx context.Context, memberID primitive.ObjectID) ([]domain.Reservation, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	return r.find(ctx, bson.M{"memberId": memberID}, findOptions)
}

// ListBookedByClass retrieves the current roster of a class, oldest first.
func (r *mongoReservationRepository) ListBookedByClass(ctx context.Context, classID primitive.ObjectID) ([]domain.Reservation, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, bson.M{"classId": classID, "status": domain.ReservationBooked}, findOptions)
}

// CountBooked counts booked reservations for a class. This is the ground truth
// the capacity ledger caches.
func (r *mongoReservationRepository) CountBooked(ctx context.Context, classID primitive.ObjectID) (int, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"classId": classID, "status": domain.ReservationBooked})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountBookedInActiveClasses joins booked reservations to their class and
// counts those whose class is still active.
func (r *mongoReservationRepository) CountBookedInActiveClasses(ctx context.Context) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": domain.ReservationBooked}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         classCollectionName,
			"localField":   "classId",
			"foreignField": "_id",
			"as":           "class",
		}}},
		{{Key: "$match", Value: bson.M{"class.status": domain.ClassActive}}},
		{{Key: "$count", Value: "booked"}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Booked int `bson:"booked"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Booked, nil
}

func (r *mongoReservationRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.Reservation, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	reservations := []domain.Reservation{}
	if err = cursor.All(ctx, &reservations); err != nil {
		return nil, err
	}
	return reservations, cursor.Err()
}

// EnsureReservationIndexes creates the indexes for the reservations collection.
// Unlike the other index helpers it returns an error: the partial unique index
// is what rejects a duplicate booking that slips past the service checks.
func EnsureReservationIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "memberId", Value: 1}, {Key: "classId", Value: 1}},
			Options: options.Index().
				SetName(uniqueBookedIndexName).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": domain.ReservationBooked}),
		},
		{
			// Member history, newest first
			Keys:    bson.D{{Key: "memberId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index(),
		},
		{
			// Booked count per class (reconciliation, roster)
			Keys:    bson.D{{Key: "classId", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index(),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create indexes for %s: %w", collection.Name(), err)
	}
	return nil
}
