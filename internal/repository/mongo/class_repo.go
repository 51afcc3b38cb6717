package mongo

import (
	"alcyxob/fitness-booking/internal/domain"
	"alcyxob/fitness-booking/internal/repository"
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const classCollectionName = "classes"

// mongoClassRepository implements repository.ClassRepository
type mongoClassRepository struct {
	collection *mongo.Collection
}

// NewMongoClassRepository creates a new FitnessClass repository backed by MongoDB.
func NewMongoClassRepository(db *mongo.Database) repository.ClassRepository {
	return &mongoClassRepository{
		collection: db.Collection(classCollectionName),
	}
}

// Create inserts a new class. The ledger always starts empty.
func (r *mongoClassRepository) Create(ctx context.Context, class *domain.FitnessClass) (primitive.ObjectID, error) {
	if class.Title == "" || class.Capacity < domain.MinClassCapacity {
		return primitive.NilObjectID, errors.New("class title and a positive capacity are required")
	}

	class.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	class.CreatedAt = now
	class.UpdatedAt = now
	class.OccupiedSeats = 0
	if class.Status == "" {
		class.Status = domain.ClassActive
	}

	result, err := r.collection.InsertOne(ctx, class)
	if err != nil {
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted class ID")
	}
	return insertedID, nil
}

// GetByID retrieves a class by its ID, whatever its status.
func (r *mongoClassRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.FitnessClass, error) {
	var class domain.FitnessClass
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&class)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &class, nil
}

// GetByIDs retrieves all classes whose IDs are in ids. Missing IDs are skipped.
func (r *mongoClassRepository) GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]domain.FitnessClass, error) {
	if len(ids) == 0 {
		return []domain.FitnessClass{}, nil
	}
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	classes := []domain.FitnessClass{}
	if err = cursor.All(ctx, &classes); err != nil {
		return nil, err
	}
	return classes, cursor.Err()
}

// List retrieves active classes, optionally only upcoming or past ones.
func (r *mongoClassRepository) List(ctx context.Context, filter domain.ClassFilter, now time.Time) ([]domain.FitnessClass, error) {
	query := bson.M{"status": domain.ClassActive}
	switch filter {
	case domain.FilterUpcoming:
		query["date"] = bson.M{"$gte": now}
	case domain.FilterPast:
		query["date"] = bson.M{"$lt": now}
	}
	findOptions := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time", Value: 1}})

	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	classes := []domain.FitnessClass{}
	if err = cursor.All(ctx, &classes); err != nil {
		return nil, err
	}
	return classes, cursor.Err()
}

// ListIDs returns the IDs of every class, used by maintenance jobs.
func (r *mongoClassRepository) ListIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	findOptions := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := r.collection.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, cursor.Err()
}

// UpdateDetails writes staff-editable fields. occupiedSeats and status are left alone.
func (r *mongoClassRepository) UpdateDetails(ctx context.Context, class *domain.FitnessClass) error {
	if class.ID == primitive.NilObjectID {
		return errors.New("class ID is required for update")
	}
	class.UpdatedAt = time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"title":       class.Title,
		"trainer":     class.Trainer,
		"description": class.Description,
		"date":        class.Date,
		"time":        class.Time,
		"duration":    class.Duration,
		"capacity":    class.Capacity,
		"updatedAt":   class.UpdatedAt,
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": class.ID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Cancel moves an active class to cancelled.
func (r *mongoClassRepository) Cancel(ctx context.Context, id primitive.ObjectID) error {
	filter := bson.M{"_id": id, "status": domain.ClassActive}
	update := bson.M{"$set": bson.M{"status": domain.ClassCancelled, "updatedAt": time.Now().UTC()}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AdjustOccupancy applies delta with the bounds check in the filter itself, so
// the check and the write are a single document operation.
func (r *mongoClassRepository) AdjustOccupancy(ctx context.Context, id primitive.ObjectID, delta int) error {
	next := bson.M{"$add": bson.A{"$occupiedSeats", delta}}
	filter := bson.M{
		"_id": id,
		"$expr": bson.M{"$and": bson.A{
			bson.M{"$gte": bson.A{next, 0}},
			bson.M{"$lte": bson.A{next, "$capacity"}},
		}},
	}
	if delta > 0 {
		filter["status"] = domain.ClassActive
	}
	update := bson.M{
		"$inc": bson.M{"occupiedSeats": delta},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return repository.ErrOccupancyBounds
	}
	return nil
}

// SetOccupancy overwrites the ledger with a recounted value.
func (r *mongoClassRepository) SetOccupancy(ctx context.Context, id primitive.ObjectID, value int) error {
	if value < 0 {
		return repository.ErrOccupancyBounds
	}
	update := bson.M{"$set": bson.M{"occupiedSeats": value, "updatedAt": time.Now().UTC()}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Stats counts active classes and sums their capacity.
func (r *mongoClassRepository) Stats(ctx context.Context) (int, int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": domain.ClassActive}}},
		{{Key: "$group", Value: bson.M{
			"_id":      nil,
			"classes":  bson.M{"$sum": 1},
			"capacity": bson.M{"$sum": "$capacity"},
		}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Classes  int `bson:"classes"`
		Capacity int `bson:"capacity"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	return rows[0].Classes, rows[0].Capacity, nil
}

// EnsureClassIndexes creates necessary indexes for the classes collection.
func EnsureClassIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			// Catalog listing: active classes sorted by schedule
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "date", Value: 1}, {Key: "time", Value: 1}},
			Options: options.Index(),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		log.Printf("WARN: Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
