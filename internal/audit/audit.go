package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "booking_audit"

// Entry is one booking state change or money movement
type Entry struct {
	ID         primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	BookingID  int64                  `json:"booking_id" bson:"booking_id"`
	Action     string                 `json:"action" bson:"action"`
	FromStatus string                 `json:"from_status,omitempty" bson:"from_status,omitempty"`
	ToStatus   string                 `json:"to_status,omitempty" bson:"to_status,omitempty"`
	ActorID    int64                  `json:"actor_id" bson:"actor_id"`
	ActorRole  string                 `json:"actor_role" bson:"actor_role"`
	Details    map[string]interface{} `json:"details,omitempty" bson:"details,omitempty"`
	At         time.Time              `json:"at" bson:"at"`
}

// Recorder appends and reads booking audit entries
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	History(ctx context.Context, bookingID int64) ([]Entry, error)
}

// MongoRecorder stores entries in a MongoDB collection
type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoRecorder connects to MongoDB and verifies the connection
func NewMongoRecorder(ctx context.Context, uri, database string) (*MongoRecorder, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb is not available: %w", err)
	}

	collection := client.Database(database).Collection(collectionName)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "at", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create audit index: %w", err)
	}

	return &MongoRecorder{client: client, collection: collection}, nil
}

// Record inserts an entry
func (r *MongoRecorder) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if _, err := r.collection.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// History returns the entries of a booking in chronological order
func (r *MongoRecorder) History(ctx context.Context, bookingID int64) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: 1}})
	cur, err := r.collection.Find(ctx, bson.D{{Key: "booking_id", Value: bookingID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer cur.Close(ctx)

	entries := []Entry{}
	if err := cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}
	return entries, nil
}

// Close disconnects the client
func (r *MongoRecorder) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// NopRecorder discards entries; used when no MongoDB is configured
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, e Entry) error { return nil }

func (NopRecorder) History(ctx context.Context, bookingID int64) ([]Entry, error) {
	return []Entry{}, nil
}
