package repository

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TrackingUpdate avanza el hito (si Record no es nil) y/o actualiza la ubicación.
// Expect es el hito que se leyó antes; si cambió entretanto, ErrConflict.
type TrackingUpdate struct {
	OrderRef       string
	Expect         model.Milestone
	Record         *model.MilestoneRecord
	Location       string
	Partner        string
	TrackingNumber string
	At             time.Time
}

type MongoTrackingRepository struct {
	col *mongo.Collection
}

func NewMongoTrackingRepository(db *mongo.Database) *MongoTrackingRepository {
	return &MongoTrackingRepository{col: db.Collection("tracking_states")}
}

func (m *MongoTrackingRepository) EnsureIndexes(ctx context.Context) error {
	_, err := m.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_ref", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "last_activity_at", Value: 1}}},
	})
	return err
}

func (m *MongoTrackingRepository) Get(ctx context.Context, orderRef string) (*model.DeliveryTrackingState, error) {
	var st model.DeliveryTrackingState
	err := m.col.FindOne(ctx, bson.M{"order_ref": orderRef}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Apply hace upsert condicionado al hito esperado. Si el documento existe con
// otro hito, el upsert choca con el índice único y se reporta ErrConflict.
func (m *MongoTrackingRepository) Apply(ctx context.Context, u TrackingUpdate) (*model.DeliveryTrackingState, error) {
	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	filter := bson.M{"order_ref": u.OrderRef}
	set := bson.M{"last_activity_at": at}
	setOnInsert := bson.M{"created_at": at}

	if u.Record != nil {
		filter["current_milestone"] = u.Expect
		set["current_milestone"] = u.Record.Milestone
	} else {
		setOnInsert["current_milestone"] = model.MilestonePlaced
		setOnInsert["history"] = bson.A{}
	}
	if u.Location != "" {
		set["current_location"] = u.Location
	}
	if u.Partner != "" {
		set["delivery_partner"] = u.Partner
	}
	if u.TrackingNumber != "" {
		set["tracking_number"] = u.TrackingNumber
	}

	update := bson.M{"$set": set, "$setOnInsert": setOnInsert}
	if u.Record != nil {
		update["$push"] = bson.M{"history": u.Record}
	}

	_, err := m.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, u.OrderRef)
}

// DeleteInactive borra estados sin actividad desde before.
func (m *MongoTrackingRepository) DeleteInactive(ctx context.Context, before time.Time) (int64, error) {
	res, err := m.col.DeleteMany(ctx, bson.M{"last_activity_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *MongoTrackingRepository) Count(ctx context.Context) (int64, error) {
	return m.col.CountDocuments(ctx, bson.M{})
}
