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

var (
	ErrNotFound  = errors.New("orden no encontrada")
	ErrDuplicate = errors.New("ya existe un documento con esa referencia")
	// ErrConflict: la orden existe pero ya no cumple la condición de la actualización.
	ErrConflict = errors.New("la orden cambió de estado concurrentemente")
)

// PaymentPatch actualiza campos del intento actual en el lugar.
type PaymentPatch struct {
	Status                model.PaymentStatus
	ProviderTransactionID string
	VerifiedAt            *time.Time
	FailureReason         string
	Raw                   map[string]any
}

// Change es una actualización condicional de una orden. Los campos de condición
// vacíos no se evalúan; los de efecto vacíos no se escriben.
type Change struct {
	OrderRef string

	// condiciones
	FromStatus       model.OrderStatus
	AttemptID        string
	AttemptStatus    model.PaymentStatus
	RequireNoAttempt bool

	// efectos
	ToStatus           model.OrderStatus
	Record             *model.StatusRecord
	Payment            *PaymentPatch
	Attempt            *model.PaymentAttempt // reemplaza el intento actual
	Archive            *model.PaymentAttempt // se agrega a payment_history
	PaymentMethod      string
	PaymentConfirmedAt *time.Time
	At                 time.Time
}

// Mongo implementation
type MongoOrderRepository struct {
	col *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{col: db.Collection("orders")}
}

// EnsureIndexes crea el índice único de order_ref y los de búsqueda por transacción.
func (m *MongoOrderRepository) EnsureIndexes(ctx context.Context) error {
	_, err := m.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_ref", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "payment.provider_transaction_id", Value: 1}}},
		{Keys: bson.D{{Key: "payment_history.provider_transaction_id", Value: 1}}},
		{Keys: bson.D{{Key: "payment.status", Value: 1}, {Key: "payment.expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	})
	return err
}

func (m *MongoOrderRepository) Create(ctx context.Context, o *model.Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	_, err := m.col.InsertOne(ctx, o)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (m *MongoOrderRepository) findOne(ctx context.Context, filter bson.M) (*model.Order, error) {
	var res model.Order
	err := m.col.FindOne(ctx, filter).Decode(&res)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (m *MongoOrderRepository) FindByOrderRef(ctx context.Context, orderRef string) (*model.Order, error) {
	return m.findOne(ctx, bson.M{"order_ref": orderRef})
}

// FindByProviderTxn busca en el intento actual y en los archivados.
func (m *MongoOrderRepository) FindByProviderTxn(ctx context.Context, txnID string) (*model.Order, error) {
	if txnID == "" {
		return nil, ErrNotFound
	}
	return m.findOne(ctx, bson.M{"$or": bson.A{
		bson.M{"payment.provider_transaction_id": txnID},
		bson.M{"payment_history.provider_transaction_id": txnID},
	}})
}

// Apply ejecuta la actualización condicional. Si nada coincide, distingue entre
// orden inexistente (ErrNotFound) y condición vencida (ErrConflict).
func (m *MongoOrderRepository) Apply(ctx context.Context, c Change) (*model.Order, error) {
	filter := changeFilter(c)
	update := changeUpdate(c)

	res, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		if _, err := m.FindByOrderRef(ctx, c.OrderRef); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return m.FindByOrderRef(ctx, c.OrderRef)
}

func changeFilter(c Change) bson.M {
	filter := bson.M{"order_ref": c.OrderRef}
	if c.FromStatus != "" {
		filter["status"] = c.FromStatus
	}
	if c.RequireNoAttempt {
		// null o ausente
		filter["payment"] = nil
	}
	if c.AttemptID != "" {
		filter["payment.attempt_id"] = c.AttemptID
	}
	if c.AttemptStatus != "" {
		filter["payment.status"] = c.AttemptStatus
	}
	return filter
}

func changeUpdate(c Change) bson.M {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	set := bson.M{"updated_at": at}
	if c.ToStatus != "" {
		set["status"] = c.ToStatus
	}
	if c.Attempt != nil {
		set["payment"] = c.Attempt
	}
	if p := c.Payment; p != nil {
		if p.Status != "" {
			set["payment.status"] = p.Status
		}
		if p.ProviderTransactionID != "" {
			set["payment.provider_transaction_id"] = p.ProviderTransactionID
		}
		if p.VerifiedAt != nil {
			set["payment.verification_timestamp"] = p.VerifiedAt
		}
		if p.FailureReason != "" {
			set["payment.failure_reason"] = p.FailureReason
		}
		if p.Raw != nil {
			set["payment.raw_provider_payload"] = p.Raw
		}
	}
	if c.PaymentMethod != "" {
		set["payment_method"] = c.PaymentMethod
	}
	if c.PaymentConfirmedAt != nil {
		set["payment_confirmed_at"] = c.PaymentConfirmedAt
	}

	update := bson.M{"$set": set}
	push := bson.M{}
	if c.Record != nil {
		push["history"] = c.Record
	}
	if c.Archive != nil {
		push["payment_history"] = c.Archive
	}
	if len(push) > 0 {
		update["$push"] = push
	}
	return update
}

func (m *MongoOrderRepository) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*model.Order, error) {
	cur, err := m.col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*model.Order
	for cur.Next(ctx) {
		var v model.Order
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, cur.Err()
}

func newestFirst() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
}

func (m *MongoOrderRepository) FindAll(ctx context.Context) ([]*model.Order, error) {
	return m.find(ctx, bson.M{}, newestFirst())
}

func (m *MongoOrderRepository) FindByStatus(ctx context.Context, status model.OrderStatus) ([]*model.Order, error) {
	return m.find(ctx, bson.M{"status": status}, newestFirst())
}

func (m *MongoOrderRepository) FindByUserID(ctx context.Context, userID string) ([]*model.Order, error) {
	return m.find(ctx, bson.M{"user_id": userID}, newestFirst())
}

// FindExpiredAttempts devuelve órdenes con intento pendiente vencido a la fecha.
func (m *MongoOrderRepository) FindExpiredAttempts(ctx context.Context, now time.Time, limit int64) ([]*model.Order, error) {
	return m.find(ctx, bson.M{
		"payment.status":     model.PaymentPending,
		"payment.gateway":    bson.M{"$ne": model.GatewayCOD},
		"payment.expires_at": bson.M{"$lte": now},
	}, options.Find().SetLimit(limit))
}
