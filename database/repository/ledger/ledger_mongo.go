package ledgerRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homepro/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	bookingsCollection      = "bookings"
	webhookEventsCollection = "processed_webhook_events"
)

// MongoLedger implements Store using MongoDB. Conditional transitions are a
// single FindOneAndUpdate whose filter carries the expected status.
type MongoLedger struct {
	bookingColl *mongo.Collection
	eventColl   *mongo.Collection
}

func NewMongoLedger(client *mongo.Client, dbName string) *MongoLedger {
	db := client.Database(dbName)
	return &MongoLedger{
		bookingColl: db.Collection(bookingsCollection),
		eventColl:   db.Collection(webhookEventsCollection),
	}
}

func (r *MongoLedger) Create(ctx context.Context, b *models.Booking) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.bookingColl.InsertOne(ctx, b); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("create booking %s: %w", b.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert booking %s: %w", b.ID, err)
	}
	return nil
}

func (r *MongoLedger) Get(ctx context.Context, id string) (*models.Booking, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *MongoLedger) GetByHoldRef(ctx context.Context, holdRef string) (*models.Booking, error) {
	return r.findOne(ctx, bson.M{"paymentHoldRef": holdRef})
}

func (r *MongoLedger) findOne(ctx context.Context, filter bson.M) (*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var b models.Booking
	if err := r.bookingColl.FindOne(ctx, filter).Decode(&b); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching booking: %w", err)
	}
	return &b, nil
}

func (r *MongoLedger) ListByParty(ctx context.Context, role models.Role, partyID string, limit int) ([]models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var filter bson.M
	switch role {
	case models.RoleCustomer:
		filter = bson.M{"customerId": partyID}
	case models.RolePro:
		filter = bson.M{"proId": partyID}
	default:
		return nil, fmt.Errorf("list bookings: unsupported party role %q", role)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.bookingColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Booking
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("error decoding bookings: %w", err)
	}
	return out, nil
}

func (r *MongoLedger) CompareAndSwapStatus(ctx context.Context, id string, expected, next models.BookingStatus, entry models.StatusEntry, fields Fields) (*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.D{
		{Key: "status", Value: string(next)},
		{Key: "statusHistory", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$statusHistory", bson.A{}}}},
			bson.A{bson.D{{Key: "$literal", Value: entryDoc(entry)}}},
		}}}},
	}
	set = append(set, fieldsStage(fields)...)
	set = append(set, bookkeepingStage()...)

	filter := bson.M{"id": id, "status": string(expected)}
	return r.conditionalUpdate(ctx, id, filter, mongo.Pipeline{{{Key: "$set", Value: set}}})
}

func (r *MongoLedger) AttachHold(ctx context.Context, id, holdRef string, state models.PaymentState, allowed []models.BookingStatus) (*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"id":             id,
		"paymentHoldRef": nil,
		"status":         bson.M{"$in": statusStrings(allowed)},
	}
	update := bson.M{
		"$set": bson.M{
			"paymentHoldRef": holdRef,
			"paymentState":   string(state),
			"updatedAt":      time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var b models.Booking
	err := r.bookingColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&b)
	if err == nil {
		return &b, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrStale
	}
	return nil, r.classifyMiss(ctx, id, err)
}

func (r *MongoLedger) UpdatePayment(ctx context.Context, id string, expected []models.PaymentState, fields Fields) (*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"id": id}
	if len(expected) > 0 {
		filter["paymentState"] = bson.M{"$in": paymentStateStrings(expected)}
	}
	set := append(fieldsStage(fields), bookkeepingStage()...)
	return r.conditionalUpdate(ctx, id, filter, mongo.Pipeline{{{Key: "$set", Value: set}}})
}

func (r *MongoLedger) conditionalUpdate(ctx context.Context, id string, filter bson.M, update mongo.Pipeline) (*models.Booking, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var b models.Booking
	err := r.bookingColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&b)
	if err == nil {
		return &b, nil
	}
	return nil, r.classifyMiss(ctx, id, err)
}

// classifyMiss tells a missing booking apart from a failed precondition.
func (r *MongoLedger) classifyMiss(ctx context.Context, id string, err error) error {
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("conditional update of booking %s failed: %w", id, err)
	}
	n, cerr := r.bookingColl.CountDocuments(ctx, bson.M{"id": id})
	if cerr != nil {
		return fmt.Errorf("conditional update of booking %s: %w", id, cerr)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStale
}

func entryDoc(e models.StatusEntry) bson.D {
	return bson.D{
		{Key: "status", Value: string(e.Status)},
		{Key: "at", Value: e.At},
		{Key: "actor", Value: bson.D{
			{Key: "id", Value: e.Actor.ID},
			{Key: "role", Value: string(e.Actor.Role)},
		}},
	}
}

// fieldsStage renders Fields as pipeline $set entries. Set-once timestamps
// keep the stored value through $ifNull.
func fieldsStage(f Fields) bson.D {
	var set bson.D
	if f.PaymentState != nil {
		set = append(set, bson.E{Key: "paymentState", Value: string(*f.PaymentState)})
	}
	if f.CompletedAt != nil {
		set = append(set, setOnce("completedAt", *f.CompletedAt))
	}
	if f.PaidAt != nil {
		set = append(set, setOnce("paidAt", *f.PaidAt))
	}
	if f.HoldReleasedAt != nil {
		set = append(set, setOnce("holdReleasedAt", *f.HoldReleasedAt))
	}
	if f.FailureReason != nil {
		set = append(set, bson.E{Key: "failureReason", Value: bson.D{{Key: "$literal", Value: *f.FailureReason}}})
	}
	return set
}

func setOnce(field string, v time.Time) bson.E {
	return bson.E{Key: field, Value: bson.D{{Key: "$ifNull", Value: bson.A{"$" + field, v}}}}
}

func bookkeepingStage() bson.D {
	return bson.D{
		{Key: "version", Value: bson.D{{Key: "$add", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$version", 0}}}, 1,
		}}}},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}
}

func (r *MongoLedger) ClaimWebhookEvent(ctx context.Context, eventID, eventType string, now time.Time, staleAfter time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc := models.ProcessedWebhookEvent{EventID: eventID, Type: eventType, ClaimedAt: now}
	_, err := r.eventColl.InsertOne(ctx, doc)
	if err == nil {
		return true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, fmt.Errorf("failed to claim webhook event %s: %w", eventID, err)
	}

	filter := bson.M{
		"eventId":     eventID,
		"processedAt": nil,
		"claimedAt":   bson.M{"$lt": now.Add(-staleAfter)},
	}
	res, err := r.eventColl.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"claimedAt": now}})
	if err != nil {
		return false, fmt.Errorf("failed to reclaim webhook event %s: %w", eventID, err)
	}
	return res.ModifiedCount == 1, nil
}

func (r *MongoLedger) CompleteWebhookEvent(ctx context.Context, eventID string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.eventColl.UpdateOne(ctx, bson.M{"eventId": eventID}, bson.M{"$set": bson.M{"processedAt": now}})
	if err != nil {
		return fmt.Errorf("failed to complete webhook event %s: %w", eventID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("complete webhook event %s: no claim", eventID)
	}
	return nil
}

func (r *MongoLedger) ReleaseWebhookEvent(ctx context.Context, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.eventColl.DeleteOne(ctx, bson.M{"eventId": eventID, "processedAt": nil}); err != nil {
		return fmt.Errorf("failed to release webhook event %s: %w", eventID, err)
	}
	return nil
}
