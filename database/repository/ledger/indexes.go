package ledgerRepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureSchema creates the indexes the conditional writes rely on.
func (r *MongoLedger) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bookingIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_id"),
		},
		// A hold reference belongs to at most one booking.
		{
			Keys: bson.D{{Key: "paymentHoldRef", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("unique_payment_hold_ref").
				SetPartialFilterExpression(bson.M{"paymentHoldRef": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "customerId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("customer_created_idx"),
		},
		{
			Keys:    bson.D{{Key: "proId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("pro_created_idx"),
		},
	}
	if _, err := r.bookingColl.Indexes().CreateMany(ctx, bookingIndexes); err != nil {
		return fmt.Errorf("failed to create booking indexes: %w", err)
	}

	eventIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "eventId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_event_id"),
		},
	}
	if _, err := r.eventColl.Indexes().CreateMany(ctx, eventIndexes); err != nil {
		return fmt.Errorf("failed to create webhook event indexes: %w", err)
	}
	return nil
}
