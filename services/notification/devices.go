package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"homepro/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DeviceDirectory maps a recipient to the FCM tokens of their devices.
type DeviceDirectory interface {
	Register(ctx context.Context, d models.Device) error
	Tokens(ctx context.Context, to models.Recipient) ([]string, error)
}

type MongoDeviceDirectory struct {
	coll *mongo.Collection
}

func NewMongoDeviceDirectory(db *mongo.Database) *MongoDeviceDirectory {
	return &MongoDeviceDirectory{coll: db.Collection("devices")}
}

func (r *MongoDeviceDirectory) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "role", Value: 1}, {Key: "deviceId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("owner_device_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create device indexes: %w", err)
	}
	return nil
}

// Register upserts the device so a re-installed app replaces its old token.
func (r *MongoDeviceDirectory) Register(ctx context.Context, d models.Device) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"ownerId": d.OwnerID, "role": d.Role, "deviceId": d.DeviceID}
	update := bson.M{"$set": bson.M{"fcmToken": d.FCMToken, "updatedAt": d.UpdatedAt}}
	if _, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to register device %s: %w", d.DeviceID, err)
	}
	return nil
}

func (r *MongoDeviceDirectory) Tokens(ctx context.Context, to models.Recipient) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().
		SetProjection(bson.M{"fcmToken": 1}).
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetLimit(maxDevicesPerRecipient)
	cur, err := r.coll.Find(ctx, bson.M{"ownerId": to.ID, "role": to.Role}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find devices for %s: %w", to.ID, err)
	}
	defer cur.Close(ctx)

	var devices []models.Device
	if err := cur.All(ctx, &devices); err != nil {
		return nil, fmt.Errorf("failed to decode devices for %s: %w", to.ID, err)
	}
	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.FCMToken != "" {
			tokens = append(tokens, d.FCMToken)
		}
	}
	return tokens, nil
}

// maxDevicesPerRecipient matches the FCM multicast limit with room to spare.
const maxDevicesPerRecipient = 20

// MemoryDeviceDirectory backs the memory ledger driver and tests.
type MemoryDeviceDirectory struct {
	mu      sync.RWMutex
	devices map[models.Recipient]map[string]string
}

func NewMemoryDeviceDirectory() *MemoryDeviceDirectory {
	return &MemoryDeviceDirectory{devices: make(map[models.Recipient]map[string]string)}
}

func (r *MemoryDeviceDirectory) Register(_ context.Context, d models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := models.Recipient{ID: d.OwnerID, Role: d.Role}
	if r.devices[key] == nil {
		r.devices[key] = make(map[string]string)
	}
	r.devices[key][d.DeviceID] = d.FCMToken
	return nil
}

func (r *MemoryDeviceDirectory) Tokens(_ context.Context, to models.Recipient) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tokens []string
	for _, t := range r.devices[to] {
		tokens = append(tokens, t)
	}
	return tokens, nil
}
