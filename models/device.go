package models

import "time"

// Device is a push target registered by a customer or pro app.
type Device struct {
	OwnerID   string    `bson:"ownerId" json:"ownerId"`
	Role      Role      `bson:"role" json:"role"`
	DeviceID  string    `bson:"deviceId" json:"deviceId"`
	FCMToken  string    `bson:"fcmToken" json:"-"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// RegisterDeviceRequest is the body of PUT /api/devices.
type RegisterDeviceRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
	FCMToken string `json:"fcmToken" binding:"required"`
}
