// Package events publishes booking lifecycle events to a message broker.
package events

import "context"

// Publisher sends a JSON-encoded payload under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
	Close() error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (nopPublisher) Close() error                                    { return nil }

// Nop drops every event.
var Nop Publisher = nopPublisher{}

// BookingKey is the routing key for a lifecycle event.
func BookingKey(status string) string {
	return "booking." + status
}
