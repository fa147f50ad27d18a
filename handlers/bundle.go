package handlers

// HandlerBundle groups all endpoint handlers and what routes needs to guard
// them.
type HandlerBundle struct {
	JWTSecret         []byte
	MaxRequestsPerMin int

	Booking *BookingHandler
	Webhook *WebhookHandler
	Device  *DeviceHandler
	Health  *HealthHandler
}
