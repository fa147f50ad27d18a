// Package paymenttest provides an in-memory payment.Gateway for tests.
package paymenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"homepro/models"
	"homepro/services/payment"
)

// ValidSignature is the only signature ParseWebhook accepts.
const ValidSignature = "sig-valid"

// Gateway records calls and answers with programmable results. Holds are
// keyed by idempotency key, so repeated authorizations return the same hold.
type Gateway struct {
	mu sync.Mutex

	AuthorizeErr    error
	AuthorizeStatus models.HoldStatus
	CaptureFunc     func(holdID string) (models.CaptureResult, error)
	ReleaseErr      error

	holds          map[string]*models.PaymentHold
	released       map[string]bool
	authorizeCalls int
	captureCalls   int
	releaseCalls   int
}

func New() *Gateway {
	return &Gateway{
		AuthorizeStatus: models.HoldRequiresCapture,
		holds:           make(map[string]*models.PaymentHold),
		released:        make(map[string]bool),
	}
}

var _ payment.Gateway = (*Gateway)(nil)

func (g *Gateway) Authorize(ctx context.Context, req models.HoldRequest) (*models.PaymentHold, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.authorizeCalls++
	if g.AuthorizeErr != nil {
		return nil, g.AuthorizeErr
	}
	if h, ok := g.holds[req.IdempotencyKey]; ok {
		cp := *h
		return &cp, nil
	}
	h := &models.PaymentHold{
		ID:       "pi_" + req.IdempotencyKey,
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   g.AuthorizeStatus,
	}
	g.holds[req.IdempotencyKey] = h
	cp := *h
	return &cp, nil
}

func (g *Gateway) Capture(ctx context.Context, holdID string) (models.CaptureResult, error) {
	g.mu.Lock()
	g.captureCalls++
	fn := g.CaptureFunc
	g.mu.Unlock()

	if fn != nil {
		return fn(holdID)
	}
	return models.CaptureResult{Outcome: models.CaptureSucceeded}, nil
}

func (g *Gateway) Release(ctx context.Context, holdID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.releaseCalls++
	if g.ReleaseErr != nil {
		return g.ReleaseErr
	}
	g.released[holdID] = true
	return nil
}

// ParseWebhook decodes a JSON-encoded models.WebhookEvent.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (*models.WebhookEvent, error) {
	if signature != ValidSignature {
		return nil, fmt.Errorf("%w: signature mismatch", payment.ErrInvalidSignature)
	}
	var ev models.WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &ev, nil
}

// SetCapture programs every later capture call.
func (g *Gateway) SetCapture(fn func(holdID string) (models.CaptureResult, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CaptureFunc = fn
}

func (g *Gateway) SetReleaseErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ReleaseErr = err
}

func (g *Gateway) AuthorizeCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authorizeCalls
}

func (g *Gateway) CaptureCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captureCalls
}

func (g *Gateway) ReleaseCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releaseCalls
}

func (g *Gateway) Released(holdID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released[holdID]
}

// Event encodes ev the way ParseWebhook expects it.
func Event(ev models.WebhookEvent) []byte {
	b, _ := json.Marshal(ev)
	return b
}
