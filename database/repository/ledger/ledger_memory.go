package ledgerRepo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"homepro/models"
)

// MemoryLedger is an in-process Store used for local runs and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
	holds    map[string]string
	events   map[string]*models.ProcessedWebhookEvent
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		bookings: make(map[string]*models.Booking),
		holds:    make(map[string]string),
		events:   make(map[string]*models.ProcessedWebhookEvent),
	}
}

func (m *MemoryLedger) Create(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bookings[b.ID]; exists {
		return fmt.Errorf("create booking %s: %w", b.ID, ErrDuplicate)
	}
	stored := b.Clone()
	if stored.PaymentHoldRef != nil {
		m.holds[*stored.PaymentHoldRef] = stored.ID
	}
	m.bookings[b.ID] = stored
	return nil
}

func (m *MemoryLedger) Get(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (m *MemoryLedger) GetByHoldRef(ctx context.Context, holdRef string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.holds[holdRef]
	if !ok {
		return nil, ErrNotFound
	}
	return m.bookings[id].Clone(), nil
}

func (m *MemoryLedger) ListByParty(ctx context.Context, role models.Role, partyID string, limit int) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Booking
	for _, b := range m.bookings {
		if (role == models.RoleCustomer && b.CustomerID == partyID) ||
			(role == models.RolePro && b.ProID == partyID) {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedger) CompareAndSwapStatus(ctx context.Context, id string, expected, next models.BookingStatus, entry models.StatusEntry, fields Fields) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != expected {
		return nil, ErrStale
	}
	b.Status = next
	b.StatusHistory = append(b.StatusHistory, entry)
	ApplyFields(b, fields)
	m.touch(b)
	return b.Clone(), nil
}

func (m *MemoryLedger) AttachHold(ctx context.Context, id, holdRef string, state models.PaymentState, allowed []models.BookingStatus) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.PaymentHoldRef != nil || !containsStatus(allowed, b.Status) {
		return nil, ErrStale
	}
	if _, taken := m.holds[holdRef]; taken {
		return nil, ErrStale
	}
	ref := holdRef
	b.PaymentHoldRef = &ref
	b.PaymentState = state
	m.holds[holdRef] = id
	m.touch(b)
	return b.Clone(), nil
}

func (m *MemoryLedger) UpdatePayment(ctx context.Context, id string, expected []models.PaymentState, fields Fields) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !containsPaymentState(expected, b.PaymentState) {
		return nil, ErrStale
	}
	ApplyFields(b, fields)
	m.touch(b)
	return b.Clone(), nil
}

func (m *MemoryLedger) ClaimWebhookEvent(ctx context.Context, eventID, eventType string, now time.Time, staleAfter time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, exists := m.events[eventID]
	if !exists {
		m.events[eventID] = &models.ProcessedWebhookEvent{EventID: eventID, Type: eventType, ClaimedAt: now}
		return true, nil
	}
	if ev.ProcessedAt == nil && ev.ClaimedAt.Before(now.Add(-staleAfter)) {
		ev.ClaimedAt = now
		return true, nil
	}
	return false, nil
}

func (m *MemoryLedger) CompleteWebhookEvent(ctx context.Context, eventID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, exists := m.events[eventID]
	if !exists {
		return fmt.Errorf("complete webhook event %s: no claim", eventID)
	}
	t := now
	ev.ProcessedAt = &t
	return nil
}

func (m *MemoryLedger) ReleaseWebhookEvent(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev, exists := m.events[eventID]; exists && ev.ProcessedAt == nil {
		delete(m.events, eventID)
	}
	return nil
}

func (m *MemoryLedger) EnsureSchema(ctx context.Context) error { return nil }

func (m *MemoryLedger) touch(b *models.Booking) {
	b.Version++
	b.UpdatedAt = time.Now().UTC()
}
