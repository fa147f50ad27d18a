package ledgerRepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"homepro/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// bookingRow is the relational layout of a booking. History is a JSON column
// rewritten in the same UPDATE that changes status.
type bookingRow struct {
	ID             string         `gorm:"primaryKey;size:64"`
	Status         string         `gorm:"size:32;not null;index"`
	CustomerID     string         `gorm:"size:64;not null;index:idx_bookings_customer_created,priority:1"`
	ProID          string         `gorm:"size:64;not null;index:idx_bookings_pro_created,priority:1"`
	Price          int64          `gorm:"not null"`
	Currency       string         `gorm:"size:8;not null"`
	PaymentHoldRef *string        `gorm:"size:255;uniqueIndex"`
	PaymentState   string         `gorm:"size:16;not null"`
	StatusHistory  datatypes.JSON `gorm:"not null"`
	CompletedAt    *time.Time
	PaidAt         *time.Time
	HoldReleasedAt *time.Time
	FailureReason  string
	Version        int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null;index:idx_bookings_customer_created,priority:2;index:idx_bookings_pro_created,priority:2"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (bookingRow) TableName() string { return "bookings" }

type webhookEventRow struct {
	EventID     string    `gorm:"primaryKey;size:255"`
	Type        string    `gorm:"size:64;not null"`
	ClaimedAt   time.Time `gorm:"not null"`
	ProcessedAt *time.Time
}

func (webhookEventRow) TableName() string { return "processed_webhook_events" }

// GormLedger implements Store on a relational database through gorm. Writes
// are guarded by the row's version column.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (r *GormLedger) EnsureSchema(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&bookingRow{}, &webhookEventRow{}); err != nil {
		return fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	return nil
}

func (r *GormLedger) Create(ctx context.Context, b *models.Booking) error {
	row, err := toRow(b)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return fmt.Errorf("create booking %s: %w", b.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert booking %s: %w", b.ID, err)
	}
	return nil
}

func (r *GormLedger) Get(ctx context.Context, id string) (*models.Booking, error) {
	row, err := r.load(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

func (r *GormLedger) GetByHoldRef(ctx context.Context, holdRef string) (*models.Booking, error) {
	row, err := r.load(ctx, "payment_hold_ref = ?", holdRef)
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

func (r *GormLedger) load(ctx context.Context, query string, arg interface{}) (*bookingRow, error) {
	var row bookingRow
	if err := r.db.WithContext(ctx).Where(query, arg).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error fetching booking: %w", err)
	}
	return &row, nil
}

func (r *GormLedger) ListByParty(ctx context.Context, role models.Role, partyID string, limit int) ([]models.Booking, error) {
	q := r.db.WithContext(ctx).Model(&bookingRow{})
	switch role {
	case models.RoleCustomer:
		q = q.Where("customer_id = ?", partyID)
	case models.RolePro:
		q = q.Where("pro_id = ?", partyID)
	default:
		return nil, fmt.Errorf("list bookings: unsupported party role %q", role)
	}
	q = q.Order("created_at DESC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []bookingRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing bookings: %w", err)
	}
	out := make([]models.Booking, 0, len(rows))
	for i := range rows {
		b, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

func (r *GormLedger) CompareAndSwapStatus(ctx context.Context, id string, expected, next models.BookingStatus, entry models.StatusEntry, fields Fields) (*models.Booking, error) {
	return r.mutate(ctx, id, func(b *models.Booking) bool {
		if b.Status != expected {
			return false
		}
		b.Status = next
		b.StatusHistory = append(b.StatusHistory, entry)
		ApplyFields(b, fields)
		return true
	})
}

func (r *GormLedger) AttachHold(ctx context.Context, id, holdRef string, state models.PaymentState, allowed []models.BookingStatus) (*models.Booking, error) {
	b, err := r.mutate(ctx, id, func(b *models.Booking) bool {
		if b.PaymentHoldRef != nil || !containsStatus(allowed, b.Status) {
			return false
		}
		ref := holdRef
		b.PaymentHoldRef = &ref
		b.PaymentState = state
		return true
	})
	if err != nil && isUniqueViolation(err) {
		return nil, ErrStale
	}
	return b, err
}

func (r *GormLedger) UpdatePayment(ctx context.Context, id string, expected []models.PaymentState, fields Fields) (*models.Booking, error) {
	return r.mutate(ctx, id, func(b *models.Booking) bool {
		if !containsPaymentState(expected, b.PaymentState) {
			return false
		}
		ApplyFields(b, fields)
		return true
	})
}

// mutateAttempts bounds re-reads when another writer bumps the version
// while the caller's precondition still holds.
const mutateAttempts = 5

// mutate reads the row, applies change and writes it back only if nobody
// else has written since the read. A version miss re-reads and re-checks the
// precondition, so unrelated writes never surface as ErrStale.
func (r *GormLedger) mutate(ctx context.Context, id string, change func(b *models.Booking) bool) (*models.Booking, error) {
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		b, written, err := r.tryMutate(ctx, id, change)
		if err != nil {
			return nil, err
		}
		if written {
			return b, nil
		}
	}
	return nil, ErrStale
}

func (r *GormLedger) tryMutate(ctx context.Context, id string, change func(b *models.Booking) bool) (*models.Booking, bool, error) {
	row, err := r.load(ctx, "id = ?", id)
	if err != nil {
		return nil, false, err
	}
	b, err := fromRow(row)
	if err != nil {
		return nil, false, err
	}
	if !change(b) {
		return nil, false, ErrStale
	}
	b.Version = row.Version + 1
	b.UpdatedAt = time.Now().UTC()

	next, err := toRow(b)
	if err != nil {
		return nil, false, err
	}
	res := r.db.WithContext(ctx).Model(&bookingRow{}).
		Where("id = ? AND version = ?", id, row.Version).
		Updates(map[string]interface{}{
			"status":           next.Status,
			"payment_hold_ref": next.PaymentHoldRef,
			"payment_state":    next.PaymentState,
			"status_history":   next.StatusHistory,
			"completed_at":     next.CompletedAt,
			"paid_at":          next.PaidAt,
			"hold_released_at": next.HoldReleasedAt,
			"failure_reason":   next.FailureReason,
			"version":          next.Version,
			"updated_at":       next.UpdatedAt,
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("conditional update of booking %s failed: %w", id, res.Error)
	}
	return b, res.RowsAffected == 1, nil
}

func (r *GormLedger) ClaimWebhookEvent(ctx context.Context, eventID, eventType string, now time.Time, staleAfter time.Duration) (bool, error) {
	now = now.UTC()
	row := webhookEventRow{EventID: eventID, Type: eventType, ClaimedAt: now}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim webhook event %s: %w", eventID, res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = r.db.WithContext(ctx).Model(&webhookEventRow{}).
		Where("event_id = ? AND processed_at IS NULL AND claimed_at < ?", eventID, now.Add(-staleAfter)).
		Update("claimed_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to reclaim webhook event %s: %w", eventID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *GormLedger) CompleteWebhookEvent(ctx context.Context, eventID string, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&webhookEventRow{}).
		Where("event_id = ?", eventID).
		Update("processed_at", now.UTC())
	if res.Error != nil {
		return fmt.Errorf("failed to complete webhook event %s: %w", eventID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("complete webhook event %s: no claim", eventID)
	}
	return nil
}

func (r *GormLedger) ReleaseWebhookEvent(ctx context.Context, eventID string) error {
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND processed_at IS NULL", eventID).
		Delete(&webhookEventRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to release webhook event %s: %w", eventID, err)
	}
	return nil
}

func toRow(b *models.Booking) (*bookingRow, error) {
	history, err := json.Marshal(b.StatusHistory)
	if err != nil {
		return nil, fmt.Errorf("encode status history of %s: %w", b.ID, err)
	}
	return &bookingRow{
		ID:             b.ID,
		Status:         string(b.Status),
		CustomerID:     b.CustomerID,
		ProID:          b.ProID,
		Price:          b.Price,
		Currency:       b.Currency,
		PaymentHoldRef: b.PaymentHoldRef,
		PaymentState:   string(b.PaymentState),
		StatusHistory:  datatypes.JSON(history),
		CompletedAt:    b.CompletedAt,
		PaidAt:         b.PaidAt,
		HoldReleasedAt: b.HoldReleasedAt,
		FailureReason:  b.FailureReason,
		Version:        b.Version,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}, nil
}

func fromRow(row *bookingRow) (*models.Booking, error) {
	var history []models.StatusEntry
	if len(row.StatusHistory) > 0 {
		if err := json.Unmarshal(row.StatusHistory, &history); err != nil {
			return nil, fmt.Errorf("decode status history of %s: %w", row.ID, err)
		}
	}
	b := &models.Booking{
		ID:             row.ID,
		Status:         models.BookingStatus(row.Status),
		CustomerID:     row.CustomerID,
		ProID:          row.ProID,
		Price:          row.Price,
		Currency:       row.Currency,
		PaymentHoldRef: row.PaymentHoldRef,
		PaymentState:   models.PaymentState(row.PaymentState),
		StatusHistory:  history,
		CompletedAt:    row.CompletedAt,
		PaidAt:         row.PaidAt,
		HoldReleasedAt: row.HoldReleasedAt,
		FailureReason:  row.FailureReason,
		Version:        row.Version,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	return b.Clone(), nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique_violation")
}
