package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	ledgerRepo "homepro/database/repository/ledger"
	"homepro/models"
	"homepro/services/payment/paymenttest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	customer = models.Principal{ID: "cust-1", Role: models.RoleCustomer}
	pro      = models.Principal{ID: "pro-1", Role: models.RolePro}
	stranger = models.Principal{ID: "pro-2", Role: models.RolePro}
	admin    = models.Principal{ID: "admin-1", Role: models.RoleAdmin}
)

type sentNotification struct {
	To models.Recipient
	N  models.Notification
}

type recordingSink struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (s *recordingSink) Notify(ctx context.Context, to models.Recipient, n models.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentNotification{To: to, N: n})
}

func (s *recordingSink) count(recipientID, kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sn := range s.sent {
		if sn.To.ID == recipientID && sn.N.Type == kind {
			n++
		}
	}
	return n
}

type recordingScheduler struct {
	mu       sync.Mutex
	captures []string
	releases []string
}

func (r *recordingScheduler) ScheduleCaptureRetry(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, id)
	return nil
}

func (r *recordingScheduler) ScheduleHoldRelease(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases = append(r.releases, id)
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	store     *ledgerRepo.MemoryLedger
	gateway   *paymenttest.Gateway
	sink      *recordingSink
	retries   *recordingScheduler
	publisher *recordingPublisher
	clock     *testClock
	machine   *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     ledgerRepo.NewMemoryLedger(),
		gateway:   paymenttest.New(),
		sink:      &recordingSink{},
		retries:   &recordingScheduler{},
		publisher: &recordingPublisher{},
		clock:     &testClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)},
	}
	f.machine = f.newMachine(t, f.store)
	return f
}

func (f *fixture) newMachine(t *testing.T, store ledgerRepo.Store) *Machine {
	t.Helper()
	m, err := NewMachine(Deps{
		Store:    store,
		Gateway:  f.gateway,
		Notifier: f.sink,
		Events:   f.publisher,
		Retries:  f.retries,
		Currency: "USD",
		Clock:    f.clock.Now,
	})
	require.NoError(t, err)
	return m
}

// booking creates a booking and walks it to status through legal edges.
func (f *fixture) booking(t *testing.T, price int64, status models.BookingStatus) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := f.machine.Create(ctx, customer, pro.ID, price)
	require.NoError(t, err)

	path := map[models.BookingStatus][]models.BookingStatus{
		models.StatusRequested:  {},
		models.StatusAccepted:   {models.StatusAccepted},
		models.StatusOnTheWay:   {models.StatusAccepted, models.StatusOnTheWay},
		models.StatusInProgress: {models.StatusAccepted, models.StatusOnTheWay, models.StatusInProgress},
	}
	steps, ok := path[status]
	require.True(t, ok, "unsupported fixture status %s", status)
	for _, s := range steps {
		b, err = f.machine.Transition(ctx, b.ID, s, pro)
		require.NoError(t, err)
	}
	return b
}

func (f *fixture) authorize(t *testing.T, id string) string {
	t.Helper()
	_, ref, err := f.machine.Authorize(context.Background(), id, "pm_card_visa", customer)
	require.NoError(t, err)
	require.NotEmpty(t, ref)
	return ref
}

func (f *fixture) reload(t *testing.T, id string) *models.Booking {
	t.Helper()
	b, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return b
}

// assertHistory checks that history ends at the current status and never
// goes back in time.
func assertHistory(t *testing.T, b *models.Booking) {
	t.Helper()
	require.NotEmpty(t, b.StatusHistory)
	last, _ := b.LastEntry()
	assert.Equal(t, b.Status, last.Status, "last history entry must match status")
	for i := 1; i < len(b.StatusHistory); i++ {
		assert.False(t, b.StatusHistory[i].At.Before(b.StatusHistory[i-1].At), "history timestamps must not decrease")
	}
}

func countStatus(b *models.Booking, s models.BookingStatus) int {
	n := 0
	for _, e := range b.StatusHistory {
		if e.Status == s {
			n++
		}
	}
	return n
}

// barrierStore makes the first n reads wait for each other so concurrent
// callers observe the same version. Later reads pass straight through.
type barrierStore struct {
	ledgerRepo.Store
	mu      sync.Mutex
	pending int
	release chan struct{}
}

func newBarrierStore(inner ledgerRepo.Store, n int) *barrierStore {
	return &barrierStore{Store: inner, pending: n, release: make(chan struct{})}
}

func (s *barrierStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.Store.Get(ctx, id)
	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return b, err
	}
	s.pending--
	if s.pending == 0 {
		close(s.release)
	}
	s.mu.Unlock()
	<-s.release
	return b, err
}
