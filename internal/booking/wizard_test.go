package booking

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/cars"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
)

type fakeStore struct {
	mu    sync.Mutex
	byKey map[string]*Reservation
	calls int
	err   error
}

func newFakeStore() *fakeStore { return &fakeStore{byKey: map[string]*Reservation{}} }

func (s *fakeStore) Create(_ context.Context, r Reservation) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if existing, ok := s.byKey[r.IdempotencyKey]; ok {
		return existing, nil
	}
	r.CreatedAt = time.Now()
	s.byKey[r.IdempotencyKey] = &r
	return &r, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

type staticUser struct{ user *identity.User }

func (s staticUser) Current() *identity.User { return s.user }

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *capturePublisher) Publish(_ context.Context, topic, _ string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

var testCar = cars.Car{ID: "car-1", Name: "Maruti Swift", PricePerDay: 2000}

func testNow() time.Time { return time.Date(2025, 2, 20, 15, 30, 0, 0, time.UTC) }

func newTestWizard(store Store, user *identity.User) *Wizard {
	return NewWizard(testCar, Deps{
		Store:    store,
		Identity: staticUser{user},
		Payments: PaymentLinker{BaseURL: "https://payments.example.com/pay", Currency: "INR"},
		Now:      testNow,
	})
}

func exampleRange(t *testing.T) DateRange {
	return DateRange{Start: mustDate(t, "2025-03-01"), End: mustDate(t, "2025-03-04")}
}

// toPayment drives a wizard through both gates.
func toPayment(t *testing.T, w *Wizard) {
	t.Helper()
	if err := w.SetDetails(validDetails()); err != nil {
		t.Fatal(err)
	}
	if err := w.Next(); err != nil {
		t.Fatalf("details gate: %v", err)
	}
	if err := w.SetDates(exampleRange(t)); err != nil {
		t.Fatal(err)
	}
	if err := w.Next(); err != nil {
		t.Fatalf("schedule gate: %v", err)
	}
}

func TestWizard_ExampleScenario(t *testing.T) {
	store := newFakeStore()
	w := newTestWizard(store, &identity.User{ID: "u-1"})
	toPayment(t, w)

	s := w.Summary()
	if s.Quote == nil || s.Quote.Days != 3 || s.Quote.Total != 6000 {
		t.Fatalf("summary = %+v", s)
	}

	co, err := w.Confirm(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := co.Reservation
	if r.UserID != "u-1" || r.CarID != "car-1" || r.TotalAmount != 6000 || r.Status != StatusConfirmed {
		t.Errorf("reservation = %+v", r)
	}
	if r.StartDate.String() != "2025-03-01" || r.EndDate.String() != "2025-03-04" {
		t.Errorf("dates = %s..%s", r.StartDate, r.EndDate)
	}
	if r.Details != validDetails() {
		t.Errorf("details snapshot = %+v", r.Details)
	}

	u, _ := url.Parse(co.PaymentURL)
	q := u.Query()
	if q.Get("amount") != "6000" || q.Get("currency") != "INR" || q.Get("booking") != r.ID {
		t.Errorf("payment url = %s", co.PaymentURL)
	}
	if !w.View().Closed {
		t.Error("wizard should close after booking")
	}
}

func TestWizard_ConfirmRequiresIdentity(t *testing.T) {
	store := newFakeStore()
	w := newTestWizard(store, nil)
	toPayment(t, w)

	if _, err := w.Confirm(context.Background()); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if store.calls != 0 {
		t.Errorf("store calls = %d, expected none", store.calls)
	}
	if v := w.View(); v.Step != "payment" || v.Closed {
		t.Errorf("view = %+v", v)
	}
}

func TestWizard_GatesBlockAdvance(t *testing.T) {
	w := newTestWizard(newFakeStore(), nil)
	bad := validDetails()
	bad.Phone = "123"
	w.SetDetails(bad)
	if err := w.Next(); err == nil || err.Error() != "Phone number must be at least 10 digits" {
		t.Errorf("details gate = %v", err)
	}
	if w.View().Step != "details" {
		t.Fatal("must stay on details")
	}
	if err := w.SetDates(exampleRange(t)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("skip ahead = %v", err)
	}

	w.SetDetails(validDetails())
	w.Next()
	if err := w.Next(); err == nil {
		t.Error("schedule gate passed without dates")
	}
	w.SetDates(DateRange{Start: mustDate(t, "2025-02-19"), End: mustDate(t, "2025-02-22")})
	if err := w.Next(); err == nil || err.Error() != "Start date cannot be in the past" {
		t.Errorf("past start = %v", err)
	}
	w.SetDates(DateRange{Start: mustDate(t, "2025-03-04"), End: mustDate(t, "2025-03-04")})
	if err := w.Next(); err == nil || err.Error() != "End date must be after start date" {
		t.Errorf("same day = %v", err)
	}
	if w.View().Step != "schedule" {
		t.Error("must stay on schedule")
	}
}

func TestWizard_BackKeepsDataAndPrice(t *testing.T) {
	w := newTestWizard(newFakeStore(), nil)
	toPayment(t, w)
	before := w.Summary()

	w.Back()
	w.Back()
	if v := w.View(); v.Step != "details" || v.Details != validDetails() {
		t.Fatalf("view = %+v", v)
	}
	if err := w.Next(); err != nil {
		t.Fatal(err)
	}
	after := w.Summary()
	if *after.Quote != *before.Quote || *after.Dates != *before.Dates {
		t.Errorf("summary changed: %+v -> %+v", before.Quote, after.Quote)
	}
}

func TestWizard_SummaryFollowsDates(t *testing.T) {
	w := newTestWizard(newFakeStore(), nil)
	w.SetDetails(validDetails())
	w.Next()
	if w.Summary().Quote != nil {
		t.Error("no quote before dates")
	}
	w.SetDates(DateRange{Start: mustDate(t, "2025-03-01"), End: mustDate(t, "2025-03-02")})
	if q := w.Summary().Quote; q.Days != 1 || q.Total != 2000 {
		t.Errorf("quote = %+v", q)
	}
	w.SetDates(DateRange{Start: mustDate(t, "2025-03-01"), End: mustDate(t, "2025-03-08")})
	if q := w.Summary().Quote; q.Days != 7 || q.Total != 14000 {
		t.Errorf("quote = %+v", q)
	}
}

func TestWizard_FailureStaysOpenAndRetryIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection reset")
	w := newTestWizard(store, &identity.User{ID: "u-1"})
	toPayment(t, w)

	if _, err := w.Confirm(context.Background()); !errors.Is(err, ErrBookingFailed) {
		t.Fatalf("expected ErrBookingFailed, got %v", err)
	}
	if v := w.View(); v.Step != "payment" || v.Closed || v.Busy {
		t.Fatalf("view after failure = %+v", v)
	}

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	first, err := w.Confirm(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if store.count() != 1 {
		t.Errorf("reservations = %d", store.count())
	}
	if _, err := w.Confirm(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("confirm after success = %v", err)
	}
	if first.Reservation.IdempotencyKey == "" {
		t.Error("expected an idempotency key")
	}
}

func TestWizard_NewPaymentEntryGetsNewKey(t *testing.T) {
	w := newTestWizard(newFakeStore(), &identity.User{ID: "u-1"})
	toPayment(t, w)
	w.mu.Lock()
	first := w.key
	w.mu.Unlock()

	w.Back()
	w.Next()
	w.mu.Lock()
	second := w.key
	w.mu.Unlock()
	if first == "" || first == second {
		t.Errorf("keys %q and %q, expected distinct", first, second)
	}
}

func TestWizard_PublishesReservationCreated(t *testing.T) {
	pub := &capturePublisher{}
	w := NewWizard(testCar, Deps{
		Store:    newFakeStore(),
		Identity: staticUser{&identity.User{ID: "u-1"}},
		Payments: PaymentLinker{BaseURL: "https://pay.test", Currency: "INR"},
		Events:   pub,
		Now:      testNow,
	})
	toPayment(t, w)
	if _, err := w.Confirm(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pub.mu.Lock()
		n := len(pub.topics)
		pub.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("reservation.created was not published")
}
