package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/cars"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/events"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/kafka"
)

// Step is a wizard page.
type Step int

const (
	StepDetails Step = iota + 1
	StepSchedule
	StepPayment
)

func (s Step) String() string {
	switch s {
	case StepDetails:
		return "details"
	case StepSchedule:
		return "schedule"
	case StepPayment:
		return "payment"
	}
	return "unknown"
}

// CurrentUser is the session observer as the wizard sees it.
type CurrentUser interface {
	Current() *identity.User
}

// Deps are the collaborators of a Wizard. Events and Now are optional.
type Deps struct {
	Store    Store
	Identity CurrentUser
	Payments PaymentLinker
	Events   events.Publisher
	Now      func() time.Time
}

// Summary is the live booking card. Quote is nil until dates are picked.
type Summary struct {
	CarID    string     `json:"car_id"`
	CarName  string     `json:"car_name"`
	Dates    *DateRange `json:"dates,omitempty"`
	Quote    *Quote     `json:"quote,omitempty"`
	Currency string     `json:"currency"`
}

// View is the renderable state of a wizard.
type View struct {
	ID      string        `json:"id"`
	Step    string        `json:"step"`
	Busy    bool          `json:"busy"`
	Closed  bool          `json:"closed"`
	Details RenterDetails `json:"details"`
	Summary Summary       `json:"summary"`
}

// Wizard is one booking modal instance for one car.
type Wizard struct {
	id   string
	car  cars.Car
	deps Deps
	log  *logrus.Entry

	mu      sync.Mutex
	step    Step
	details RenterDetails
	dates   *DateRange
	key     string // idempotency key of the current payment step entry
	busy    bool
	closed  bool
}

func NewWizard(car cars.Car, deps Deps) *Wizard {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	id := uuid.New().String()
	return &Wizard{
		id:   id,
		car:  car,
		deps: deps,
		step: StepDetails,
		log:  logs.For("booking").WithFields(logrus.Fields{"wizard_id": id, "car_id": car.ID}),
	}
}

func (w *Wizard) ID() string { return w.id }

// guard checks the wizard can act in one of the given steps. Caller holds mu.
func (w *Wizard) guard(steps ...Step) error {
	if w.closed {
		return ErrClosed
	}
	if w.busy {
		return ErrBusy
	}
	for _, s := range steps {
		if w.step == s {
			return nil
		}
	}
	return ErrInvalidTransition
}

// SetDetails replaces the renter details being edited.
func (w *Wizard) SetDetails(d RenterDetails) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(StepDetails); err != nil {
		return err
	}
	w.details = d
	return nil
}

// SetDates replaces the chosen range. The summary follows immediately.
func (w *Wizard) SetDates(r DateRange) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(StepSchedule); err != nil {
		return err
	}
	w.dates = &r
	return nil
}

// Next advances one step if the current step's gate passes.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(StepDetails, StepSchedule); err != nil {
		return err
	}
	switch w.step {
	case StepDetails:
		if _, err := ValidateDetails(w.details); err != nil {
			return err
		}
		w.step = StepSchedule
	case StepSchedule:
		if err := ValidateSchedule(w.dates, NewDate(w.deps.Now())); err != nil {
			return err
		}
		w.step = StepPayment
		w.key = uuid.New().String()
	}
	return nil
}

// Back returns to the previous step, keeping everything entered.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(StepSchedule, StepPayment); err != nil {
		return err
	}
	w.step--
	return nil
}

func (w *Wizard) summary() Summary {
	s := Summary{CarID: w.car.ID, CarName: w.car.Name, Currency: w.deps.Payments.Currency}
	if w.dates != nil {
		r := *w.dates
		q := QuoteFor(r, w.car.PricePerDay)
		s.Dates, s.Quote = &r, &q
	}
	return s
}

// Summary is recomputed from the current dates on every call.
func (w *Wizard) Summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summary()
}

func (w *Wizard) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return View{
		ID:      w.id,
		Step:    w.step.String(),
		Busy:    w.busy,
		Closed:  w.closed,
		Details: w.details,
		Summary: w.summary(),
	}
}

// Close dismisses the wizard. A Confirm in flight still completes.
func (w *Wizard) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// Confirm persists the reservation and returns the payment handoff. On a
// store failure the wizard stays on the payment step and a retry reuses
// the same idempotency key.
func (w *Wizard) Confirm(ctx context.Context) (*Checkout, error) {
	w.mu.Lock()
	if err := w.guard(StepPayment); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.busy = true
	details, dates, key := w.details, *w.dates, w.key
	w.mu.Unlock()

	done := func(closeWizard bool) {
		w.mu.Lock()
		w.busy = false
		if closeWizard {
			w.closed = true
		}
		w.mu.Unlock()
	}

	clean, err := ValidateDetails(details)
	if err != nil {
		done(false)
		return nil, err
	}
	if err := ValidateSchedule(&dates, NewDate(w.deps.Now())); err != nil {
		done(false)
		return nil, err
	}
	user := w.deps.Identity.Current()
	if user == nil {
		done(false)
		return nil, ErrAuthRequired
	}

	q := QuoteFor(dates, w.car.PricePerDay)
	res, err := w.deps.Store.Create(ctx, Reservation{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		CarID:          w.car.ID,
		StartDate:      dates.Start,
		EndDate:        dates.End,
		TotalAmount:    q.Total,
		Status:         StatusConfirmed,
		Details:        clean,
		IdempotencyKey: key,
	})
	if err != nil {
		w.log.WithError(err).WithField("idempotency_key", key).Error("creating reservation")
		done(false)
		return nil, ErrBookingFailed
	}
	done(true)

	w.log.WithFields(logrus.Fields{"reservation_id": res.ID, "user_id": user.ID, "total": res.TotalAmount}).
		Info("reservation created")
	w.publish(res)
	return &Checkout{Reservation: res, PaymentURL: w.deps.Payments.URL(res)}, nil
}

func (w *Wizard) publish(r *Reservation) {
	if w.deps.Events == nil {
		return
	}
	ev := events.ReservationCreatedEvent{
		ReservationID: r.ID,
		UserID:        r.UserID,
		CarID:         r.CarID,
		StartDate:     r.StartDate.String(),
		EndDate:       r.EndDate.String(),
		TotalAmount:   r.TotalAmount,
		Currency:      w.deps.Payments.Currency,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
	}
	go func() {
		if err := w.deps.Events.Publish(context.Background(), kafka.TopicReservationCreated, r.ID, ev); err != nil {
			w.log.WithError(err).Warn("failed to publish reservation.created")
		}
	}()
}
