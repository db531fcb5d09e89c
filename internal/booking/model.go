package booking

import (
	"errors"
	"fmt"
	"time"
)

const day = 24 * time.Hour

// DateLayout is how reservation dates are written: calendar dates, no time.
const DateLayout = "2006-01-02"

// StatusConfirmed is the status every reservation is created with, before
// any payment is captured.
const StatusConfirmed = "confirmed"

var (
	ErrAuthRequired      = errors.New("Please login to continue")
	ErrBookingFailed     = errors.New("There was an error processing your booking")
	ErrBusy              = errors.New("A booking is already being submitted")
	ErrClosed            = errors.New("booking wizard closed")
	ErrInvalidTransition = errors.New("action not available in the current step")
)

// RenterDetails is captured in the first step and snapshotted into the
// reservation. JSON keys match the stored user_details document.
type RenterDetails struct {
	FullName         string `json:"fullName"`
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	DrivingLicense   string `json:"drivingLicense"`
	Address          string `json:"address,omitempty"`
	EmergencyContact string `json:"emergencyContact,omitempty"`
	SpecialRequests  string `json:"specialRequests,omitempty"`
}

// Date is a calendar date, held as UTC midnight.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate reads a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(DateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid date %s", b)
	}
	p, err := ParseDate(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// DateRange is a rental period. End is exclusive.
type DateRange struct {
	Start Date `json:"start_date"`
	End   Date `json:"end_date"`
}

// Days is the rental length in whole days, rounded up.
func (r DateRange) Days() int64 {
	d := r.End.Sub(r.Start.Time)
	if d <= 0 {
		return 0
	}
	return int64((d + day - 1) / day)
}

// Quote is the price of a range. It is never stored.
type Quote struct {
	Days        int64 `json:"days"`
	PricePerDay int64 `json:"price_per_day"`
	Total       int64 `json:"total"`
}

func QuoteFor(r DateRange, pricePerDay int64) Quote {
	days := r.Days()
	return Quote{Days: days, PricePerDay: pricePerDay, Total: days * pricePerDay}
}

// Reservation is a persisted booking. It is not edited after creation.
type Reservation struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	CarID          string        `json:"car_id"`
	StartDate      Date          `json:"start_date"`
	EndDate        Date          `json:"end_date"`
	TotalAmount    int64         `json:"total_amount"`
	Status         string        `json:"status"`
	Details        RenterDetails `json:"user_details"`
	IdempotencyKey string        `json:"idempotency_key"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Checkout is the result of a confirmed booking.
type Checkout struct {
	Reservation *Reservation `json:"reservation"`
	PaymentURL  string       `json:"payment_url"`
}
