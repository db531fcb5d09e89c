package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
)

// Booking is the slice of a reservation the stats need.
type Booking struct {
	ID          string    `json:"id"`
	CarName     string    `json:"car_name"`
	UserEmail   string    `json:"user_email"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	TotalAmount int64     `json:"total_amount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// HistoryEntry is a booking as the history page lists it.
type HistoryEntry struct {
	Booking
	CarBrand    string          `json:"car_brand"`
	CarModel    string          `json:"car_model"`
	CarImage    string          `json:"car_image"`
	RenterName  string          `json:"renter_name"`
	UserDetails json.RawMessage `json:"user_details"`
}

// History is every booking the user may see, newest first.
type History struct {
	Role     roles.Role     `json:"role"`
	Bookings []HistoryEntry `json:"bookings"`
}

// Stats is the dashboard headline. Which counters are filled depends on
// the role it was computed for.
type Stats struct {
	TotalBookings     int   `json:"total_bookings"`
	TotalRevenue      int64 `json:"total_revenue"`
	TotalCars         int   `json:"total_cars"`
	TotalUsers        int   `json:"total_users"`
	ActiveBookings    int   `json:"active_bookings"`
	PendingBookings   int   `json:"pending_bookings"`
	CompletedBookings int   `json:"completed_bookings"`
	UpcomingBookings  int   `json:"upcoming_bookings"`
}

// Dashboard is what a signed-in user sees on the dashboard page.
type Dashboard struct {
	Role   roles.Role `json:"role"`
	Stats  Stats      `json:"stats"`
	Recent []Booking  `json:"recent_bookings"`
}

// Summarize counts bookings relative to today's calendar date.
func Summarize(bookings []Booking, today time.Time, role roles.Role) Stats {
	y, m, d := today.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	s := Stats{TotalBookings: len(bookings)}
	for _, b := range bookings {
		s.TotalRevenue += b.TotalAmount
		switch b.Status {
		case "confirmed":
			if b.EndDate.Before(day) {
				s.CompletedBookings++
			} else {
				s.ActiveBookings++
			}
			if role == roles.Customer && b.StartDate.After(day) {
				s.UpcomingBookings++
			}
		case "pending":
			if role != roles.Customer {
				s.PendingBookings++
			}
		}
	}
	return s
}

// Scope selects whose bookings are counted. The zero value is everything.
type Scope struct {
	OwnerID string
	UserID  string
}

// Store reads what dashboards summarize.
type Store interface {
	Bookings(ctx context.Context, sc Scope) ([]Booking, error)
	Recent(ctx context.Context, sc Scope, limit int) ([]Booking, error)
	CountCars(ctx context.Context, ownerID string) (int, error)
	CountUsers(ctx context.Context) (int, error)
	History(ctx context.Context, sc Scope) ([]HistoryEntry, error)
}

// RoleResolver resolves the primary role.
type RoleResolver interface {
	PrimaryRole(ctx context.Context, userID string) roles.Role
}

type Service struct {
	store Store
	roles RoleResolver
	now   func() time.Time
}

func NewService(store Store, r RoleResolver) *Service {
	return &Service{store: store, roles: r, now: time.Now}
}

const recentLimit = 5

// For builds the dashboard of userID according to their primary role.
func (s *Service) For(ctx context.Context, userID string) (*Dashboard, error) {
	role := s.roles.PrimaryRole(ctx, userID)
	sc := scopeFor(role, userID)

	bookings, err := s.store.Bookings(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	stats := Summarize(bookings, s.now(), role)

	switch role {
	case roles.Admin:
		if stats.TotalCars, err = s.store.CountCars(ctx, ""); err != nil {
			return nil, fmt.Errorf("count cars: %w", err)
		}
		if stats.TotalUsers, err = s.store.CountUsers(ctx); err != nil {
			return nil, fmt.Errorf("count users: %w", err)
		}
	case roles.CarOwner:
		if stats.TotalCars, err = s.store.CountCars(ctx, userID); err != nil {
			return nil, fmt.Errorf("count cars: %w", err)
		}
	}

	recent, err := s.store.Recent(ctx, sc, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("load recent bookings: %w", err)
	}
	return &Dashboard{Role: role, Stats: stats, Recent: recent}, nil
}

// History lists the bookings userID may see: everything for admins, the
// bookings of their cars for owners and their own for customers.
func (s *Service) History(ctx context.Context, userID string) (*History, error) {
	role := s.roles.PrimaryRole(ctx, userID)
	list, err := s.store.History(ctx, scopeFor(role, userID))
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return &History{Role: role, Bookings: list}, nil
}

func scopeFor(role roles.Role, userID string) Scope {
	switch role {
	case roles.CarOwner:
		return Scope{OwnerID: userID}
	case roles.Customer:
		return Scope{UserID: userID}
	}
	return Scope{}
}
