package cars

import (
	"errors"
	"time"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
)

var ErrNotFound = errors.New("car not found")

// Car is a listed vehicle. Owner is only set by Service.Details.
type Car struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	Name         string        `json:"name"`
	Brand        string        `json:"brand"`
	Model        string        `json:"model"`
	Year         int           `json:"year"`
	PricePerDay  int64         `json:"price_per_day"`
	Image        string        `json:"image"`
	Rating       float64       `json:"rating"`
	Passengers   int           `json:"passengers"`
	FuelType     string        `json:"fuel_type"`
	Transmission string        `json:"transmission"`
	Category     string        `json:"category"`
	Available    bool          `json:"available"`
	Location     string        `json:"location"`
	Description  string        `json:"description"`
	Features     []string      `json:"features"`
	CreatedAt    time.Time     `json:"created_at"`
	Owner        *OwnerContact `json:"owner,omitempty"`
}

// OwnerContact is private to admins, the owner and renters of the car.
type OwnerContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Filter narrows ListPublic. Zero values match everything.
type Filter struct {
	Category  string
	Available *bool
}

// Viewer is who is looking. An empty UserID is an anonymous visitor.
type Viewer struct {
	UserID string
	Role   roles.Role
}
