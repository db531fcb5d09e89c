package cars

import (
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/validation"
)

var ErrUnavailable = errors.New("This car is not available for booking")

// ValidationError names the first failing field of a listing.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

// Listing is what an owner submits to add or edit a car.
type Listing struct {
	Name         string   `json:"name"`
	Brand        string   `json:"brand"`
	Model        string   `json:"model"`
	Year         int      `json:"year"`
	PricePerDay  int64    `json:"price_per_day"`
	Passengers   int      `json:"passengers"`
	FuelType     string   `json:"fuel_type"`
	Transmission string   `json:"transmission"`
	Category     string   `json:"category"`
	Location     string   `json:"location"`
	Description  string   `json:"description"`
	Image        string   `json:"image"`
	Features     []string `json:"features"`
	OwnerName    string   `json:"owner_name"`
	OwnerPhone   string   `json:"owner_phone"`
	OwnerEmail   string   `json:"owner_email"`
}

// FleetCar is an owner's car with its booking totals.
type FleetCar struct {
	Car
	TotalBookings int   `json:"total_bookings"`
	Revenue       int64 `json:"revenue"`
}

func (l Listing) contact() OwnerContact {
	return OwnerContact{Name: l.OwnerName, Phone: l.OwnerPhone, Email: l.OwnerEmail}
}

func required(s string) bool { return s != "" }

func atMost(n int) func(string) bool {
	return func(s string) bool { return utf8.RuneCountInString(s) <= n }
}

func atLeast(n int) func(string) bool {
	return func(s string) bool { return utf8.RuneCountInString(s) >= n }
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

type rule struct {
	field string
	value string
	ok    func(string) bool
	msg   string
}

func check(rules []rule) error {
	for _, r := range rules {
		if !r.ok(r.value) {
			return &ValidationError{Field: r.field, Msg: r.msg}
		}
	}
	return nil
}

// ValidateListing checks l in form order and returns the trimmed copy that
// gets stored. The newest accepted model year is next year.
func ValidateListing(l Listing, now time.Time) (Listing, error) {
	out := l
	for _, p := range []*string{&out.Name, &out.Brand, &out.Model, &out.FuelType, &out.Transmission,
		&out.Category, &out.Location, &out.Description, &out.Image, &out.OwnerName, &out.OwnerPhone, &out.OwnerEmail} {
		*p = strings.TrimSpace(*p)
	}
	features := out.Features[:0:0]
	for _, f := range out.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	out.Features = features

	err := check([]rule{
		{"name", out.Name, required, "Car name is required"},
		{"name", out.Name, atMost(100), "Name too long"},
		{"brand", out.Brand, required, "Brand is required"},
		{"brand", out.Brand, atMost(50), "Brand name too long"},
		{"model", out.Model, required, "Model is required"},
		{"model", out.Model, atMost(50), "Model name too long"},
	})
	if err != nil {
		return out, err
	}
	switch {
	case out.Year < 1900 || out.Year > now.Year()+1:
		return out, &ValidationError{Field: "year", Msg: "Invalid year"}
	case out.PricePerDay < 1:
		return out, &ValidationError{Field: "price_per_day", Msg: "Price must be at least ₹1"}
	case out.Passengers < 1:
		return out, &ValidationError{Field: "passengers", Msg: "Must have at least 1 passenger"}
	case out.Passengers > 20:
		return out, &ValidationError{Field: "passengers", Msg: "Maximum 20 passengers"}
	}
	err = check([]rule{
		{"fuel_type", out.FuelType, required, "Fuel type is required"},
		{"fuel_type", out.FuelType, atMost(20), "Fuel type too long"},
		{"transmission", out.Transmission, required, "Transmission type is required"},
		{"transmission", out.Transmission, atMost(20), "Transmission type too long"},
		{"category", out.Category, required, "Category is required"},
		{"category", out.Category, atMost(30), "Category too long"},
		{"location", out.Location, required, "Location is required"},
		{"location", out.Location, atMost(100), "Location too long"},
		{"description", out.Description, atLeast(10), "Description must be at least 10 characters"},
		{"description", out.Description, atMost(1000), "Description too long"},
		{"image", out.Image, isURL, "Must be a valid image URL"},
		{"owner_name", out.OwnerName, required, "Your name is required"},
		{"owner_name", out.OwnerName, atMost(100), "Name too long"},
		{"owner_phone", out.OwnerPhone, atLeast(10), "Phone must be at least 10 digits"},
		{"owner_phone", out.OwnerPhone, atMost(15), "Phone number too long"},
		{"owner_phone", out.OwnerPhone, validation.PhoneChars, "Invalid phone number format"},
		{"owner_email", out.OwnerEmail, validation.ValidateEmail, "Invalid email address"},
	})
	if err != nil {
		return out, err
	}
	if len(out.Features) == 0 {
		return out, &ValidationError{Field: "features", Msg: "Select at least one feature"}
	}
	return out, nil
}
