package cars

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validListing() Listing {
	return Listing{
		Name:         "Creta",
		Brand:        "Hyundai",
		Model:        "Creta SX",
		Year:         2023,
		PricePerDay:  3500,
		Passengers:   5,
		FuelType:     "diesel",
		Transmission: "automatic",
		Category:     "suv",
		Location:     "Pune",
		Description:  "Well kept family SUV",
		Image:        "https://img.example.com/creta.jpg",
		Features:     []string{"AC", "GPS Navigation"},
		OwnerName:    "Ravi",
		OwnerPhone:   "9876543210",
		OwnerEmail:   "ravi@x.com",
	}
}

func TestValidateListing(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		edit  func(*Listing)
		field string
		msg   string
	}{
		{"valid", func(*Listing) {}, "", ""},
		{"no name", func(l *Listing) { l.Name = "  " }, "name", "Car name is required"},
		{"long brand", func(l *Listing) { l.Brand = strings.Repeat("b", 51) }, "brand", "Brand name too long"},
		{"ancient", func(l *Listing) { l.Year = 1899 }, "year", "Invalid year"},
		{"next year", func(l *Listing) { l.Year = 2026 }, "", ""},
		{"two years out", func(l *Listing) { l.Year = 2027 }, "year", "Invalid year"},
		{"free", func(l *Listing) { l.PricePerDay = 0 }, "price_per_day", "Price must be at least ₹1"},
		{"no seats", func(l *Listing) { l.Passengers = 0 }, "passengers", "Must have at least 1 passenger"},
		{"bus", func(l *Listing) { l.Passengers = 21 }, "passengers", "Maximum 20 passengers"},
		{"short description", func(l *Listing) { l.Description = "nice" }, "description", "Description must be at least 10 characters"},
		{"relative image", func(l *Listing) { l.Image = "/img/creta.jpg" }, "image", "Must be a valid image URL"},
		{"short owner phone", func(l *Listing) { l.OwnerPhone = "98765" }, "owner_phone", "Phone must be at least 10 digits"},
		{"long owner phone", func(l *Listing) { l.OwnerPhone = strings.Repeat("9", 16) }, "owner_phone", "Phone number too long"},
		{"bad owner email", func(l *Listing) { l.OwnerEmail = "ravi" }, "owner_email", "Invalid email address"},
		{"blank features", func(l *Listing) { l.Features = []string{" ", ""} }, "features", "Select at least one feature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := validListing()
			tt.edit(&l)
			_, err := ValidateListing(l, now)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field || verr.Msg != tt.msg {
				t.Errorf("error = %#v, expected %s: %q", err, tt.field, tt.msg)
			}
		})
	}
}

func TestValidateListing_Trims(t *testing.T) {
	l := validListing()
	l.Location = "  Pune "
	l.Features = []string{" AC ", "", "GPS Navigation"}
	out, err := ValidateListing(l, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if out.Location != "Pune" || len(out.Features) != 2 || out.Features[0] != "AC" {
		t.Errorf("out = %+v", out)
	}
	if len(l.Features) != 3 {
		t.Error("input features were modified")
	}
}
