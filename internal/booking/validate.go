package booking

import (
	"strings"
	"unicode/utf8"

	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/validation"
)

// ValidationError names the first failing field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

type rule struct {
	ok  func(string) bool
	msg string
}

func minLen(n int) func(string) bool {
	return func(s string) bool { return utf8.RuneCountInString(s) >= n }
}

func maxLen(n int) func(string) bool {
	return func(s string) bool { return utf8.RuneCountInString(s) <= n }
}

// ValidateDetails checks fields in form order and returns the trimmed copy
// that gets stored.
func ValidateDetails(d RenterDetails) (RenterDetails, error) {
	out := RenterDetails{
		FullName:         strings.TrimSpace(d.FullName),
		Phone:            strings.TrimSpace(d.Phone),
		Email:            strings.TrimSpace(d.Email),
		DrivingLicense:   strings.TrimSpace(d.DrivingLicense),
		Address:          strings.TrimSpace(d.Address),
		EmergencyContact: strings.TrimSpace(d.EmergencyContact),
		SpecialRequests:  strings.TrimSpace(d.SpecialRequests),
	}
	fields := []struct {
		name  string
		value string
		rules []rule
	}{
		{"fullName", out.FullName, []rule{
			{minLen(1), "Full name is required"},
			{maxLen(100), "Name must be less than 100 characters"},
		}},
		{"phone", out.Phone, []rule{
			{minLen(10), "Phone number must be at least 10 digits"},
			// Inclusive: 15 digits pass despite the wording.
			{maxLen(15), "Phone number must be less than 15 digits"},
			{validation.PhoneChars, "Invalid phone number format"},
		}},
		{"email", out.Email, []rule{
			{validation.ValidateEmail, "Invalid email address"},
			{maxLen(255), "Email must be less than 255 characters"},
		}},
		{"drivingLicense", out.DrivingLicense, []rule{
			{minLen(5), "Driving license number is required"},
			{maxLen(50), "License number must be less than 50 characters"},
		}},
		{"address", out.Address, []rule{
			{maxLen(500), "Address must be less than 500 characters"},
		}},
		{"emergencyContact", out.EmergencyContact, []rule{
			{maxLen(15), "Emergency contact must be less than 15 digits"},
			{validation.PhoneChars, "Invalid phone number format"},
		}},
		{"specialRequests", out.SpecialRequests, []rule{
			{maxLen(500), "Special requests must be less than 500 characters"},
		}},
	}
	for _, f := range fields {
		for _, r := range f.rules {
			if !r.ok(f.value) {
				return out, &ValidationError{Field: f.name, Msg: r.msg}
			}
		}
	}
	return out, nil
}

// ValidateSchedule checks a range against today. A nil range means no
// dates were picked.
func ValidateSchedule(r *DateRange, today Date) error {
	switch {
	case r == nil || r.Start.IsZero() || r.End.IsZero():
		return &ValidationError{Field: "dates", Msg: "Please select start and end dates"}
	case r.Start.Before(today.Time):
		return &ValidationError{Field: "start_date", Msg: "Start date cannot be in the past"}
	case !r.End.After(r.Start.Time):
		return &ValidationError{Field: "end_date", Msg: "End date must be after start date"}
	}
	return nil
}
