package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	contactRegex = regexp.MustCompile(`^\+?[1-9]\d{9,14}$`)
	phoneRegex   = regexp.MustCompile(`^[0-9+\-\s()]+$`)
	otpRegex     = regexp.MustCompile(`^[0-9]{6}$`)
)

// ValidateEmail reports whether email is well formed and no longer than 255 characters.
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	return email != "" && emailRegex.MatchString(email) && len(email) <= 255
}

// ValidatePhone accepts digits and common punctuation, 10 to 15 characters long.
func ValidatePhone(phone string) bool {
	phone = strings.TrimSpace(phone)
	n := utf8.RuneCountInString(phone)
	return n >= 10 && n <= 15 && phoneRegex.MatchString(phone)
}

// ValidateContact accepts an email address or an E.164 phone number,
// the two channels an OTP can be sent to.
func ValidateContact(contact string) bool {
	contact = strings.TrimSpace(contact)
	return ValidateEmail(contact) || contactRegex.MatchString(contact)
}

// NormalizeContact is the canonical form an OTP contact is keyed by.
// Emails are case folded; phone numbers are only trimmed.
func NormalizeContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if strings.Contains(contact, "@") {
		return strings.ToLower(contact)
	}
	return contact
}

// PhoneChars reports whether s only holds phone punctuation. Empty is allowed.
func PhoneChars(s string) bool {
	return s == "" || phoneRegex.MatchString(s)
}

func ValidateName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && utf8.RuneCountInString(name) <= 100
}

// ValidateOTP accepts exactly six ASCII digits.
func ValidateOTP(code string) bool {
	return otpRegex.MatchString(code)
}

// PasswordProblem returns the first unmet strength rule, or "" when the
// password has at least 8 characters with an upper, a lower and a digit.
func PasswordProblem(password string) string {
	if utf8.RuneCountInString(password) < 8 {
		return "Password must be at least 8 characters"
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	switch {
	case !upper:
		return "Password must contain at least one uppercase letter"
	case !lower:
		return "Password must contain at least one lowercase letter"
	case !digit:
		return "Password must contain at least one number"
	}
	return ""
}

// MaxLen reports whether s, trimmed, is at most n characters.
func MaxLen(s string, n int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(s)) <= n
}
