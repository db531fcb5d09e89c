package auth

import (
	"errors"
	"fmt"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
)

// User facing messages.
const (
	msgFillAllFields   = "Please fill all fields"
	msgInvalidEmail    = "Please enter a valid email address"
	msgInvalidContact  = "Please enter a valid email or phone number"
	msgInvalidName     = "Please enter your full name"
	msgInvalidRole     = "Please select a valid account type"
	msgAdminSignup     = "Admin accounts cannot be created through signup"
	msgAdminOAuth      = "Admin login requires email and password"
	msgInvalidCode     = "Please enter a valid 6-digit code"
	msgCheckInbox      = "Please check your email to confirm your account"
	msgCodeSent        = "Verification code sent"
	msgResetLinkSent   = "If an account with this email exists, a password reset link has been sent"
	msgOtpQuotaReached = "Daily OTP limit reached. Please try again tomorrow."
)

var (
	ErrQuotaExceeded     = errors.New(msgOtpQuotaReached)
	ErrQuotaUnavailable  = errors.New("Unable to send a code right now. Please try again later.")
	ErrCooldown          = errors.New("Please wait before requesting a new code")
	ErrBusy              = errors.New("A request is already in progress")
	ErrInvalidTransition = errors.New("action not available in the current step")
	ErrClosed            = errors.New("auth flow closed")
)

// ValidationError is a local input problem found before any provider call.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(msg string) error { return &ValidationError{Msg: msg} }

// ProviderError carries an identity provider rejection. Its message is the
// provider's, verbatim.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return e.Err.Error() }

func (e *ProviderError) Unwrap() error { return e.Err }

// RoleMismatchError means the resolved primary role differs from the one the
// user claimed. The session has already been signed out when it is returned.
type RoleMismatchError struct {
	Claimed roles.Role
	Actual  roles.Role
}

func (e *RoleMismatchError) Error() string {
	return fmt.Sprintf("You cannot login as %s. Your account type is %s.",
		e.Claimed.DisplayName(), e.Actual.DisplayName())
}
