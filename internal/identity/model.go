package identity

import (
	"errors"
	"time"
)

// User is an identity known to the provider.
type User struct {
	ID          string            `json:"id"`
	Email       string            `json:"email,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	FullName    string            `json:"full_name"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ConfirmedAt *time.Time        `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Session is an authenticated session for one user.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenID     string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// EventType names an auth state change.
type EventType string

const (
	SignedIn       EventType = "SIGNED_IN"
	SignedOut      EventType = "SIGNED_OUT"
	TokenRefreshed EventType = "TOKEN_REFRESHED"
	UserUpdated    EventType = "USER_UPDATED"
)

// AuthEvent is delivered to OnAuthStateChange listeners.
// Session is nil for SignedOut.
type AuthEvent struct {
	Type    EventType
	Session *Session
}

// SignUpRequest registers a new password identity.
type SignUpRequest struct {
	Email       string
	Password    string
	Metadata    map[string]string
	RedirectURL string
}

// OAuthRequest starts an OAuth sign in.
type OAuthRequest struct {
	Provider    string
	RedirectURL string
	State       string
}

// Provider messages are user facing and surfaced verbatim.
var (
	ErrInvalidCredentials = errors.New("Invalid login credentials")
	ErrEmailNotConfirmed  = errors.New("Email not confirmed")
	ErrUserExists         = errors.New("User already registered")
	ErrOtpInvalid         = errors.New("Token has expired or is invalid")
	ErrUnsupportedOAuth   = errors.New("Unsupported provider: provider is not enabled")
	ErrNoSession          = errors.New("Auth session missing!")
	ErrUserNotFound       = errors.New("User not found")
)
