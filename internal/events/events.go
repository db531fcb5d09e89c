package events

import "context"

// Publisher is the slice of the kafka client the services depend on.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// OtpRequestedEvent is published to auth.otp.requested; a delivery
// worker outside this service sends the code.
type OtpRequestedEvent struct {
	Contact     string `json:"contact"`
	Code        string `json:"code"`
	RequestedAt string `json:"requested_at"`
}

// Email kinds.
const (
	EmailConfirmSignup = "confirm_signup"
	EmailRecovery      = "recovery"
	EmailOAuthConsent  = "oauth_consent"
)

// EmailRequestedEvent is published to auth.email.requested.
type EmailRequestedEvent struct {
	Kind        string `json:"kind"`
	To          string `json:"to"`
	Link        string `json:"link"`
	RequestedAt string `json:"requested_at"`
}

// RoleGrantedEvent is published to role.granted.
type RoleGrantedEvent struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Source    string `json:"source"`
	GrantedAt string `json:"granted_at"`
}

// ReservationCreatedEvent is published to reservation.created.
type ReservationCreatedEvent struct {
	ReservationID string `json:"reservation_id"`
	UserID        string `json:"user_id"`
	CarID         string `json:"car_id"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	TotalAmount   int64  `json:"total_amount"`
	Currency      string `json:"currency"`
	CreatedAt     string `json:"created_at"`
}
