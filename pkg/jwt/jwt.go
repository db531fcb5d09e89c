package jwt

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token purposes. A token is only accepted for the purpose it was signed for.
const (
	PurposeSession     = "session"
	PurposeConfirm     = "confirm"
	PurposeRecovery    = "recovery"
	PurposePendingRole = "pending_role"
	PurposeConsent     = "oauth_consent"
)

// ErrInvalidToken covers every parse, signature, expiry or purpose failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT payload.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	// Contact binds a pending role to the email or phone being verified.
	Contact string `json:"contact,omitempty"`
	// Redirect and State ride along with an OAuth consent link.
	Redirect string `json:"redirect,omitempty"`
	State    string `json:"state,omitempty"`
	Purpose  string `json:"purpose"`
	gojwt.RegisteredClaims
}

// Manager signs and validates HS256 tokens with one secret.
type Manager struct {
	secret []byte
	now    func() time.Time
}

// NewManager returns a Manager; the secret is required.
func NewManager(secret string) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Manager{secret: []byte(secret), now: time.Now}, nil
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Sign stamps c with purpose, iat, exp and a fresh jti, then signs it.
func (m *Manager) Sign(purpose string, c Claims, ttl time.Duration) (string, *Claims, error) {
	now := m.now()
	c.Purpose = purpose
	c.ID = uuid.New().String()
	if c.Subject == "" {
		c.Subject = c.UserID
	}
	c.IssuedAt = gojwt.NewNumericDate(now)
	c.ExpiresAt = gojwt.NewNumericDate(now.Add(ttl))

	raw, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", purpose, err)
	}
	return raw, &c, nil
}

// Generate creates a session token for the given user.
func (m *Manager) Generate(userID, email string, ttl time.Duration) (string, *Claims, error) {
	return m.Sign(PurposeSession, Claims{UserID: userID, Email: email}, ttl)
}

// Validate parses raw and checks it was signed for purpose.
func (m *Manager) Validate(raw, purpose string) (*Claims, error) {
	token, err := gojwt.ParseWithClaims(raw, &Claims{}, func(t *gojwt.Token) (any, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, gojwt.WithTimeFunc(m.now), gojwt.WithIssuedAt())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: purpose %q, expected %q", ErrInvalidToken, claims.Purpose, purpose)
	}
	return claims, nil
}

// Remaining is how long the token stays valid from now.
func (m *Manager) Remaining(c *Claims) time.Duration {
	if c == nil || c.ExpiresAt == nil {
		return 0
	}
	if d := c.ExpiresAt.Time.Sub(m.now()); d > 0 {
		return d
	}
	return 0
}
