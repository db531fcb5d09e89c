package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/jwt"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/validation"
)

// MetadataKey is the user metadata field that carries a pending role token
// through email confirmation.
const MetadataKey = "pending_role"

// ErrNotPending is returned by Decode for anything that is not a valid,
// unexpired, self-serve pending role token.
var ErrNotPending = errors.New("invalid pending role token")

// PendingRole is a role chosen before identity verification completed.
// A nil *PendingRole means none.
type PendingRole struct {
	Role     roles.Role
	IssuedAt time.Time
	ID       string
	// Contact is set when the token was held for one OTP contact.
	Contact string
}

// Tokens issues and decodes signed pending role tokens.
type Tokens struct {
	jwt *jwt.Manager
	ttl time.Duration
}

func NewTokens(m *jwt.Manager, ttl time.Duration) *Tokens {
	return &Tokens{jwt: m, ttl: ttl}
}

// TTL is the default lifetime of issued tokens.
func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue signs a token for role. Only self-serve roles can be pending.
func (t *Tokens) Issue(role roles.Role) (string, error) {
	return t.IssueFor(role, t.ttl)
}

// IssueFor is Issue with an explicit lifetime.
func (t *Tokens) IssueFor(role roles.Role, ttl time.Duration) (string, error) {
	return t.sign(role, "", ttl)
}

// IssueBound signs a token that only the owner of contact can consume.
func (t *Tokens) IssueBound(role roles.Role, contact string) (string, error) {
	return t.sign(role, validation.NormalizeContact(contact), t.ttl)
}

func (t *Tokens) sign(role roles.Role, contact string, ttl time.Duration) (string, error) {
	if !role.SelfServe() {
		return "", fmt.Errorf("role %q is not self-serve", role)
	}
	raw, _, err := t.jwt.Sign(jwt.PurposePendingRole, jwt.Claims{Role: string(role), Contact: contact}, ttl)
	return raw, err
}

// Decode validates raw and returns the role it carries.
func (t *Tokens) Decode(raw string) (*PendingRole, error) {
	if raw == "" {
		return nil, ErrNotPending
	}
	c, err := t.jwt.Validate(raw, jwt.PurposePendingRole)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPending, err)
	}
	role, err := roles.Parse(c.Role)
	if err != nil || !role.SelfServe() {
		return nil, fmt.Errorf("%w: role %q", ErrNotPending, c.Role)
	}
	if c.ID == "" || c.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing jti or iat", ErrNotPending)
	}
	return &PendingRole{Role: role, IssuedAt: c.IssuedAt.Time, ID: c.ID, Contact: c.Contact}, nil
}

// HeldFor reports whether the token is bound to one of u's contacts.
func (p *PendingRole) HeldFor(u identity.User) bool {
	if p.Contact == "" {
		return false
	}
	for _, c := range []string{u.Email, u.Phone} {
		if c != "" && validation.NormalizeContact(c) == p.Contact {
			return true
		}
	}
	return false
}

// KeyValue is the redis slice the device store needs.
type KeyValue interface {
	PutOnce(ctx context.Context, key, value string, ttl time.Duration) error
	TakeOnce(ctx context.Context, key string) (string, bool, error)
	ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// DeviceStore keeps a pending role token per device across a verification
// round trip, and records which tokens have been consumed.
type DeviceStore struct {
	kv  KeyValue
	ttl time.Duration
}

func NewDeviceStore(kv KeyValue, ttl time.Duration) *DeviceStore {
	return &DeviceStore{kv: kv, ttl: ttl}
}

func deviceKey(deviceID string) string { return "pending_role:device:" + deviceID }

// Save replaces the device's pending token.
func (d *DeviceStore) Save(ctx context.Context, deviceID, token string) error {
	return d.kv.PutOnce(ctx, deviceKey(deviceID), token, d.ttl)
}

// Take reads and removes the device's pending token.
func (d *DeviceStore) Take(ctx context.Context, deviceID string) (string, bool, error) {
	return d.kv.TakeOnce(ctx, deviceKey(deviceID))
}

// Claim marks token id as consumed. It reports false if it already was.
// The marker outlives any token carrying that id.
func (d *DeviceStore) Claim(ctx context.Context, id string) (bool, error) {
	return d.kv.ClaimOnce(ctx, "pending_role:jti:"+id, 48*time.Hour)
}
