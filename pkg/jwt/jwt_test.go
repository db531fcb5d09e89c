package jwt

import (
	"errors"
	"testing"
	"time"
)

const secret = "test-secret-test-secret-test-secret"

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestManager_GenerateValidate(t *testing.T) {
	m, err := NewManager(secret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, issued, err := m.Generate("user-1", "a@x.com", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issued.ID == "" {
		t.Error("expected jti to be set")
	}

	claims, err := m.Validate(raw, PurposeSession)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@x.com" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, expected user-1", claims.Subject)
	}
}

func TestManager_WrongPurpose(t *testing.T) {
	m, _ := NewManager(secret)
	raw, _, _ := m.Sign(PurposePendingRole, Claims{Role: "car-owner"}, time.Minute)

	_, err := m.Validate(raw, PurposeSession)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestManager_Expired(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m, _ := NewManager(secret)
	m.WithClock(fixedClock(start))
	raw, _, _ := m.Generate("user-1", "a@x.com", time.Minute)

	m.WithClock(fixedClock(start.Add(2 * time.Minute)))
	if _, err := m.Validate(raw, PurposeSession); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestManager_OtherSecret(t *testing.T) {
	m1, _ := NewManager(secret)
	m2, _ := NewManager("another-secret-another-secret-xx")
	raw, _, _ := m1.Generate("user-1", "a@x.com", time.Hour)

	if _, err := m2.Validate(raw, PurposeSession); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestManager_Garbage(t *testing.T) {
	m, _ := NewManager(secret)
	if _, err := m.Validate("not-a-token", PurposeSession); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewManager_EmptySecret(t *testing.T) {
	if _, err := NewManager(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestManager_Remaining(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	m, _ := NewManager(secret)
	m.WithClock(fixedClock(start))
	_, c, _ := m.Generate("u", "e@x.com", time.Hour)

	m.WithClock(fixedClock(start.Add(15 * time.Minute)))
	if got := m.Remaining(c); got != 45*time.Minute {
		t.Errorf("Remaining = %v, expected 45m", got)
	}
}
