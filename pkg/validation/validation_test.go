package validation

import "testing"

func TestPasswordProblem(t *testing.T) {
	cases := []struct {
		password string
		want     string
	}{
		{"Ab1", "Password must be at least 8 characters"},
		{"abcdefg1", "Password must contain at least one uppercase letter"},
		{"ABCDEFG1", "Password must contain at least one lowercase letter"},
		{"Abcdefgh", "Password must contain at least one number"},
		{"Abcdefg1", ""},
	}
	for _, tc := range cases {
		if got := PasswordProblem(tc.password); got != tc.want {
			t.Errorf("PasswordProblem(%q) = %q, expected %q", tc.password, got, tc.want)
		}
	}
}

func TestValidateOTP(t *testing.T) {
	for _, code := range []string{"123456", "000000"} {
		if !ValidateOTP(code) {
			t.Errorf("expected %q to be accepted", code)
		}
	}
	for _, code := range []string{"", "12345", "1234567", "12a456", " 123456"} {
		if ValidateOTP(code) {
			t.Errorf("expected %q to be rejected", code)
		}
	}
}

func TestValidatePhone(t *testing.T) {
	if !ValidatePhone("9876543210") {
		t.Error("10 digit phone should be valid")
	}
	if !ValidatePhone("+91 (987) 6543") {
		t.Error("punctuated phone should be valid")
	}
	if ValidatePhone("98765") {
		t.Error("short phone should be rejected")
	}
	if ValidatePhone("98765432101234567") {
		t.Error("long phone should be rejected")
	}
	if ValidatePhone("98765abc10") {
		t.Error("letters should be rejected")
	}
}

func TestValidateContact(t *testing.T) {
	if !ValidateContact("a@x.com") {
		t.Error("email contact should be valid")
	}
	if !ValidateContact("+919876543210") {
		t.Error("E.164 contact should be valid")
	}
	if ValidateContact("hello") {
		t.Error("garbage contact should be rejected")
	}
}

func TestNormalizeContact(t *testing.T) {
	tests := []struct{ in, want string }{
		{"A@X.com", "a@x.com"},
		{"  a@X.COM ", "a@x.com"},
		{" +919876543210 ", "+919876543210"},
	}
	for _, tt := range tests {
		if got := NormalizeContact(tt.in); got != tt.want {
			t.Errorf("NormalizeContact(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}
