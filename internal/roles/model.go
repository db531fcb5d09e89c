package roles

import "fmt"

// Role is an account type.
type Role string

const (
	Customer Role = "customer"
	CarOwner Role = "car-owner"
	Admin    Role = "admin"
)

// Parse accepts the stored role names. "user" is the legacy name for customer.
func Parse(s string) (Role, error) {
	switch s {
	case string(Customer), "user":
		return Customer, nil
	case string(CarOwner):
		return CarOwner, nil
	case string(Admin):
		return Admin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// SelfServe reports whether r may be granted without an admin.
func (r Role) SelfServe() bool {
	return r == Customer || r == CarOwner
}

// DisplayName is the human readable account type.
func (r Role) DisplayName() string {
	switch r {
	case Admin:
		return "Admin"
	case CarOwner:
		return "Car Owner"
	default:
		return "Customer"
	}
}

// PrimaryOf picks the highest priority role: admin > car-owner > customer.
// An empty set yields customer.
func PrimaryOf(set []Role) Role {
	var owner bool
	for _, r := range set {
		switch r {
		case Admin:
			return Admin
		case CarOwner:
			owner = true
		}
	}
	if owner {
		return CarOwner
	}
	return Customer
}
