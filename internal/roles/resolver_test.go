package roles

import (
	"context"
	"errors"
	"testing"
)

// fakeStore implements Store in memory.
type fakeStore struct {
	roles map[string][]Role
	err   error

	inserted []Role
	deleted  []Role
}

func (f *fakeStore) List(_ context.Context, userID string) ([]Role, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.roles[userID], nil
}

func (f *fakeStore) Exists(_ context.Context, userID string, role Role) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, r := range f.roles[userID] {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Insert(_ context.Context, _ string, role Role) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, role)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, _ string, role Role) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, role)
	return nil
}

func permutations(in []Role) [][]Role {
	if len(in) <= 1 {
		return [][]Role{append([]Role(nil), in...)}
	}
	var out [][]Role
	for i := range in {
		rest := make([]Role, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]Role{in[i]}, p...))
		}
	}
	return out
}

func TestPrimaryOf_PriorityStableUnderReordering(t *testing.T) {
	cases := []struct {
		set  []Role
		want Role
	}{
		{nil, Customer},
		{[]Role{Customer}, Customer},
		{[]Role{CarOwner}, CarOwner},
		{[]Role{Admin}, Admin},
		{[]Role{Customer, CarOwner}, CarOwner},
		{[]Role{Customer, Admin}, Admin},
		{[]Role{CarOwner, Admin}, Admin},
		{[]Role{Customer, CarOwner, Admin}, Admin},
		{[]Role{Customer, Customer}, Customer},
	}
	for _, tc := range cases {
		for _, p := range permutations(tc.set) {
			if got := PrimaryOf(p); got != tc.want {
				t.Errorf("PrimaryOf(%v) = %q, expected %q", p, got, tc.want)
			}
		}
	}
}

func TestResolver_PrimaryRole(t *testing.T) {
	store := &fakeStore{roles: map[string][]Role{
		"u-admin": {Customer, Admin},
		"u-owner": {CarOwner},
	}}
	r := NewResolver(store, nil)
	ctx := context.Background()

	if got := r.PrimaryRole(ctx, "u-admin"); got != Admin {
		t.Errorf("PrimaryRole(u-admin) = %q, expected admin", got)
	}
	if got := r.PrimaryRole(ctx, "u-owner"); got != CarOwner {
		t.Errorf("PrimaryRole(u-owner) = %q, expected car-owner", got)
	}
	if got := r.PrimaryRole(ctx, "u-none"); got != Customer {
		t.Errorf("PrimaryRole(u-none) = %q, expected customer", got)
	}
}

func TestResolver_FailsClosed(t *testing.T) {
	store := &fakeStore{
		roles: map[string][]Role{"u": {Admin}},
		err:   errors.New("connection refused"),
	}
	r := NewResolver(store, nil)
	ctx := context.Background()

	if got := r.ListRoles(ctx, "u"); len(got) != 0 {
		t.Errorf("ListRoles on error = %v, expected empty", got)
	}
	if r.HasRole(ctx, "u", Admin) {
		t.Error("HasRole on error should be false")
	}
	if got := r.PrimaryRole(ctx, "u"); got != Customer {
		t.Errorf("PrimaryRole on error = %q, expected customer", got)
	}
	if err := r.Grant(ctx, "u", CarOwner); !errors.Is(err, ErrStore) {
		t.Errorf("Grant on error = %v, expected ErrStore", err)
	}
	if err := r.Revoke(ctx, "u", CarOwner); !errors.Is(err, ErrStore) {
		t.Errorf("Revoke on error = %v, expected ErrStore", err)
	}
}

func TestResolver_GrantRevoke(t *testing.T) {
	store := &fakeStore{}
	r := NewResolver(store, nil)
	ctx := context.Background()

	if err := r.Grant(ctx, "u", CarOwner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Revoke(ctx, "u", Customer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.inserted) != 1 || store.inserted[0] != CarOwner {
		t.Errorf("inserted = %v", store.inserted)
	}
	if len(store.deleted) != 1 || store.deleted[0] != Customer {
		t.Errorf("deleted = %v", store.deleted)
	}
}

func TestParse(t *testing.T) {
	for in, want := range map[string]Role{"customer": Customer, "user": Customer, "car-owner": CarOwner, "admin": Admin} {
		got, err := Parse(in)
		if err != nil || got != want {
			t.Errorf("Parse(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := Parse("root"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestRole_SelfServeAndDisplayName(t *testing.T) {
	if Admin.SelfServe() {
		t.Error("admin must not be self serve")
	}
	if !Customer.SelfServe() || !CarOwner.SelfServe() {
		t.Error("customer and car-owner are self serve")
	}
	if Admin.DisplayName() != "Admin" || CarOwner.DisplayName() != "Car Owner" || Customer.DisplayName() != "Customer" {
		t.Error("unexpected display names")
	}
}
