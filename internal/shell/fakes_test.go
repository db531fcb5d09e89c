package shell

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/auth"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/booking"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/cars"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/dashboard"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/jwt"
)

const testSecret = "shell-test-secret-shell-test-secret"

// fakeBackend implements identity.Backend with one known user.
type fakeBackend struct {
	mu      sync.Mutex
	user    identity.User
	issued  int
	revoked map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		user:    identity.User{ID: "u-1", Email: "a@x.com", FullName: "Ada"},
		revoked: map[string]bool{},
	}
}

func (f *fakeBackend) Authenticate(_ context.Context, email, password string) (*identity.User, error) {
	if email != f.user.Email || password != "Secret123" {
		return nil, identity.ErrInvalidCredentials
	}
	u := f.user
	return &u, nil
}

func (f *fakeBackend) Register(_ context.Context, req identity.SignUpRequest) (*identity.User, error) {
	return &identity.User{ID: "u-new", Email: req.Email, Metadata: req.Metadata}, nil
}

func (f *fakeBackend) AuthorizeURL(req identity.OAuthRequest) (string, error) {
	return "https://idp.test/authorize?state=" + req.State, nil
}

func (f *fakeBackend) ExchangeCode(_ context.Context, code string) (*identity.User, error) {
	if code != "good" {
		return nil, identity.ErrOtpInvalid
	}
	u := f.user
	return &u, nil
}

func (f *fakeBackend) SendOtp(context.Context, string) error { return nil }

func (f *fakeBackend) VerifyOtp(_ context.Context, _, code string) (*identity.User, error) {
	if code != "123456" {
		return nil, identity.ErrOtpInvalid
	}
	u := f.user
	return &u, nil
}

func (f *fakeBackend) SendRecovery(context.Context, string, string) error { return nil }

func (f *fakeBackend) UpdateMetadata(_ context.Context, userID string, md map[string]string) (*identity.User, error) {
	u := f.user
	u.ID, u.Metadata = userID, md
	return &u, nil
}

func (f *fakeBackend) IssueSession(_ context.Context, u *identity.User) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	id := fmt.Sprintf("tok-%d", f.issued)
	return &identity.Session{AccessToken: id, TokenID: id, ExpiresAt: time.Now().Add(time.Hour), User: *u}, nil
}

func (f *fakeBackend) RefreshSession(ctx context.Context, s *identity.Session) (*identity.Session, error) {
	f.mu.Lock()
	f.revoked[s.TokenID] = true
	f.mu.Unlock()
	return f.IssueSession(ctx, &s.User)
}

func (f *fakeBackend) ResolveSession(_ context.Context, token string) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == "" || f.revoked[token] {
		return nil, identity.ErrNoSession
	}
	return &identity.Session{AccessToken: token, TokenID: token, User: f.user}, nil
}

func (f *fakeBackend) RevokeSession(_ context.Context, s *identity.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[s.TokenID] = true
	return nil
}

// memKV implements auth.KeyValue.
type memKV struct {
	mu      sync.Mutex
	vals    map[string]string
	claimed map[string]bool
}

func newMemKV() *memKV {
	return &memKV{vals: map[string]string{}, claimed: map[string]bool{}}
}

func (m *memKV) PutOnce(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *memKV) TakeOnce(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	delete(m.vals, key)
	return v, ok, nil
}

func (m *memKV) ClaimOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

// fakeRoles implements RoleService over an in-memory role set.
type fakeRoles struct {
	mu  sync.Mutex
	set map[string][]roles.Role
}

func newFakeRoles() *fakeRoles { return &fakeRoles{set: map[string][]roles.Role{}} }

func (f *fakeRoles) PrimaryRole(_ context.Context, userID string) roles.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return roles.PrimaryOf(f.set[userID])
}

func (f *fakeRoles) HasRole(_ context.Context, userID string, role roles.Role) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.set[userID] {
		if r == role {
			return true
		}
	}
	return false
}

func (f *fakeRoles) Grant(ctx context.Context, userID string, role roles.Role) error {
	if f.HasRole(ctx, userID, role) {
		return nil
	}
	f.mu.Lock()
	f.set[userID] = append(f.set[userID], role)
	f.mu.Unlock()
	return nil
}

func (f *fakeRoles) Revoke(_ context.Context, userID string, role roles.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.set[userID][:0]
	for _, r := range f.set[userID] {
		if r != role {
			kept = append(kept, r)
		}
	}
	f.set[userID] = kept
	return nil
}

type openQuota struct{}

func (openQuota) CheckAndIncrement(context.Context, string) (bool, error) { return true, nil }

// fakeCars implements cars.Store over an in-memory fleet.
type fakeCars struct {
	mu   sync.Mutex
	cars map[string]cars.Car
	seq  int
}

func newFakeCars(list ...cars.Car) *fakeCars {
	f := &fakeCars{cars: map[string]cars.Car{}}
	for _, c := range list {
		f.cars[c.ID] = c
	}
	return f
}

func (f *fakeCars) Get(_ context.Context, id string) (*cars.Car, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cars[id]
	if !ok {
		return nil, cars.ErrNotFound
	}
	return &c, nil
}

func (f *fakeCars) ListPublic(_ context.Context, filter cars.Filter) ([]cars.Car, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := []cars.Car{}
	for _, c := range f.cars {
		if filter.Available == nil || *filter.Available == c.Available {
			list = append(list, c)
		}
	}
	return list, nil
}

func (f *fakeCars) OwnerContact(context.Context, string) (*cars.OwnerContact, error) {
	return &cars.OwnerContact{Name: "Olu", Phone: "9876543210", Email: "olu@x.com"}, nil
}

func (f *fakeCars) HasBooking(context.Context, string, string) (bool, error) { return false, nil }

func (f *fakeCars) Create(_ context.Context, ownerID string, l cars.Listing) (*cars.Car, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	c := cars.Car{ID: fmt.Sprintf("new-%d", f.seq), OwnerID: ownerID, Name: l.Name, PricePerDay: l.PricePerDay, Available: true}
	f.cars[c.ID] = c
	return &c, nil
}

func (f *fakeCars) owned(ownerID, carID string) (cars.Car, error) {
	c, ok := f.cars[carID]
	if !ok || c.OwnerID != ownerID {
		return cars.Car{}, cars.ErrNotFound
	}
	return c, nil
}

func (f *fakeCars) Update(_ context.Context, ownerID, carID string, l cars.Listing) (*cars.Car, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.owned(ownerID, carID)
	if err != nil {
		return nil, err
	}
	c.Name, c.PricePerDay = l.Name, l.PricePerDay
	f.cars[carID] = c
	return &c, nil
}

func (f *fakeCars) SetAvailable(_ context.Context, ownerID, carID string, available bool) (*cars.Car, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, err := f.owned(ownerID, carID)
	if err != nil {
		return nil, err
	}
	c.Available = available
	f.cars[carID] = c
	return &c, nil
}

func (f *fakeCars) ListByOwner(_ context.Context, ownerID string) ([]cars.FleetCar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := []cars.FleetCar{}
	for _, c := range f.cars {
		if c.OwnerID == ownerID {
			list = append(list, cars.FleetCar{Car: c})
		}
	}
	return list, nil
}

// fakeDashboard implements dashboard.Store and records the scopes it saw.
type fakeDashboard struct {
	mu     sync.Mutex
	scopes []dashboard.Scope
}

func (f *fakeDashboard) record(sc dashboard.Scope) {
	f.mu.Lock()
	f.scopes = append(f.scopes, sc)
	f.mu.Unlock()
}

func (f *fakeDashboard) Bookings(_ context.Context, sc dashboard.Scope) ([]dashboard.Booking, error) {
	f.record(sc)
	return []dashboard.Booking{}, nil
}

func (f *fakeDashboard) Recent(context.Context, dashboard.Scope, int) ([]dashboard.Booking, error) {
	return []dashboard.Booking{}, nil
}

func (f *fakeDashboard) CountCars(context.Context, string) (int, error) { return 0, nil }

func (f *fakeDashboard) CountUsers(context.Context) (int, error) { return 0, nil }

func (f *fakeDashboard) History(_ context.Context, sc dashboard.Scope) ([]dashboard.HistoryEntry, error) {
	f.record(sc)
	return []dashboard.HistoryEntry{{Booking: dashboard.Booking{ID: "b-1", CarName: "Swift"}}}, nil
}

// fakeBookings implements booking.Store, keyed by idempotency key.
type fakeBookings struct {
	mu    sync.Mutex
	byKey map[string]*booking.Reservation
}

func (f *fakeBookings) Create(_ context.Context, r booking.Reservation) (*booking.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byKey == nil {
		f.byKey = map[string]*booking.Reservation{}
	}
	if got, ok := f.byKey[r.IdempotencyKey]; ok {
		return got, nil
	}
	r.CreatedAt = time.Now()
	f.byKey[r.IdempotencyKey] = &r
	return &r, nil
}

type fixture struct {
	backend  *fakeBackend
	roles    *fakeRoles
	kv       *memKV
	tokens   *auth.Tokens
	bookings *fakeBookings
	cars     *fakeCars
	dash     *fakeDashboard
	mgr      *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := jwt.NewManager(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	fx := &fixture{
		backend:  newFakeBackend(),
		roles:    newFakeRoles(),
		kv:       newMemKV(),
		tokens:   auth.NewTokens(m, 15*time.Minute),
		bookings: &fakeBookings{},
		cars: newFakeCars(
			cars.Car{ID: "car-1", OwnerID: "o-1", Name: "Swift", PricePerDay: 2000, Available: true},
			cars.Car{ID: "car-off", OwnerID: "o-1", Name: "Nano", PricePerDay: 900, Available: false},
		),
		dash: &fakeDashboard{},
	}
	fx.roles.set["u-1"] = []roles.Role{roles.Customer}
	fx.mgr = NewManager(Deps{
		Identity:    fx.backend,
		Roles:       fx.roles,
		Quota:       openQuota{},
		Tokens:      fx.tokens,
		Device:      auth.NewDeviceStore(fx.kv, 15*time.Minute),
		Cars:        cars.NewService(fx.cars),
		Dashboard:   dashboard.NewService(fx.dash, fx.roles),
		Bookings:    fx.bookings,
		Payments:    booking.PaymentLinker{BaseURL: "https://pay.test/checkout", Currency: "INR"},
		Cooldown:    60 * time.Second,
		RedirectURL: "http://localhost:8080/",
	}, time.Minute)
	return fx
}
