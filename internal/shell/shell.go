package shell

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/auth"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/booking"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/cars"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/dashboard"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/events"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/session"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/validation"
)

var (
	ErrNoShell   = errors.New("shell not found")
	ErrNoFlow    = errors.New("auth flow not found")
	ErrNoWizard  = errors.New("booking wizard not found")
	ErrForbidden = errors.New("You don't have permission to do that")
)

// RoleService is what shells need from the role resolver.
type RoleService interface {
	PrimaryRole(ctx context.Context, userID string) roles.Role
	HasRole(ctx context.Context, userID string, role roles.Role) bool
	Grant(ctx context.Context, userID string, role roles.Role) error
	Revoke(ctx context.Context, userID string, role roles.Role) error
}

// Deps are shared by every shell.
type Deps struct {
	Identity    identity.Backend
	Roles       RoleService
	Quota       auth.QuotaGuard
	Tokens      *auth.Tokens
	Device      *auth.DeviceStore
	Cars        *cars.Service
	Bookings    booking.Store
	Payments    booking.PaymentLinker
	Dashboard   *dashboard.Service
	Events      events.Publisher
	Cooldown    time.Duration
	RedirectURL string
}

// MountRequest describes a freshly loaded application.
type MountRequest struct {
	DeviceID    string `json:"device_id"`
	AccessToken string `json:"access_token,omitempty"`
	// ReturnURL is the page URL, which carries code and state after an
	// OAuth redirect.
	ReturnURL string `json:"return_url,omitempty"`
}

// Shell is one mounted application instance. It owns an identity client,
// the session observer over it and every modal opened in it.
type Shell struct {
	ID       string
	DeviceID string

	deps     *Deps
	client   *identity.Client
	observer *session.Observer
	consumer *auth.Consumer
	detach   func()
	log      *logrus.Entry

	mu       sync.Mutex
	flows    map[string]*auth.Flow
	wizards  map[string]*booking.Wizard
	lastSeen time.Time
	closed   bool
}

func newShell(d *Deps, deviceID string) *Shell {
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	client := identity.NewClient(d.Identity)
	s := &Shell{
		ID:       uuid.New().String(),
		DeviceID: deviceID,
		deps:     d,
		client:   client,
		observer: session.NewObserver(client),
		consumer: auth.NewConsumer(client, d.Tokens, d.Device, d.Roles, deviceID),
		flows:    make(map[string]*auth.Flow),
		wizards:  make(map[string]*booking.Wizard),
		lastSeen: time.Now(),
	}
	s.log = logs.For("shell").WithField("shell_id", s.ID)
	return s
}

// mount runs the startup sequence: subscribe, restore, reconcile, then
// finish an OAuth return if the page URL carries one.
func (s *Shell) mount(ctx context.Context, req MountRequest) {
	s.detach = s.consumer.Attach()

	if req.AccessToken != "" {
		if err := s.client.Restore(ctx, req.AccessToken); err != nil {
			s.log.WithError(err).Debug("stored session not restored")
		}
	}
	if err := s.observer.Start(ctx); err != nil {
		s.log.WithError(err).Warn("session observer start")
	}

	code, state := oauthReturn(req.ReturnURL)
	if code == "" {
		return
	}
	s.consumer.SetReturnState(state)
	if _, err := s.client.ExchangeCode(ctx, code); err != nil {
		s.consumer.SetReturnState("")
		s.log.WithError(err).Warn("oauth code exchange failed")
	}
}

func oauthReturn(raw string) (code, state string) {
	if raw == "" {
		return "", ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	q := u.Query()
	return q.Get("code"), q.Get("state")
}

func (s *Shell) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Shell) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// close unsubscribes everything and dismisses every open modal.
func (s *Shell) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	flows, wizards := s.flows, s.wizards
	s.flows, s.wizards = map[string]*auth.Flow{}, map[string]*booking.Wizard{}
	s.mu.Unlock()

	for _, f := range flows {
		f.Close()
	}
	for _, w := range wizards {
		w.Close()
	}
	s.observer.Stop()
	if s.detach != nil {
		s.detach()
	}
}

// CurrentUser is the observer's view of who is signed in.
func (s *Shell) CurrentUser() *identity.User {
	return s.observer.Current()
}

// Watch reports current user changes until cancel.
func (s *Shell) Watch(fn func(*identity.User)) (cancel func()) {
	return s.observer.Watch(fn)
}

// Me is the header view of the current user.
type Me struct {
	User        *identity.User `json:"user"`
	Role        roles.Role     `json:"role,omitempty"`
	AccessToken string         `json:"access_token,omitempty"`
}

func (s *Shell) Me(ctx context.Context) Me {
	u := s.CurrentUser()
	if u == nil {
		return Me{}
	}
	me := Me{User: u, Role: s.deps.Roles.PrimaryRole(ctx, u.ID)}
	if sess, _ := s.client.CurrentSession(ctx); sess != nil {
		me.AccessToken = sess.AccessToken
	}
	return me
}

func (s *Shell) SignOut(ctx context.Context) error {
	return s.client.SignOut(ctx)
}

func (s *Shell) Refresh(ctx context.Context) error {
	_, err := s.client.RefreshSession(ctx)
	return err
}

// OpenAuth opens a new auth modal on tab. The modal is dropped from the
// shell once it resolves.
func (s *Shell) OpenAuth(tab auth.State) *auth.Flow {
	var f *auth.Flow
	f = auth.NewFlow(auth.Deps{
		Provider:    s.client,
		Roles:       s.deps.Roles,
		Quota:       s.deps.Quota,
		Tokens:      s.deps.Tokens,
		Device:      s.deps.Device,
		DeviceID:    s.DeviceID,
		RedirectURL: s.deps.RedirectURL,
		Cooldown:    s.deps.Cooldown,
	}, tab, func(*identity.Session) { s.CloseAuth(f.ID()) })

	s.mu.Lock()
	s.flows[f.ID()] = f
	s.mu.Unlock()
	return f
}

func (s *Shell) Auth(id string) (*auth.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, ErrNoFlow
	}
	return f, nil
}

func (s *Shell) CloseAuth(id string) {
	s.mu.Lock()
	f, ok := s.flows[id]
	delete(s.flows, id)
	s.mu.Unlock()
	if ok {
		f.Close()
	}
}

// OpenBooking opens a booking wizard for carID.
func (s *Shell) OpenBooking(ctx context.Context, carID string) (*booking.Wizard, error) {
	car, err := s.deps.Cars.Get(ctx, carID)
	if err != nil {
		return nil, err
	}
	if !car.Available {
		return nil, cars.ErrUnavailable
	}
	w := booking.NewWizard(*car, booking.Deps{
		Store:    s.deps.Bookings,
		Identity: s.observer,
		Payments: s.deps.Payments,
		Events:   s.deps.Events,
	})
	s.mu.Lock()
	s.wizards[w.ID()] = w
	s.mu.Unlock()
	return w, nil
}

func (s *Shell) Booking(id string) (*booking.Wizard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wizards[id]
	if !ok {
		return nil, ErrNoWizard
	}
	return w, nil
}

func (s *Shell) CloseBooking(id string) {
	s.mu.Lock()
	w, ok := s.wizards[id]
	delete(s.wizards, id)
	s.mu.Unlock()
	if ok {
		w.Close()
	}
}

// Viewer is the current user as the cars privacy rule sees them.
func (s *Shell) Viewer(ctx context.Context) cars.Viewer {
	u := s.CurrentUser()
	if u == nil {
		return cars.Viewer{}
	}
	return cars.Viewer{UserID: u.ID, Role: s.deps.Roles.PrimaryRole(ctx, u.ID)}
}

// RequireAdmin returns the current user if their primary role is admin.
func (s *Shell) RequireAdmin(ctx context.Context) (*identity.User, error) {
	u := s.CurrentUser()
	if u == nil {
		return nil, identity.ErrNoSession
	}
	if s.deps.Roles.PrimaryRole(ctx, u.ID) != roles.Admin {
		return nil, ErrForbidden
	}
	return u, nil
}

// RequireOwner returns the current user if they may manage a fleet.
func (s *Shell) RequireOwner(ctx context.Context) (*identity.User, error) {
	u := s.CurrentUser()
	if u == nil {
		return nil, identity.ErrNoSession
	}
	switch s.deps.Roles.PrimaryRole(ctx, u.ID) {
	case roles.CarOwner, roles.Admin:
		return u, nil
	}
	return nil, ErrForbidden
}

// UpdateProfile renames the current user. Other metadata is kept.
func (s *Shell) UpdateProfile(ctx context.Context, fullName string) (*identity.User, error) {
	u := s.CurrentUser()
	if u == nil {
		return nil, identity.ErrNoSession
	}
	name := strings.TrimSpace(fullName)
	if !validation.ValidateName(name) {
		return nil, &auth.ValidationError{Msg: "Please enter your full name"}
	}
	md := make(map[string]string, len(u.Metadata)+1)
	for k, v := range u.Metadata {
		md[k] = v
	}
	md["full_name"] = name
	return s.client.UpdateUser(ctx, md)
}
