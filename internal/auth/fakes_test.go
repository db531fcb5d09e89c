package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/jwt"
)

const testSecret = "auth-test-secret-auth-test-secret"

// fakeProvider is an in-memory identity.Provider that records calls.
type fakeProvider struct {
	mu        sync.Mutex
	user      identity.User
	session   *identity.Session
	listeners map[int]func(identity.AuthEvent)
	next      int

	signInErr error
	block     chan struct{}

	signIns  int
	signOuts int
	otpSends int
	resets   int
	signUps  []identity.SignUpRequest
	oauth    []identity.OAuthRequest
	updates  []map[string]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		user:      identity.User{ID: "u-1", Email: "a@x.com", Metadata: map[string]string{}},
		listeners: map[int]func(identity.AuthEvent){},
	}
}

func (p *fakeProvider) emit(ev identity.AuthEvent) {
	p.mu.Lock()
	fns := make([]func(identity.AuthEvent), 0, len(p.listeners))
	for i := 0; i < p.next; i++ {
		if fn, ok := p.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *fakeProvider) signIn() *identity.Session {
	p.mu.Lock()
	s := &identity.Session{AccessToken: "tok", TokenID: "tok", ExpiresAt: time.Now().Add(time.Hour), User: p.user}
	p.session = s
	p.mu.Unlock()
	p.emit(identity.AuthEvent{Type: identity.SignedIn, Session: s})
	return s
}

func (p *fakeProvider) hasSession() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

func (p *fakeProvider) SignInWithPassword(context.Context, string, string) (*identity.Session, error) {
	p.mu.Lock()
	p.signIns++
	block, err := p.block, p.signInErr
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return p.signIn(), nil
}

func (p *fakeProvider) SignUp(_ context.Context, req identity.SignUpRequest) (*identity.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signUps = append(p.signUps, req)
	return &identity.User{ID: "u-new", Email: req.Email, Metadata: req.Metadata}, nil
}

func (p *fakeProvider) SignInWithOAuth(_ context.Context, req identity.OAuthRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oauth = append(p.oauth, req)
	return "https://idp.test/authorize?state=" + req.State, nil
}

func (p *fakeProvider) SignInWithOtp(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.otpSends++
	return nil
}

func (p *fakeProvider) VerifyOtp(_ context.Context, _, code string) (*identity.Session, error) {
	if code != "123456" {
		return nil, identity.ErrOtpInvalid
	}
	return p.signIn(), nil
}

func (p *fakeProvider) ResetPasswordForEmail(context.Context, string, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	return nil
}

func (p *fakeProvider) ExchangeCode(context.Context, string) (*identity.Session, error) {
	return p.signIn(), nil
}

func (p *fakeProvider) UpdateUser(_ context.Context, md map[string]string) (*identity.User, error) {
	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return nil, identity.ErrNoSession
	}
	p.updates = append(p.updates, md)
	p.user.Metadata = md
	p.session.User = p.user
	s := *p.session
	u := p.user
	p.mu.Unlock()
	p.emit(identity.AuthEvent{Type: identity.UserUpdated, Session: &s})
	return &u, nil
}

func (p *fakeProvider) RefreshSession(context.Context) (*identity.Session, error) {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()
	if s == nil {
		return nil, identity.ErrNoSession
	}
	p.emit(identity.AuthEvent{Type: identity.TokenRefreshed, Session: s})
	return s, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOuts++
	had := p.session != nil
	p.session = nil
	p.mu.Unlock()
	if had {
		p.emit(identity.AuthEvent{Type: identity.SignedOut})
	}
	return nil
}

func (p *fakeProvider) OnAuthStateChange(fn func(identity.AuthEvent)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) CurrentSession(context.Context) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, nil
}

// memKV implements KeyValue.
type memKV struct {
	mu      sync.Mutex
	vals    map[string]string
	claimed map[string]bool
	err     error
}

func newMemKV() *memKV {
	return &memKV{vals: map[string]string{}, claimed: map[string]bool{}}
}

func (m *memKV) PutOnce(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.vals[key] = value
	return nil
}

func (m *memKV) TakeOnce(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.vals[key]
	delete(m.vals, key)
	return v, ok, nil
}

func (m *memKV) ClaimOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

// fakeRoles is both RoleResolver and Granter.
type fakeRoles struct {
	mu      sync.Mutex
	primary roles.Role
	grants  []roles.Role
}

func (r *fakeRoles) PrimaryRole(context.Context, string) roles.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.primary == "" {
		return roles.Customer
	}
	return r.primary
}

func (r *fakeRoles) Grant(_ context.Context, _ string, role roles.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants = append(r.grants, role)
	return nil
}

func (r *fakeRoles) granted() []roles.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]roles.Role(nil), r.grants...)
}

// fakeQuota allows limit sends per contact and counts checks.
type fakeQuota struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
	err    error
}

func newFakeQuota(limit int) *fakeQuota {
	return &fakeQuota{limit: limit, counts: map[string]int{}}
}

func (q *fakeQuota) CheckAndIncrement(_ context.Context, contact string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	if q.counts[contact] >= q.limit {
		return false, nil
	}
	q.counts[contact]++
	return true, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTokens() *Tokens {
	m, _ := jwt.NewManager(testSecret)
	return NewTokens(m, 15*time.Minute)
}

var errBoom = errors.New("boom")
