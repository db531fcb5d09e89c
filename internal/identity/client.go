package identity

import (
	"context"
	"sort"
	"sync"
)

// Backend is the shared identity service behind every Client.
type Backend interface {
	Authenticate(ctx context.Context, email, password string) (*User, error)
	Register(ctx context.Context, req SignUpRequest) (*User, error)
	AuthorizeURL(req OAuthRequest) (string, error)
	ExchangeCode(ctx context.Context, code string) (*User, error)
	SendOtp(ctx context.Context, contact string) error
	VerifyOtp(ctx context.Context, contact, code string) (*User, error)
	SendRecovery(ctx context.Context, email, redirectURL string) error
	UpdateMetadata(ctx context.Context, userID string, metadata map[string]string) (*User, error)

	IssueSession(ctx context.Context, u *User) (*Session, error)
	RefreshSession(ctx context.Context, s *Session) (*Session, error)
	ResolveSession(ctx context.Context, accessToken string) (*Session, error)
	RevokeSession(ctx context.Context, s *Session) error
}

// Client implements Provider for one application instance. It owns that
// instance's session and its auth state listeners.
type Client struct {
	backend Backend

	mu        sync.Mutex
	session   *Session
	nextID    int
	listeners map[int]func(AuthEvent)
}

// NewClient creates a client with no session.
func NewClient(b Backend) *Client {
	return &Client{backend: b, listeners: make(map[int]func(AuthEvent))}
}

// Restore adopts a previously issued access token without emitting an
// event. An invalid token leaves the client signed out.
func (c *Client) Restore(ctx context.Context, accessToken string) error {
	s, err := c.backend.ResolveSession(ctx, accessToken)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	u, err := c.backend.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, u)
}

func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (*User, error) {
	return c.backend.Register(ctx, req)
}

func (c *Client) SignInWithOAuth(_ context.Context, req OAuthRequest) (string, error) {
	return c.backend.AuthorizeURL(req)
}

func (c *Client) SignInWithOtp(ctx context.Context, contact string) error {
	return c.backend.SendOtp(ctx, contact)
}

func (c *Client) VerifyOtp(ctx context.Context, contact, code string) (*Session, error) {
	u, err := c.backend.VerifyOtp(ctx, contact, code)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, u)
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error {
	return c.backend.SendRecovery(ctx, email, redirectURL)
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*Session, error) {
	u, err := c.backend.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return c.establish(ctx, u)
}

func (c *Client) UpdateUser(ctx context.Context, metadata map[string]string) (*User, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, ErrNoSession
	}

	u, err := c.backend.UpdateMetadata(ctx, s.User.ID, metadata)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.session == nil || c.session.TokenID != s.TokenID {
		// Signed out or replaced while the update was in flight.
		c.mu.Unlock()
		return u, nil
	}
	next := *c.session
	next.User = *u
	c.session = &next
	c.mu.Unlock()

	c.emit(AuthEvent{Type: UserUpdated, Session: &next})
	return u, nil
}

func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, ErrNoSession
	}

	next, err := c.backend.RefreshSession(ctx, s)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.session == nil || c.session.TokenID != s.TokenID {
		c.mu.Unlock()
		c.backend.RevokeSession(ctx, next)
		return nil, ErrNoSession
	}
	c.session = next
	c.mu.Unlock()

	c.emit(AuthEvent{Type: TokenRefreshed, Session: next})
	return next, nil
}

// SignOut revokes the session and always leaves the client signed out.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	err := c.backend.RevokeSession(ctx, s)
	c.emit(AuthEvent{Type: SignedOut})
	return err
}

func (c *Client) OnAuthStateChange(fn func(AuthEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, nil
	}

	// Catches expiry and revocation by another instance.
	if _, err := c.backend.ResolveSession(ctx, s.AccessToken); err != nil {
		c.mu.Lock()
		if c.session != nil && c.session.TokenID == s.TokenID {
			c.session = nil
		}
		c.mu.Unlock()
		return nil, nil
	}
	return s, nil
}

// establish replaces the current session with a new one for u.
func (c *Client) establish(ctx context.Context, u *User) (*Session, error) {
	s, err := c.backend.IssueSession(ctx, u)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	prev := c.session
	c.session = s
	c.mu.Unlock()

	if prev != nil {
		c.backend.RevokeSession(ctx, prev)
	}
	c.emit(AuthEvent{Type: SignedIn, Session: s})
	return s, nil
}

// emit calls listeners in registration order, outside the lock, so a
// listener may call back into the client.
func (c *Client) emit(ev AuthEvent) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(AuthEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
