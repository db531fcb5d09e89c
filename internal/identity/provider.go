package identity

import "context"

// Provider is the identity provider as seen by one application instance.
// Sign-in methods establish the instance's session and notify
// OnAuthStateChange listeners.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, req SignUpRequest) (*User, error)
	// SignInWithOAuth returns the URL the browser must navigate to.
	SignInWithOAuth(ctx context.Context, req OAuthRequest) (string, error)
	SignInWithOtp(ctx context.Context, contact string) error
	VerifyOtp(ctx context.Context, contact, code string) (*Session, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error
	// ExchangeCode redeems the code an OAuth redirect returned with.
	ExchangeCode(ctx context.Context, code string) (*Session, error)
	UpdateUser(ctx context.Context, metadata map[string]string) (*User, error)
	RefreshSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
	// OnAuthStateChange registers fn and returns its unsubscribe function.
	OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func())
	CurrentSession(ctx context.Context) (*Session, error)
}
