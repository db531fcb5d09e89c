package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/events"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/jwt"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/kafka"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/validation"
)

const (
	otpTTL      = 10 * time.Minute
	authCodeTTL = 5 * time.Minute
	consentTTL  = 15 * time.Minute
	linkTTL     = 24 * time.Hour
)

// OAuthProviders lists the enabled OAuth providers.
var OAuthProviders = map[string]bool{"google": true}

var (
	ErrInvalidRedirect  = errors.New("invalid redirect_to")
	ErrInvalidLoginHint = errors.New("login_hint must be an email")
)

// Cache is the redis slice the service uses for one-shot codes and revocation.
type Cache interface {
	PutOnce(ctx context.Context, key, value string, ttl time.Duration) error
	TakeOnce(ctx context.Context, key string) (string, bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Service is the built-in identity provider backend.
type Service struct {
	db         *sql.DB
	tokens     *jwt.Manager
	cache      Cache
	events     events.Publisher
	publicURL  string
	sessionTTL time.Duration
	log        *logrus.Entry
}

// NewService wires the provider backend. publicURL is where the browser
// reaches the /auth/v1 endpoints.
func NewService(db *sql.DB, tokens *jwt.Manager, cache Cache, pub events.Publisher, publicURL string, sessionTTL time.Duration) *Service {
	return &Service{
		db:         db,
		tokens:     tokens,
		cache:      cache,
		events:     pub,
		publicURL:  strings.TrimRight(publicURL, "/"),
		sessionTTL: sessionTTL,
		log:        logs.For("identity"),
	}
}

const userColumns = `id, COALESCE(email,''), COALESCE(phone,''), full_name, metadata, confirmed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (*User, error) {
	var u User
	var md []byte
	dest := append([]any{&u.ID, &u.Email, &u.Phone, &u.FullName, &md, &u.ConfirmedAt, &u.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if len(md) > 0 {
		if err := json.Unmarshal(md, &u.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &u, nil
}

// Authenticate checks an email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	var hash sql.NullString
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE email = $1`,
		normalizeEmail(email)), &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !hash.Valid || bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if u.ConfirmedAt == nil {
		return nil, ErrEmailNotConfirmed
	}
	return u, nil
}

// Register creates an unconfirmed account and mails a confirmation link.
func (s *Service) Register(ctx context.Context, req SignUpRequest) (*User, error) {
	email := normalizeEmail(req.Email)
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	md, err := json.Marshal(nonNil(req.Metadata))
	if err != nil {
		return nil, err
	}

	u, err := scanUser(s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, full_name, password_hash, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+userColumns,
		uuid.New().String(), email, req.Metadata["full_name"], string(hash), md))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	token, _, err := s.tokens.Sign(jwt.PurposeConfirm, jwt.Claims{UserID: u.ID, Email: email}, linkTTL)
	if err != nil {
		return nil, err
	}
	s.mail(events.EmailConfirmSignup, email, s.link("/auth/v1/verify", token, req.RedirectURL))
	return u, nil
}

// Confirm marks the account behind a confirmation token as verified.
func (s *Service) Confirm(ctx context.Context, token string) error {
	c, err := s.tokens.Validate(token, jwt.PurposeConfirm)
	if err != nil {
		return ErrOtpInvalid
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET confirmed_at = COALESCE(confirmed_at, NOW()) WHERE id = $1`, c.UserID); err != nil {
		return fmt.Errorf("confirm user: %w", err)
	}
	return nil
}

// AuthorizeURL builds the provider authorize URL; state is echoed back untouched.
func (s *Service) AuthorizeURL(req OAuthRequest) (string, error) {
	if !OAuthProviders[req.Provider] {
		return "", ErrUnsupportedOAuth
	}
	q := url.Values{}
	q.Set("provider", req.Provider)
	q.Set("redirect_to", req.RedirectURL)
	q.Set("state", req.State)
	return s.publicURL + "/auth/v1/authorize?" + q.Encode(), nil
}

// ConsentRequest asks the built-in provider to vouch for Email.
type ConsentRequest struct {
	Provider    string
	Email       string
	RedirectURL string
	State       string
}

// RequestConsent mails a one-use consent link to req.Email. No code exists
// until the owner of that inbox follows the link.
func (s *Service) RequestConsent(ctx context.Context, req ConsentRequest) error {
	if !OAuthProviders[req.Provider] {
		return ErrUnsupportedOAuth
	}
	if err := s.checkRedirect(req.RedirectURL); err != nil {
		return err
	}
	email := normalizeEmail(req.Email)
	if !validation.ValidateEmail(email) {
		return ErrInvalidLoginHint
	}
	token, c, err := s.tokens.Sign(jwt.PurposeConsent,
		jwt.Claims{Email: email, Redirect: req.RedirectURL, State: req.State}, consentTTL)
	if err != nil {
		return err
	}
	if err := s.cache.PutOnce(ctx, "oauth:consent:"+c.ID, email, consentTTL); err != nil {
		return fmt.Errorf("store consent: %w", err)
	}
	s.mail(events.EmailOAuthConsent, email, s.link("/auth/v1/authorize/confirm", token, ""))
	return nil
}

// ConfirmConsent redeems a consent link and returns the redirect that
// carries the authorize code and the echoed state.
func (s *Service) ConfirmConsent(ctx context.Context, token string) (string, error) {
	c, err := s.tokens.Validate(token, jwt.PurposeConsent)
	if err != nil {
		return "", ErrOtpInvalid
	}
	email, ok, err := s.cache.TakeOnce(ctx, "oauth:consent:"+c.ID)
	if err != nil {
		return "", fmt.Errorf("take consent: %w", err)
	}
	if !ok || email != c.Email {
		return "", ErrOtpInvalid
	}
	if err := s.checkRedirect(c.Redirect); err != nil {
		return "", err
	}
	code, err := s.issueAuthCode(ctx, email)
	if err != nil {
		return "", err
	}
	back, _ := url.Parse(c.Redirect)
	q := back.Query()
	q.Set("code", code)
	if c.State != "" {
		q.Set("state", c.State)
	}
	back.RawQuery = q.Encode()
	return back.String(), nil
}

// checkRedirect accepts absolute URLs on the public origin only.
func (s *Service) checkRedirect(raw string) error {
	back, err := url.Parse(raw)
	if err != nil || !back.IsAbs() {
		return ErrInvalidRedirect
	}
	pub, err := url.Parse(s.publicURL)
	if err != nil || back.Scheme != pub.Scheme || back.Host != pub.Host {
		return ErrInvalidRedirect
	}
	return nil
}

// issueAuthCode records that the provider asserted email and returns the
// one-time code the redirect carries.
func (s *Service) issueAuthCode(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", ErrInvalidCredentials
	}
	code, err := randomHex(16)
	if err != nil {
		return "", err
	}
	if err := s.cache.PutOnce(ctx, "oauth:code:"+code, email, authCodeTTL); err != nil {
		return "", fmt.Errorf("store auth code: %w", err)
	}
	return code, nil
}

// ExchangeCode redeems an authorize code, creating the account on first use.
func (s *Service) ExchangeCode(ctx context.Context, code string) (*User, error) {
	email, ok, err := s.cache.TakeOnce(ctx, "oauth:code:"+code)
	if err != nil {
		return nil, fmt.Errorf("take auth code: %w", err)
	}
	if !ok {
		return nil, ErrOtpInvalid
	}
	return s.findOrCreate(ctx, "email", email)
}

// SendOtp stores a fresh 6 digit code and hands it to the delivery topic.
func (s *Service) SendOtp(ctx context.Context, contact string) error {
	code, err := randomDigits(6)
	if err != nil {
		return err
	}
	contact = validation.NormalizeContact(contact)
	if err := s.cache.PutOnce(ctx, "otp:code:"+contact, code, otpTTL); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	ev := events.OtpRequestedEvent{
		Contact:     contact,
		Code:        code,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.events.Publish(ctx, kafka.TopicOtpRequested, contact, ev); err != nil {
		return fmt.Errorf("dispatch otp: %w", err)
	}
	return nil
}

// VerifyOtp redeems a code. A code is consumed by its first verification attempt.
func (s *Service) VerifyOtp(ctx context.Context, contact, code string) (*User, error) {
	contact = validation.NormalizeContact(contact)
	want, ok, err := s.cache.TakeOnce(ctx, "otp:code:"+contact)
	if err != nil {
		return nil, fmt.Errorf("take otp: %w", err)
	}
	if !ok || want != code {
		return nil, ErrOtpInvalid
	}
	column := "phone"
	if strings.Contains(contact, "@") {
		column = "email"
	}
	return s.findOrCreate(ctx, column, contact)
}

// SendRecovery mails a reset link when the account exists and is silent otherwise.
func (s *Service) SendRecovery(ctx context.Context, email, redirectURL string) error {
	email = normalizeEmail(email)
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		s.log.Debug("recovery requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	token, _, err := s.tokens.Sign(jwt.PurposeRecovery, jwt.Claims{UserID: id, Email: email}, time.Hour)
	if err != nil {
		return err
	}
	s.mail(events.EmailRecovery, email, s.link("/auth/v1/recover", token, redirectURL))
	return nil
}

// ResetPassword sets a new password using a recovery token.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	c, err := s.tokens.Validate(token, jwt.PurposeRecovery)
	if err != nil {
		return ErrOtpInvalid
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, confirmed_at = COALESCE(confirmed_at, NOW()) WHERE id = $1`,
		c.UserID, string(hash)); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

// UpdateMetadata replaces the user's metadata document. A full_name entry
// also updates the profile name.
func (s *Service) UpdateMetadata(ctx context.Context, userID string, metadata map[string]string) (*User, error) {
	md, err := json.Marshal(nonNil(metadata))
	if err != nil {
		return nil, err
	}
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`UPDATE users SET metadata = $2, full_name = COALESCE(NULLIF($3, ''), full_name)
		 WHERE id = $1 RETURNING `+userColumns, userID, md, metadata["full_name"]))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update metadata: %w", err)
	}
	return u, nil
}

// IssueSession signs a session token for u.
func (s *Service) IssueSession(_ context.Context, u *User) (*Session, error) {
	raw, c, err := s.tokens.Generate(u.ID, u.Email, s.sessionTTL)
	if err != nil {
		return nil, err
	}
	return &Session{AccessToken: raw, TokenID: c.ID, ExpiresAt: c.ExpiresAt.Time, User: *u}, nil
}

// RefreshSession swaps sess for a new token and revokes the old one.
func (s *Service) RefreshSession(ctx context.Context, sess *Session) (*Session, error) {
	cur, err := s.ResolveSession(ctx, sess.AccessToken)
	if err != nil {
		return nil, err
	}
	next, err := s.IssueSession(ctx, &cur.User)
	if err != nil {
		return nil, err
	}
	if err := s.RevokeSession(ctx, cur); err != nil {
		return nil, err
	}
	return next, nil
}

// ResolveSession validates a token and loads its user.
func (s *Service) ResolveSession(ctx context.Context, accessToken string) (*Session, error) {
	c, err := s.tokens.Validate(accessToken, jwt.PurposeSession)
	if err != nil {
		return nil, ErrNoSession
	}
	revoked, err := s.cache.IsRevoked(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrNoSession
	}
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, c.UserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &Session{AccessToken: accessToken, TokenID: c.ID, ExpiresAt: c.ExpiresAt.Time, User: *u}, nil
}

// RevokeSession puts the session's token on the deny list.
func (s *Service) RevokeSession(ctx context.Context, sess *Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if err := s.cache.Revoke(ctx, sess.TokenID, ttl); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// findOrCreate returns the confirmed user with the given email or phone,
// creating it when missing. Proving control of the contact confirms it.
func (s *Service) findOrCreate(ctx context.Context, column, value string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, `+column+`, confirmed_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (`+column+`) DO UPDATE SET confirmed_at = COALESCE(users.confirmed_at, NOW())
		 RETURNING `+userColumns,
		uuid.New().String(), value))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (s *Service) link(path, token, redirectURL string) string {
	q := url.Values{}
	q.Set("token", token)
	if redirectURL != "" {
		q.Set("redirect_to", redirectURL)
	}
	return s.publicURL + path + "?" + q.Encode()
}

func (s *Service) mail(kind, to, link string) {
	ev := events.EmailRequestedEvent{
		Kind:        kind,
		To:          to,
		Link:        link,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	}
	go func() {
		if err := s.events.Publish(context.Background(), kafka.TopicEmailRequested, to, ev); err != nil {
			s.log.WithError(err).WithField("kind", kind).Error("failed to publish email request")
		}
	}()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
