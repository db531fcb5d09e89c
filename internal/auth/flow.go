package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/validation"
)

// State is a step of the auth modal.
type State string

const (
	StateLogin          State = "login"
	StateSignup         State = "signup"
	StateForgotPassword State = "forgot-password"
	StateOtpPending     State = "otp-pending"
	StateCheckInbox     State = "check-inbox"
	StateResolved       State = "resolved"
)

// Intent says whether an OTP round trip logs in or signs up.
type Intent string

const (
	IntentLogin  Intent = "login"
	IntentSignup Intent = "signup"
)

const (
	callTimeout = 15 * time.Second
	// A metadata-borne token must survive until the email is confirmed.
	signupPendingTTL = 24 * time.Hour
)

// RoleResolver answers the primary role question. Failures read as customer.
type RoleResolver interface {
	PrimaryRole(ctx context.Context, userID string) roles.Role
}

// QuotaGuard is the per-contact daily OTP send limit.
type QuotaGuard interface {
	CheckAndIncrement(ctx context.Context, contact string) (bool, error)
}

// Deps are the collaborators of a Flow. Everything but Now is required.
type Deps struct {
	Provider    identity.Provider
	Roles       RoleResolver
	Quota       QuotaGuard
	Tokens      *Tokens
	Device      *DeviceStore
	DeviceID    string
	RedirectURL string
	Cooldown    time.Duration
	Now         func() time.Time
}

// LoginInput is a password login attempt.
type LoginInput struct {
	Role     string `json:"role"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupInput is a password signup attempt.
type SignupInput struct {
	Role     string `json:"role"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// OtpInput starts an OTP login or signup.
type OtpInput struct {
	Intent   Intent `json:"intent"`
	Role     string `json:"role"`
	Contact  string `json:"contact"`
	FullName string `json:"full_name,omitempty"`
}

// View is the renderable state of a flow.
type View struct {
	ID       string `json:"id"`
	State    State  `json:"state"`
	Busy     bool   `json:"busy"`
	Contact  string `json:"contact,omitempty"`
	ResendIn int    `json:"resend_in"`
	Message  string `json:"message,omitempty"`
}

type otpAttempt struct {
	intent   Intent
	role     roles.Role
	contact  string
	fullName string
	resendAt time.Time
	// pending is the device token a signup holds until the code is verified.
	pending string
}

// Flow is one auth modal instance. At most one provider call is in flight
// at a time; a second submission fails with ErrBusy.
type Flow struct {
	id         string
	deps       Deps
	onResolved func(*identity.Session)
	log        *logrus.Entry

	mu      sync.Mutex
	state   State
	busy    bool
	closed  bool
	message string
	otp     *otpAttempt
}

// NewFlow opens a flow on the given tab. onResolved runs once when the
// flow reaches StateResolved and may be nil.
func NewFlow(deps Deps, initial State, onResolved func(*identity.Session)) *Flow {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	switch initial {
	case StateSignup, StateForgotPassword:
	default:
		initial = StateLogin
	}
	id := uuid.New().String()
	return &Flow{
		id:         id,
		deps:       deps,
		onResolved: onResolved,
		state:      initial,
		log:        logs.For("auth-flow").WithField("flow_id", id),
	}
}

func (f *Flow) ID() string { return f.id }

func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{ID: f.id, State: f.state, Busy: f.busy, Message: f.message}
	if f.otp != nil && f.state == StateOtpPending {
		v.Contact = f.otp.contact
		if left := f.otp.resendAt.Sub(f.deps.Now()); left > 0 {
			v.ResendIn = int((left + time.Second - 1) / time.Second)
		}
	}
	return v
}

// Close dismisses the modal. Calls still in flight complete against the
// provider but no longer change the flow.
func (f *Flow) Close() {
	f.mu.Lock()
	f.closed = true
	pending := f.abandon()
	f.mu.Unlock()
	f.dropPendingRole(pending)
}

// SelectTab switches between the login, signup and forgot-password tabs.
// Leaving otp-pending abandons the code.
func (f *Flow) SelectTab(tab State) error {
	switch tab {
	case StateLogin, StateSignup, StateForgotPassword:
	default:
		return ErrInvalidTransition
	}
	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return ErrClosed
	case f.busy:
		f.mu.Unlock()
		return ErrBusy
	case f.state == StateResolved:
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	pending := f.abandon()
	f.state = tab
	f.message = ""
	f.mu.Unlock()
	f.dropPendingRole(pending)
	return nil
}

// abandon forgets the otp attempt and returns the device token it held.
// Callers hold f.mu. An attempt with a call in flight is left alone.
func (f *Flow) abandon() string {
	if f.busy || f.otp == nil {
		return ""
	}
	pending := f.otp.pending
	f.otp = nil
	return pending
}

// dropPendingRole removes token from the device unless a newer one replaced it.
func (f *Flow) dropPendingRole(token string) {
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	raw, ok, err := f.deps.Device.Take(ctx, f.deps.DeviceID)
	if err == nil && ok && raw != token {
		err = f.deps.Device.Save(ctx, f.deps.DeviceID, raw)
	}
	if err != nil {
		f.log.WithError(err).Warn("dropping device pending role")
	}
}

// begin claims the single in-flight slot if the flow is in one of allowed.
func (f *Flow) begin(allowed ...State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.busy {
		return ErrBusy
	}
	for _, s := range allowed {
		if f.state == s {
			f.busy = true
			f.message = ""
			return nil
		}
	}
	return ErrInvalidTransition
}

// end releases the slot and applies fn unless the flow was closed meanwhile.
func (f *Flow) end(fn func()) (closed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
	if f.closed {
		return true
	}
	if fn != nil {
		fn()
	}
	return false
}

func (f *Flow) resolve(s *identity.Session) {
	if closed := f.end(func() { f.state = StateResolved; f.otp = nil }); closed {
		return
	}
	if f.onResolved != nil {
		f.onResolved(s)
	}
}

func (f *Flow) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}

// Login signs in with a password and verifies the claimed role.
func (f *Flow) Login(ctx context.Context, in LoginInput) error {
	if err := f.begin(StateLogin); err != nil {
		return err
	}
	if in.Role == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		f.end(nil)
		return invalid(msgFillAllFields)
	}
	claimed, err := roles.Parse(in.Role)
	if err != nil {
		f.end(nil)
		return invalid(msgInvalidRole)
	}

	cctx, cancel := f.call(ctx)
	defer cancel()
	s, err := f.deps.Provider.SignInWithPassword(cctx, in.Email, in.Password)
	if err != nil {
		f.end(nil)
		return &ProviderError{Err: err}
	}
	if err := f.verifyRole(cctx, s, claimed); err != nil {
		f.end(nil)
		return err
	}
	f.resolve(s)
	return nil
}

// verifyRole signs the session out unless its primary role is claimed.
func (f *Flow) verifyRole(ctx context.Context, s *identity.Session, claimed roles.Role) error {
	actual := f.deps.Roles.PrimaryRole(ctx, s.User.ID)
	if actual == claimed {
		return nil
	}
	if err := f.deps.Provider.SignOut(ctx); err != nil {
		f.log.WithError(err).Warn("signing out after role mismatch")
	}
	f.log.WithFields(logrus.Fields{
		"user_id": s.User.ID, "claimed": claimed, "actual": actual,
	}).Info("login rejected: role mismatch")
	return &RoleMismatchError{Claimed: claimed, Actual: actual}
}

// signupRole parses role and rejects the roles nobody may sign up as.
func signupRole(raw string) (roles.Role, error) {
	role, err := roles.Parse(raw)
	if err != nil {
		return "", invalid(msgInvalidRole)
	}
	if role == roles.Admin {
		return "", invalid(msgAdminSignup)
	}
	return role, nil
}

// Signup registers a password identity. The chosen role travels in user
// metadata until the first sign-in after confirmation.
func (f *Flow) Signup(ctx context.Context, in SignupInput) error {
	if err := f.begin(StateSignup); err != nil {
		return err
	}
	fail := func(err error) error { f.end(nil); return err }

	if in.Role == "" || strings.TrimSpace(in.FullName) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return fail(invalid(msgFillAllFields))
	}
	role, err := signupRole(in.Role)
	if err != nil {
		return fail(err)
	}
	name := strings.TrimSpace(in.FullName)
	if !validation.ValidateName(name) {
		return fail(invalid(msgInvalidName))
	}
	if !validation.ValidateEmail(strings.TrimSpace(in.Email)) {
		return fail(invalid(msgInvalidEmail))
	}
	if problem := validation.PasswordProblem(in.Password); problem != "" {
		return fail(invalid(problem))
	}
	token, err := f.deps.Tokens.IssueFor(role, signupPendingTTL)
	if err != nil {
		return fail(err)
	}

	cctx, cancel := f.call(ctx)
	defer cancel()
	_, err = f.deps.Provider.SignUp(cctx, identity.SignUpRequest{
		Email:       strings.TrimSpace(in.Email),
		Password:    in.Password,
		Metadata:    map[string]string{"full_name": name, MetadataKey: token},
		RedirectURL: f.deps.RedirectURL,
	})
	if err != nil {
		return fail(&ProviderError{Err: err})
	}
	f.end(func() { f.state = StateCheckInbox; f.message = msgCheckInbox })
	return nil
}

// ForgotPassword requests a reset link and returns to the login tab. The
// outcome message does not reveal whether the account exists.
func (f *Flow) ForgotPassword(ctx context.Context, email string) error {
	if err := f.begin(StateForgotPassword); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		f.end(nil)
		return invalid(msgFillAllFields)
	}

	cctx, cancel := f.call(ctx)
	defer cancel()
	err := f.deps.Provider.ResetPasswordForEmail(cctx, email, f.deps.RedirectURL)
	f.end(func() {
		f.state = StateLogin
		if err == nil {
			f.message = msgResetLinkSent
		}
	})
	if err != nil {
		return &ProviderError{Err: err}
	}
	return nil
}

// StartOAuth returns the provider URL the browser must navigate to. The
// chosen role rides in the opaque state as a signed pending role token.
func (f *Flow) StartOAuth(ctx context.Context, provider, role string) (string, error) {
	if err := f.begin(StateLogin, StateSignup); err != nil {
		return "", err
	}
	fail := func(err error) (string, error) { f.end(nil); return "", err }

	if role == "" || provider == "" {
		return fail(invalid(msgFillAllFields))
	}
	r, err := roles.Parse(role)
	if err != nil {
		return fail(invalid(msgInvalidRole))
	}
	if r == roles.Admin {
		f.mu.Lock()
		onSignup := f.state == StateSignup
		f.mu.Unlock()
		if onSignup {
			return fail(invalid(msgAdminSignup))
		}
		return fail(invalid(msgAdminOAuth))
	}
	state, err := f.deps.Tokens.Issue(r)
	if err != nil {
		return fail(err)
	}

	cctx, cancel := f.call(ctx)
	defer cancel()
	u, err := f.deps.Provider.SignInWithOAuth(cctx, identity.OAuthRequest{
		Provider:    provider,
		RedirectURL: f.deps.RedirectURL,
		State:       state,
	})
	if err != nil {
		return fail(&ProviderError{Err: err})
	}
	f.end(nil)
	return u, nil
}

// SendOtp dispatches a one-time code after the daily quota allows it.
func (f *Flow) SendOtp(ctx context.Context, in OtpInput) error {
	if err := f.begin(StateLogin, StateSignup); err != nil {
		return err
	}
	fail := func(err error) error { f.end(nil); return err }

	contact := validation.NormalizeContact(in.Contact)
	if in.Role == "" || contact == "" {
		return fail(invalid(msgFillAllFields))
	}
	if !validation.ValidateContact(contact) {
		return fail(invalid(msgInvalidContact))
	}
	attempt := &otpAttempt{intent: in.Intent, contact: contact}
	switch in.Intent {
	case IntentSignup:
		role, err := signupRole(in.Role)
		if err != nil {
			return fail(err)
		}
		name := strings.TrimSpace(in.FullName)
		if !validation.ValidateName(name) {
			return fail(invalid(msgInvalidName))
		}
		attempt.role, attempt.fullName = role, name
	case IntentLogin, "":
		role, err := roles.Parse(in.Role)
		if err != nil {
			return fail(invalid(msgInvalidRole))
		}
		attempt.intent, attempt.role = IntentLogin, role
	default:
		return fail(ErrInvalidTransition)
	}

	cctx, cancel := f.call(ctx)
	defer cancel()
	if err := f.dispatch(cctx, contact); err != nil {
		return fail(err)
	}
	if attempt.intent == IntentSignup {
		attempt.pending = f.holdPendingRole(cctx, attempt.role, contact)
	}
	attempt.resendAt = f.deps.Now().Add(f.deps.Cooldown)
	if closed := f.end(func() {
		f.state = StateOtpPending
		f.otp = attempt
		f.message = msgCodeSent
	}); closed {
		f.dropPendingRole(attempt.pending)
	}
	return nil
}

// ResendOtp sends a fresh code once the cooldown is over. Each resend counts
// against the daily quota.
func (f *Flow) ResendOtp(ctx context.Context) error {
	if err := f.begin(StateOtpPending); err != nil {
		return err
	}
	f.mu.Lock()
	attempt := *f.otp
	f.mu.Unlock()
	if f.deps.Now().Before(attempt.resendAt) {
		f.end(nil)
		return ErrCooldown
	}

	cctx, cancel := f.call(ctx)
	defer cancel()
	if err := f.dispatch(cctx, attempt.contact); err != nil {
		if f.end(nil) {
			f.dropPendingRole(attempt.pending)
		}
		return err
	}
	resendAt := f.deps.Now().Add(f.deps.Cooldown)
	if closed := f.end(func() {
		if f.otp != nil {
			f.otp.resendAt = resendAt
		}
		f.message = msgCodeSent
	}); closed {
		f.dropPendingRole(attempt.pending)
	}
	return nil
}

func (f *Flow) dispatch(ctx context.Context, contact string) error {
	ok, err := f.deps.Quota.CheckAndIncrement(ctx, contact)
	if err != nil {
		f.log.WithError(err).Error("checking otp quota")
		return ErrQuotaUnavailable
	}
	if !ok {
		f.log.Info("otp quota exhausted")
		return ErrQuotaExceeded
	}
	if err := f.deps.Provider.SignInWithOtp(ctx, contact); err != nil {
		return &ProviderError{Err: err}
	}
	return nil
}

// holdPendingRole stores role for this device until contact is verified.
func (f *Flow) holdPendingRole(ctx context.Context, role roles.Role, contact string) string {
	token, err := f.deps.Tokens.IssueBound(role, contact)
	if err == nil {
		err = f.deps.Device.Save(ctx, f.deps.DeviceID, token)
	}
	if err != nil {
		f.log.WithError(err).Warn("storing device pending role")
		return ""
	}
	return token
}

// VerifyOtp redeems the code. Login intents then verify the claimed role.
func (f *Flow) VerifyOtp(ctx context.Context, code string) error {
	if err := f.begin(StateOtpPending); err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if !validation.ValidateOTP(code) {
		f.end(nil)
		return invalid(msgInvalidCode)
	}
	f.mu.Lock()
	attempt := *f.otp
	f.mu.Unlock()

	cctx, cancel := f.call(ctx)
	defer cancel()
	s, err := f.deps.Provider.VerifyOtp(cctx, attempt.contact, code)
	if err != nil {
		if f.end(nil) {
			f.dropPendingRole(attempt.pending)
		}
		return &ProviderError{Err: err}
	}

	switch attempt.intent {
	case IntentLogin:
		if err := f.verifyRole(cctx, s, attempt.role); err != nil {
			f.end(func() { f.state = StateLogin; f.otp = nil })
			return err
		}
	case IntentSignup:
		if attempt.fullName != "" {
			s = f.setFullName(cctx, s, attempt.fullName)
		}
	}
	f.resolve(s)
	return nil
}

func (f *Flow) setFullName(ctx context.Context, s *identity.Session, name string) *identity.Session {
	cur, err := f.deps.Provider.CurrentSession(ctx)
	if err != nil || cur == nil {
		cur = s
	}
	md := make(map[string]string, len(cur.User.Metadata)+1)
	for k, v := range cur.User.Metadata {
		md[k] = v
	}
	md["full_name"] = name
	u, err := f.deps.Provider.UpdateUser(ctx, md)
	if err != nil {
		f.log.WithError(err).Warn("saving full name")
		return s
	}
	next := *cur
	next.User = *u
	return &next
}
