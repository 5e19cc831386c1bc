// Package auth owns the client-side authentication lifecycle: startup
// recovery of a stored credential, login, registration, revalidation and
// logout. It is the only writer of the credential slot.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"storefront/shopclient/internal/apiclient"
	"storefront/shopclient/internal/audit"
	"storefront/shopclient/internal/observability"
	"storefront/shopclient/internal/shop"
)

type State string

const (
	StateUnknown       State = "unknown"
	StateChecking      State = "checking"
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
)

type Backend interface {
	Login(ctx context.Context, username, password string) (shop.Token, error)
	CurrentUser(ctx context.Context) (shop.User, error)
	Register(ctx context.Context, in shop.RegisterInput) (shop.User, error)
	UpdateUser(ctx context.Context, id int64, patch shop.UserPatch) (shop.User, error)
}

type CredentialStore interface {
	Token(ctx context.Context) (string, bool, error)
	Store(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

type SessionStore interface {
	Get() (shop.User, bool)
	Set(ctx context.Context, u shop.User) error
	Update(ctx context.Context, patch shop.UserPatch) (shop.User, bool, error)
	Clear(ctx context.Context) error
}

type AuditLogger interface {
	Log(actor, action, target, outcome, detail string) error
}

type Config struct {
	Backend     Backend
	Credentials CredentialStore
	Sessions    SessionStore
	Audit       AuditLogger
	Logger      *slog.Logger
}

type Flow struct {
	backend  Backend
	creds    CredentialStore
	sessions SessionStore
	audit    AuditLogger
	log      *slog.Logger
	nowFunc  func() time.Time

	mu     sync.RWMutex
	state  State
	notice string
}

func NewFlow(cfg Config) (*Flow, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("auth backend is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	auditLog := cfg.Audit
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Flow{
		backend:  cfg.Backend,
		creds:    cfg.Credentials,
		sessions: cfg.Sessions,
		audit:    auditLog,
		log:      logger,
		nowFunc:  time.Now,
		state:    StateUnknown,
	}, nil
}

func (f *Flow) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// User returns the signed-in user while the flow is authenticated.
func (f *Flow) User() (shop.User, bool) {
	if f.State() != StateAuthenticated {
		return shop.User{}, false
	}
	return f.sessions.Get()
}

// TakeNotice returns the pending user-visible notice once.
func (f *Flow) TakeNotice() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notice == "" {
		return "", false
	}
	n := f.notice
	f.notice = ""
	return n, true
}

func (f *Flow) DismissNotice() {
	f.mu.Lock()
	f.notice = ""
	f.mu.Unlock()
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	prev := f.state
	f.state = s
	f.mu.Unlock()
	if prev != s {
		observability.RecordAuthTransition(string(s))
		f.log.Info("auth state changed", "from", string(prev), "to", string(s))
	}
}

// Start recovers a stored credential at process start. Without a credential
// the flow becomes anonymous and no request is made. Any failure to confirm
// the credential discards it and leaves a one-shot notice.
func (f *Flow) Start(ctx context.Context) error {
	f.setState(StateChecking)

	tok, ok, err := f.creds.Token(ctx)
	if err != nil {
		f.setState(StateAnonymous)
		return fmt.Errorf("read credential: %w", err)
	}
	if !ok {
		if err := f.sessions.Clear(ctx); err != nil {
			f.log.Error("clear stale session projection", "error", err)
		}
		f.setState(StateAnonymous)
		return nil
	}

	if err := f.verify(ctx, tok); err != nil {
		f.log.Warn("stored credential rejected at startup", "error", err)
		f.expire(ctx, err)
		return nil
	}
	f.setState(StateAuthenticated)
	return nil
}

// verify confirms tok with the backend and refreshes the session record.
func (f *Flow) verify(ctx context.Context, tok string) error {
	if claims, ok := inspectToken(tok); ok {
		if claims.expired(f.nowFunc()) {
			return fmt.Errorf("token for %q expired at %s: %w", claims.Subject, claims.ExpiresAt.UTC().Format(time.RFC3339), ErrSessionExpired)
		}
	}
	u, err := f.backend.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("fetch current user: %w", err)
	}
	if err := f.sessions.Set(ctx, u); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// expire discards the credential and the session and leaves the
// session-expired notice.
func (f *Flow) expire(ctx context.Context, cause error) {
	actor := ""
	if u, ok := f.sessions.Get(); ok {
		actor = u.Username
	}
	if err := f.creds.Clear(ctx); err != nil {
		f.log.Error("clear credential", "error", err)
	}
	if err := f.sessions.Clear(ctx); err != nil {
		f.log.Error("clear session", "error", err)
	}
	f.mu.Lock()
	f.notice = SessionExpiredNotice
	f.mu.Unlock()
	f.setState(StateAnonymous)
	_ = f.audit.Log(actor, audit.ActionSessionExpired, "", audit.OutcomeSuccess, causeDetail(cause))
}

// Login signs a user in. It is refused while another session is live, so a
// second sign-in can never take over the first user's credential.
func (f *Flow) Login(ctx context.Context, username, password string) (shop.User, error) {
	if f.State() == StateAuthenticated {
		return shop.User{}, ErrAlreadySignedIn
	}
	if err := shop.RequireFields(map[string]string{"username": username, "password": password}, "username", "password"); err != nil {
		return shop.User{}, err
	}

	tok, err := f.backend.Login(ctx, username, password)
	if err != nil {
		_ = f.audit.Log(username, audit.ActionLogin, "", audit.OutcomeFailed, causeDetail(err))
		switch apiclient.StatusOf(err) {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return shop.User{}, &AuthError{Message: apiclient.UserMessage(err), Err: fmt.Errorf("%w: %w", ErrInvalidCredentials, err)}
		}
		return shop.User{}, fmt.Errorf("login: %w", err)
	}

	if err := f.creds.Store(ctx, tok.AccessToken); err != nil {
		return shop.User{}, fmt.Errorf("store credential: %w", err)
	}
	u, err := f.backend.CurrentUser(ctx)
	if err == nil {
		err = f.sessions.Set(ctx, u)
	}
	if err != nil {
		if clearErr := f.creds.Clear(ctx); clearErr != nil {
			f.log.Error("clear credential after failed login", "error", clearErr)
		}
		if clearErr := f.sessions.Clear(ctx); clearErr != nil {
			f.log.Error("clear session after failed login", "error", clearErr)
		}
		f.setState(StateAnonymous)
		_ = f.audit.Log(username, audit.ActionLogin, "", audit.OutcomeFailed, causeDetail(err))
		return shop.User{}, fmt.Errorf("load user after login: %w", err)
	}

	f.mu.Lock()
	f.notice = ""
	f.mu.Unlock()
	f.setState(StateAuthenticated)
	_ = f.audit.Log(u.Username, audit.ActionLogin, "", audit.OutcomeSuccess, "")
	return u, nil
}

// Register creates an account. It does not sign the user in.
func (f *Flow) Register(ctx context.Context, in shop.RegisterInput) (shop.User, error) {
	err := shop.RequireFields(map[string]string{
		"username": in.Username,
		"email":    in.Email,
		"password": in.Password,
	}, "username", "email", "password")
	if err != nil {
		return shop.User{}, err
	}
	if !strings.Contains(in.Email, "@") {
		return shop.User{}, &ValidationError{Fields: []string{"email"}, Message: "email is not valid"}
	}
	if in.PasswordConfirm != "" && in.PasswordConfirm != in.Password {
		return shop.User{}, &ValidationError{Fields: []string{"password_confirm"}, Message: "passwords do not match"}
	}

	u, err := f.backend.Register(ctx, in)
	if err != nil {
		_ = f.audit.Log(in.Username, audit.ActionRegister, "", audit.OutcomeFailed, causeDetail(err))
		return shop.User{}, fmt.Errorf("register: %w", err)
	}
	_ = f.audit.Log(in.Username, audit.ActionRegister, "", audit.OutcomeSuccess, "")
	return u, nil
}

// Check revalidates the current credential against the backend. A rejected
// or missing credential ends the session; a network failure leaves it alone.
func (f *Flow) Check(ctx context.Context) error {
	tok, ok, err := f.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}
	if !ok {
		if f.State() == StateAuthenticated {
			f.expire(ctx, ErrNotAuthenticated)
		}
		return ErrNotAuthenticated
	}
	if err := f.verify(ctx, tok); err != nil {
		if errors.Is(err, ErrSessionExpired) || apiclient.IsUnauthorized(err) {
			f.expire(ctx, err)
			return &AuthError{Message: SessionExpiredNotice, Err: err}
		}
		return err
	}
	f.setState(StateAuthenticated)
	return nil
}

// Refresh reports whether the session is still valid. Callers use it right
// before committing state-changing work, since a token can expire mid-session.
func (f *Flow) Refresh(ctx context.Context) bool {
	if err := f.Check(ctx); err != nil {
		f.log.Warn("session refresh failed", "error", err)
		return false
	}
	return true
}

// Logout forgets the credential and the session. The backend is not called.
func (f *Flow) Logout(ctx context.Context) error {
	actor := ""
	if u, ok := f.sessions.Get(); ok {
		actor = u.Username
	}
	errCred := f.creds.Clear(ctx)
	errSess := f.sessions.Clear(ctx)
	f.setState(StateAnonymous)
	_ = f.audit.Log(actor, audit.ActionLogout, "", audit.OutcomeSuccess, "")
	return errors.Join(errCred, errSess)
}

// UpdateProfile sends a partial profile update and merges the result into the
// session.
func (f *Flow) UpdateProfile(ctx context.Context, patch shop.UserPatch) (shop.User, error) {
	u, ok := f.User()
	if !ok {
		return shop.User{}, ErrNotAuthenticated
	}
	if patch.Empty() {
		return u, nil
	}
	if patch.Email != nil && !strings.Contains(*patch.Email, "@") {
		return shop.User{}, &ValidationError{Fields: []string{"email"}, Message: "email is not valid"}
	}

	updated, err := f.backend.UpdateUser(ctx, u.ID, patch)
	if err != nil {
		f.HandleUnauthorized(ctx, err)
		_ = f.audit.Log(u.Username, audit.ActionProfileUpdate, strconv.FormatInt(u.ID, 10), audit.OutcomeFailed, causeDetail(err))
		return shop.User{}, fmt.Errorf("update profile: %w", err)
	}

	var merged shop.User
	if updated.ID != 0 {
		merged = updated
		err = f.sessions.Set(ctx, merged)
	} else {
		merged, _, err = f.sessions.Update(ctx, patch)
	}
	if err != nil {
		return shop.User{}, fmt.Errorf("store updated profile: %w", err)
	}
	_ = f.audit.Log(u.Username, audit.ActionProfileUpdate, strconv.FormatInt(u.ID, 10), audit.OutcomeSuccess, "")
	return merged, nil
}

// HandleUnauthorized ends the session when err shows the backend rejected the
// credential. It reports whether it did.
func (f *Flow) HandleUnauthorized(ctx context.Context, err error) bool {
	if err == nil || !apiclient.IsUnauthorized(err) {
		return false
	}
	if f.State() == StateAuthenticated {
		f.expire(ctx, err)
	}
	return true
}

func causeDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
