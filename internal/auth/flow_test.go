package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront/shopclient/internal/apiclient"
	"storefront/shopclient/internal/session"
	"storefront/shopclient/internal/shop"
	"storefront/shopclient/internal/storage"
)

type fakeBackend struct {
	loginToken  string
	loginErr    error
	user        shop.User
	meErr       error
	registerErr error
	updateErr   error

	meCalls       int
	loginCalls    int
	registerCalls int
	lastPatch     shop.UserPatch
}

func (b *fakeBackend) Login(_ context.Context, username, password string) (shop.Token, error) {
	b.loginCalls++
	if b.loginErr != nil {
		return shop.Token{}, b.loginErr
	}
	return shop.Token{AccessToken: b.loginToken, TokenType: "bearer"}, nil
}

func (b *fakeBackend) CurrentUser(context.Context) (shop.User, error) {
	b.meCalls++
	if b.meErr != nil {
		return shop.User{}, b.meErr
	}
	return b.user, nil
}

func (b *fakeBackend) Register(_ context.Context, in shop.RegisterInput) (shop.User, error) {
	b.registerCalls++
	if b.registerErr != nil {
		return shop.User{}, b.registerErr
	}
	return shop.User{ID: 9, Username: in.Username, Email: in.Email}, nil
}

func (b *fakeBackend) UpdateUser(_ context.Context, id int64, patch shop.UserPatch) (shop.User, error) {
	b.lastPatch = patch
	if b.updateErr != nil {
		return shop.User{}, b.updateErr
	}
	return patch.Apply(b.user), nil
}

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) Log(actor, action, target, outcome, detail string) error {
	a.actions = append(a.actions, action+":"+outcome)
	return nil
}

type fixture struct {
	flow    *Flow
	backend *fakeBackend
	creds   *session.Credentials
	store   *session.Store
	slots   *storage.MemoryStore
	audit   *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	slots := storage.NewMemoryStore()
	creds, err := session.NewCredentials(slots, "token")
	if err != nil {
		t.Fatalf("NewCredentials() error: %v", err)
	}
	store, err := session.NewStore(slots, "user")
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	backend := &fakeBackend{
		loginToken: "tok-1",
		user:       shop.User{ID: 7, Username: "ivan", Email: "ivan@example.com", City: "Astana"},
	}
	rec := &recordingAudit{}
	flow, err := NewFlow(Config{Backend: backend, Credentials: creds, Sessions: store, Audit: rec})
	if err != nil {
		t.Fatalf("NewFlow() error: %v", err)
	}
	return &fixture{flow: flow, backend: backend, creds: creds, store: store, slots: slots, audit: rec}
}

func (f *fixture) token(t *testing.T) (string, bool) {
	t.Helper()
	tok, ok, err := f.creds.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error: %v", err)
	}
	return tok, ok
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ivan", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestStartWithoutCredentialIsAnonymousWithoutNetwork(t *testing.T) {
	f := newFixture(t)
	if f.flow.State() != StateUnknown {
		t.Fatalf("expected unknown before start, got %s", f.flow.State())
	}
	if err := f.flow.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if f.flow.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", f.flow.State())
	}
	if f.backend.meCalls != 0 {
		t.Fatalf("expected no network call, got %d", f.backend.meCalls)
	}
	if _, ok := f.flow.TakeNotice(); ok {
		t.Fatalf("expected no notice without a credential")
	}
}

func TestStartWithoutCredentialDropsStaleProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.Set(ctx, f.backend.user); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := f.flow.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, ok := f.store.Get(); ok {
		t.Fatalf("expected stale session to be cleared")
	}
}

func TestStartWithValidCredentialAuthenticates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.creds.Store(ctx, "tok-1"); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if err := f.flow.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if f.flow.State() != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", f.flow.State())
	}
	got, ok := f.flow.User()
	if !ok || got != f.backend.user {
		t.Fatalf("expected session to equal fetched user, got %+v ok=%v", got, ok)
	}
}

func TestStartWithRejectedCredentialClearsAndNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.creds.Store(ctx, "tok-dead")
	f.backend.meErr = &apiclient.APIError{Status: 401, Message: "Could not validate credentials"}

	if err := f.flow.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if f.flow.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", f.flow.State())
	}
	if _, ok := f.token(t); ok {
		t.Fatalf("expected credential to be cleared")
	}
	if _, ok := f.flow.User(); ok {
		t.Fatalf("expected no fabricated user")
	}

	notice, ok := f.flow.TakeNotice()
	if !ok || notice != SessionExpiredNotice {
		t.Fatalf("expected session-expired notice, got %q ok=%v", notice, ok)
	}
	if _, ok := f.flow.TakeNotice(); ok {
		t.Fatalf("notice must be delivered exactly once")
	}
}

func TestStartWithNetworkFailureFallsBackToAnonymous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.creds.Store(ctx, "tok-1")
	f.backend.meErr = &apiclient.NetworkError{Op: "GET /users/me", Err: errors.New("connection refused")}

	if err := f.flow.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if f.flow.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", f.flow.State())
	}
	if _, ok := f.token(t); ok {
		t.Fatalf("expected credential to be cleared on startup failure")
	}
}

func TestStartWithExpiredJWTSkipsNetwork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.flow.nowFunc = func() time.Time { return now }
	_ = f.creds.Store(ctx, signedToken(t, now.Add(-time.Minute)))

	if err := f.flow.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if f.backend.meCalls != 0 {
		t.Fatalf("expected expired token to skip the backend, got %d calls", f.backend.meCalls)
	}
	if f.flow.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", f.flow.State())
	}
}

func TestLoginSuccessPersistsCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.flow.Start(ctx)

	u, err := f.flow.Login(ctx, "ivan", "secret123")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if u.Username != "ivan" {
		t.Fatalf("unexpected user %+v", u)
	}
	if f.flow.State() != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", f.flow.State())
	}
	if tok, ok := f.token(t); !ok || tok != "tok-1" {
		t.Fatalf("expected persisted credential tok-1, got %q ok=%v", tok, ok)
	}
	if len(f.audit.actions) == 0 || f.audit.actions[len(f.audit.actions)-1] != "auth.login:success" {
		t.Fatalf("expected login audit entry, got %v", f.audit.actions)
	}
}

func TestLoginInvalidCredentialsPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.flow.Start(ctx)
	f.backend.loginErr = &apiclient.APIError{Status: 401, Message: "Incorrect username or password"}

	_, err := f.flow.Login(ctx, "ivan", "bad")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Message != "Incorrect username or password" {
		t.Fatalf("expected backend message verbatim, got %q", authErr.Message)
	}
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials in chain, got %v", err)
	}
	if f.flow.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", f.flow.State())
	}
	if _, ok := f.token(t); ok {
		t.Fatalf("expected no credential after failed login")
	}
	if _, ok := f.store.Get(); ok {
		t.Fatalf("expected no session after failed login")
	}
}

func TestLoginEmptyFieldsNeverReachBackend(t *testing.T) {
	f := newFixture(t)
	_, err := f.flow.Login(context.Background(), "ivan", " ")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Fields) != 1 || vErr.Fields[0] != "password" {
		t.Fatalf("unexpected fields %v", vErr.Fields)
	}
	if f.backend.loginCalls != 0 {
		t.Fatalf("expected no backend call")
	}
}

func TestLoginUserFetchFailureRollsBackCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.flow.Start(ctx)
	f.backend.meErr = &apiclient.APIError{Status: 500, Message: "boom"}

	if _, err := f.flow.Login(ctx, "ivan", "secret123"); err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := f.token(t); ok {
		t.Fatalf("expected credential to be rolled back")
	}
	if f.flow.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", f.flow.State())
	}
	if _, ok := f.store.Get(); ok {
		t.Fatalf("expected no session after rolled back login")
	}
}

func TestLoginRefusedWhileSignedIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.flow.Start(ctx)
	if _, err := f.flow.Login(ctx, "ivan", "secret123"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	f.backend.loginToken = "tok-2"
	f.backend.meErr = &apiclient.APIError{Status: 500, Message: "boom"}
	_, err := f.flow.Login(ctx, "maria", "secret456")
	if !errors.Is(err, ErrAlreadySignedIn) {
		t.Fatalf("expected ErrAlreadySignedIn, got %v", err)
	}
	if f.backend.loginCalls != 1 {
		t.Fatalf("expected the second login to stay local, got %d backend calls", f.backend.loginCalls)
	}
	if f.flow.State() != StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", f.flow.State())
	}
	if tok, ok := f.token(t); !ok || tok != "tok-1" {
		t.Fatalf("expected first credential kept, got %q ok=%v", tok, ok)
	}
	if u, ok := f.flow.User(); !ok || u.Username != "ivan" {
		t.Fatalf("expected ivan still signed in, got %+v ok=%v", u, ok)
	}
}

func TestRegisterDoesNotLogIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.flow.Start(ctx)

	u, err := f.flow.Register(ctx, shop.RegisterInput{Username: "new", Email: "new@example.com", Password: "pw", PasswordConfirm: "pw"})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if u.Username != "new" {
		t.Fatalf("unexpected user %+v", u)
	}
	if f.flow.State() != StateAnonymous {
		t.Fatalf("register must not sign in, got %s", f.flow.State())
	}
	if _, ok := f.token(t); ok {
		t.Fatalf("register must not store a credential")
	}
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name  string
		in    shop.RegisterInput
		field string
	}{
		{"missing email", shop.RegisterInput{Username: "a", Password: "pw"}, "email"},
		{"bad email", shop.RegisterInput{Username: "a", Email: "nope", Password: "pw"}, "email"},
		{"mismatch", shop.RegisterInput{Username: "a", Email: "a@b.c", Password: "pw", PasswordConfirm: "px"}, "password_confirm"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.flow.Register(context.Background(), tc.in)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Fields[0] != tc.field {
				t.Fatalf("expected field %s, got %v", tc.field, vErr.Fields)
			}
			if f.backend.registerCalls != 0 {
				t.Fatalf("expected no backend call")
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.flow.Start(ctx)
	if _, err := f.flow.Login(ctx, "ivan", "secret123"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	if !f.flow.Refresh(ctx) {
		t.Fatalf("expected refresh to succeed")
	}

	f.backend.meErr = &apiclient.NetworkError{Op: "GET /users/me", Err: errors.New("timeout")}
	if f.flow.Refresh(ctx) {
		t.Fatalf("expected refresh to fail on network error")
	}
	if _, ok := f.token(t); !ok {
		t.Fatalf("network failure must not clear the credential")
	}

	f.backend.meErr = fmt.Errorf("fetch: %w", &apiclient.APIError{Status: 401, Message: "expired"})
	if f.flow.Refresh(ctx) {
		t.Fatalf("expected refresh to fail on unauthorized")
	}
	if f.flow.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", f.flow.State())
	}
	if _, ok := f.token(t); ok {
		t.Fatalf("expected credential cleared")
	}
	if _, ok := f.flow.TakeNotice(); !ok {
		t.Fatalf("expected notice after expiry")
	}
}

func TestLogoutClearsEverythingWithoutBackend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.flow.Start(ctx)
	_, _ = f.flow.Login(ctx, "ivan", "secret123")
	calls := f.backend.meCalls

	if err := f.flow.Logout(ctx); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if f.backend.meCalls != calls || f.backend.loginCalls != 1 {
		t.Fatalf("logout must not call the backend")
	}
	if f.flow.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", f.flow.State())
	}
	if _, ok := f.token(t); ok {
		t.Fatalf("expected credential cleared")
	}
	if _, err := f.slots.Get(ctx, "user"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected session slot removed, got %v", err)
	}
}

func TestUpdateProfileMergesIntoSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.flow.Start(ctx)
	_, _ = f.flow.Login(ctx, "ivan", "secret123")

	city := "Almaty"
	got, err := f.flow.UpdateProfile(ctx, shop.UserPatch{City: &city})
	if err != nil {
		t.Fatalf("UpdateProfile() error: %v", err)
	}
	if got.City != "Almaty" || got.Username != "ivan" {
		t.Fatalf("unexpected merged user %+v", got)
	}
	if u, _ := f.flow.User(); u.City != "Almaty" {
		t.Fatalf("expected session to carry the update, got %+v", u)
	}
}

func TestUpdateProfileRequiresSession(t *testing.T) {
	f := newFixture(t)
	_ = f.flow.Start(context.Background())
	city := "Almaty"
	if _, err := f.flow.UpdateProfile(context.Background(), shop.UserPatch{City: &city}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestHandleUnauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.flow.Start(ctx)
	_, _ = f.flow.Login(ctx, "ivan", "secret123")

	if f.flow.HandleUnauthorized(ctx, &apiclient.APIError{Status: 500, Message: "x"}) {
		t.Fatalf("500 is not an auth failure")
	}
	if f.flow.State() != StateAuthenticated {
		t.Fatalf("expected still authenticated")
	}
	if !f.flow.HandleUnauthorized(ctx, &apiclient.APIError{Status: 401, Message: "x"}) {
		t.Fatalf("expected 401 to be handled")
	}
	if f.flow.State() != StateAnonymous {
		t.Fatalf("expected anonymous, got %s", f.flow.State())
	}
}

func TestInspectTokenOpaque(t *testing.T) {
	if _, ok := inspectToken("opaque-token"); ok {
		t.Fatalf("opaque token must not parse as JWT")
	}
	exp := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	claims, ok := inspectToken(signedToken(t, exp))
	if !ok || claims.Subject != "ivan" || !claims.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected claims %+v ok=%v", claims, ok)
	}
	if !claims.expired(exp) || claims.expired(exp.Add(-time.Second)) {
		t.Fatalf("unexpected expiry evaluation")
	}
}
