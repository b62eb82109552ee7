package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/druckerapp/drucker/internal/config"
	"github.com/druckerapp/drucker/internal/domain/user"
	"github.com/druckerapp/drucker/internal/http/handlers"
	"github.com/druckerapp/drucker/internal/security"
	"github.com/gin-gonic/gin"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

// Fake users repo implementing the handler-side store interfaces plus the
// bootstrapper's AdminStore.

type fakeUsers struct {
	getByEmailFn  func(ctx context.Context, email string) (user.User, error)
	createFn      func(ctx context.Context, email, passwordHash, name string, maxActive int) (user.User, int, error)
	recordLoginFn func(ctx context.Context, userID, userAgent, ip string) (user.User, error)
	insertFn      func(ctx context.Context, u user.User) error
	applyFn       func(ctx context.Context, id string, p user.Patch) error
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (user.User, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}
	return user.User{}, user.ErrNotFound
}

func (f *fakeUsers) CreateWithinCap(ctx context.Context, email, passwordHash, name string, maxActive int) (user.User, int, error) {
	if f.createFn != nil {
		return f.createFn(ctx, email, passwordHash, name, maxActive)
	}
	return user.User{}, 0, nil
}

func (f *fakeUsers) RecordLogin(ctx context.Context, userID, userAgent, ip string) (user.User, error) {
	if f.recordLoginFn != nil {
		return f.recordLoginFn(ctx, userID, userAgent, ip)
	}
	return user.User{}, nil
}

func (f *fakeUsers) Insert(ctx context.Context, u user.User) error {
	if f.insertFn != nil {
		return f.insertFn(ctx, u)
	}
	return nil
}

func (f *fakeUsers) Apply(ctx context.Context, id string, p user.Patch) error {
	if f.applyFn != nil {
		return f.applyFn(ctx, id, p)
	}
	return nil
}

type fakeSessions struct {
	issueFn func(email string) (string, time.Time, error)
}

func (f *fakeSessions) Issue(email string) (string, time.Time, error) {
	if f.issueFn != nil {
		return f.issueFn(email)
	}
	return "signed-token", time.Now().Add(7 * 24 * time.Hour), nil
}

func testConfig() config.Config {
	return config.Config{
		Env:            "test",
		MaxActiveUsers: 30,
		SessionSecret:  "test-secret",
		SessionTTLDays: 7,
	}
}

func newAuthRouter(users *fakeUsers) *gin.Engine {
	h := handlers.NewAuthHandler(users, users, &fakeSessions{}, testConfig(), nil)

	r := gin.New()
	r.POST("/auth/signup", h.SignUp)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/logout", h.Logout)

	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

func mustHash(t *testing.T, plain string) string {
	t.Helper()

	hash, err := security.HashPassword(plain)

	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	return hash
}

func TestLoginUnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	hash := mustHash(t, "right-password")

	users := &fakeUsers{
		getByEmailFn: func(_ context.Context, email string) (user.User, error) {
			if email == "known@x.com" {
				return user.User{ID: "u-1", Email: email, PasswordHash: hash, Active: true}, nil
			}
			return user.User{}, user.ErrNotFound
		},
	}

	r := newAuthRouter(users)

	unknown := doJSON(r, http.MethodPost, "/auth/login", `{"email":"ghost@x.com","password":"whatever1"}`)
	wrongPw := doJSON(r, http.MethodPost, "/auth/login", `{"email":"known@x.com","password":"wrong-password"}`)

	if unknown.Code != http.StatusUnauthorized || wrongPw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", unknown.Code, wrongPw.Code)
	}

	if !bytes.Equal(unknown.Body.Bytes(), wrongPw.Body.Bytes()) {
		t.Errorf("error payloads differ:\nunknown:  %s\nwrong pw: %s", unknown.Body.String(), wrongPw.Body.String())
	}
}

func TestLoginDisabledAccountFailsAfterPasswordCheck(t *testing.T) {
	hash := mustHash(t, "right-password")

	users := &fakeUsers{
		getByEmailFn: func(_ context.Context, email string) (user.User, error) {
			return user.User{ID: "u-1", Email: email, PasswordHash: hash, Active: false}, nil
		},
	}

	r := newAuthRouter(users)

	// wrong password on a disabled account must still look like bad credentials
	w := doJSON(r, http.MethodPost, "/auth/login", `{"email":"off@x.com","password":"wrong"}`)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password on disabled account, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/auth/login", `{"email":"off@x.com","password":"right-password"}`)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled account with correct password, got %d", w.Code)
	}

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Error.Code != "account_disabled" {
		t.Errorf("expected account_disabled, got %q", resp.Error.Code)
	}
}

func TestLoginSuccessRecordsActivityAndSetsCookies(t *testing.T) {
	hash := mustHash(t, "right-password")

	var recordedUA, recordedIP string

	users := &fakeUsers{
		getByEmailFn: func(_ context.Context, email string) (user.User, error) {
			return user.User{ID: "u-1", Email: email, PasswordHash: hash, Active: true, LoginCount: 4}, nil
		},
		recordLoginFn: func(_ context.Context, userID, userAgent, ip string) (user.User, error) {
			recordedUA = userAgent
			recordedIP = ip
			now := time.Now().UTC()
			return user.User{ID: userID, Email: "a@x.com", Active: true, LoginCount: 5, LastLoginAt: &now}, nil
		},
	}

	r := newAuthRouter(users)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"a@x.com","password":"right-password"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "drucker-test/1.0")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	if recordedUA != "drucker-test/1.0" {
		t.Errorf("expected user agent recorded, got %q", recordedUA)
	}

	if recordedIP != "203.0.113.9" {
		t.Errorf("expected first forwarded-for entry, got %q", recordedIP)
	}

	cookies := map[string]*http.Cookie{}

	for _, c := range w.Result().Cookies() {
		cookies[c.Name] = c
	}

	for _, name := range []string{"drucker_session", "drucker_auth"} {
		c, ok := cookies[name]

		if !ok {
			t.Fatalf("cookie %q not set", name)
		}

		if !c.HttpOnly {
			t.Errorf("cookie %q must be http-only", name)
		}

		if c.MaxAge <= 0 {
			t.Errorf("cookie %q must have a positive max-age, got %d", name, c.MaxAge)
		}
	}

	var resp struct {
		User struct {
			LoginCount int `json:"loginCount"`
		} `json:"user"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.User.LoginCount != 5 {
		t.Errorf("expected loginCount 5 after increment, got %d", resp.User.LoginCount)
	}

	if bytes.Contains(w.Body.Bytes(), []byte("passwordHash")) || bytes.Contains(w.Body.Bytes(), []byte(hash)) {
		t.Errorf("response leaked the password hash: %s", w.Body.String())
	}
}

func TestLoginMissingFieldsIsValidationError(t *testing.T) {
	r := newAuthRouter(&fakeUsers{})

	for _, body := range []string{`{}`, `{"email":"a@x.com"}`, `{"password":"secret1x"}`} {
		w := doJSON(r, http.MethodPost, "/auth/login", body)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestSignUpReturnsRemainingCapacity(t *testing.T) {
	users := &fakeUsers{
		createFn: func(_ context.Context, email, passwordHash, name string, maxActive int) (user.User, int, error) {
			if maxActive != 30 {
				t.Errorf("expected configured max 30, got %d", maxActive)
			}
			// 29 active accounts existed before this signup
			return user.User{ID: "u-30", Email: email, Name: name, Role: user.RoleUser, Active: true}, 30, nil
		},
	}

	r := newAuthRouter(users)

	w := doJSON(r, http.MethodPost, "/auth/signup", `{"email":"a@x.com","password":"secret1x"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		UserCount struct {
			Current   int `json:"current"`
			Max       int `json:"max"`
			Remaining int `json:"remaining"`
		} `json:"userCount"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.UserCount.Current != 30 || resp.UserCount.Max != 30 || resp.UserCount.Remaining != 0 {
		t.Errorf("unexpected userCount: %+v", resp.UserCount)
	}
}

func TestSignUpAcceptsShortPassword(t *testing.T) {
	var gotHash string

	users := &fakeUsers{
		createFn: func(_ context.Context, email, passwordHash, name string, _ int) (user.User, int, error) {
			gotHash = passwordHash
			return user.User{ID: "u-1", Email: email, Name: name, Role: user.RoleUser, Active: true}, 1, nil
		},
	}

	r := newAuthRouter(users)

	// the minimum length applies to reset approval only, not signup
	w := doJSON(r, http.MethodPost, "/auth/signup", `{"email":"a@x.com","password":"secret1"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}

	if gotHash == "" {
		t.Fatal("expected the password to be hashed and stored")
	}

	if err := security.CheckPassword(gotHash, "secret1"); err != nil {
		t.Errorf("stored hash does not verify against the signup password: %v", err)
	}
}

func TestSignUpAtCapacityFails(t *testing.T) {
	users := &fakeUsers{
		createFn: func(_ context.Context, _, _, _ string, _ int) (user.User, int, error) {
			return user.User{}, 0, user.ErrCapacityExceeded
		},
	}

	r := newAuthRouter(users)

	w := doJSON(r, http.MethodPost, "/auth/signup", `{"email":"late@x.com","password":"secret1x"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Error.Code != "capacity_exceeded" {
		t.Errorf("expected capacity_exceeded, got %q", resp.Error.Code)
	}
}

func TestSignUpDuplicateEmailConflicts(t *testing.T) {
	users := &fakeUsers{
		createFn: func(_ context.Context, _, _, _ string, _ int) (user.User, int, error) {
			return user.User{}, 0, user.ErrEmailAlreadyUsed
		},
	}

	r := newAuthRouter(users)

	w := doJSON(r, http.MethodPost, "/auth/signup", `{"email":"dup@x.com","password":"secret1x"}`)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestLogoutClearsBothCookies(t *testing.T) {
	r := newAuthRouter(&fakeUsers{})

	w := doJSON(r, http.MethodPost, "/auth/logout", ``)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	cleared := map[string]bool{}

	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}

	if !cleared["drucker_session"] || !cleared["drucker_auth"] {
		t.Errorf("expected both cookies cleared, got %v", cleared)
	}
}
