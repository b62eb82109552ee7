package middlewares_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/druckerapp/drucker/internal/config"
	"github.com/druckerapp/drucker/internal/domain/user"
	"github.com/druckerapp/drucker/internal/http/middlewares"
	"github.com/druckerapp/drucker/internal/session"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCallerStore struct {
	users map[string]user.User
}

func (f *fakeCallerStore) GetByEmail(_ context.Context, email string) (user.User, error) {
	u, ok := f.users[email]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (f *fakeCallerStore) Insert(_ context.Context, u user.User) error {
	f.users[u.Email] = u
	return nil
}

func (f *fakeCallerStore) Apply(_ context.Context, _ string, _ user.Patch) error {
	return errors.New("not implemented")
}

func adminRouter(t *testing.T, store *fakeCallerStore) (*gin.Engine, *session.Manager) {
	t.Helper()

	sessions := session.NewManager("test-secret", time.Hour)
	mw := middlewares.NewSessionMiddleware(sessions, store, store, config.Config{Env: "test"})

	r := gin.New()
	r.GET("/admin/ping", mw.RequireSession(), mw.RequireAdmin(), func(c *gin.Context) {
		caller, _ := middlewares.CallerFromContext(c)
		c.JSON(http.StatusOK, gin.H{"email": caller.Email})
	})

	return r, sessions
}

func getWithSession(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)

	if token != "" {
		req.AddCookie(&http.Cookie{Name: middlewares.SessionCookie, Value: token})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

func TestRequireSessionWithoutCookieIs401(t *testing.T) {
	r, _ := adminRouter(t, &fakeCallerStore{users: map[string]user.User{}})

	if w := getWithSession(r, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without cookie, got %d", w.Code)
	}

	if w := getWithSession(r, "tampered-token"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with invalid token, got %d", w.Code)
	}
}

func TestRequireAdminRejectsRegularAndDisabledCallers(t *testing.T) {
	store := &fakeCallerStore{users: map[string]user.User{
		"user@x.com":     {ID: "u-1", Email: "user@x.com", Role: user.RoleUser, Active: true},
		"inactive@x.com": {ID: "u-2", Email: "inactive@x.com", Role: user.RoleAdmin, Active: false},
	}}

	r, sessions := adminRouter(t, store)

	token, _, err := sessions.Issue("user@x.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if w := getWithSession(r, token); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for USER role, got %d", w.Code)
	}

	token, _, err = sessions.Issue("inactive@x.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if w := getWithSession(r, token); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for disabled admin, got %d", w.Code)
	}
}

func TestRequireAdminAllowsActiveAdminAndMaster(t *testing.T) {
	store := &fakeCallerStore{users: map[string]user.User{
		"admin@x.com": {ID: "u-1", Email: "admin@x.com", Role: user.RoleAdmin, Active: true},
		"root@x.com":  {ID: "u-2", Email: "root@x.com", Role: user.RoleMaster, Active: true},
	}}

	r, sessions := adminRouter(t, store)

	for _, email := range []string{"admin@x.com", "root@x.com"} {
		token, _, err := sessions.Issue(email)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}

		if w := getWithSession(r, token); w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d body=%s", email, w.Code, w.Body.String())
		}
	}
}
