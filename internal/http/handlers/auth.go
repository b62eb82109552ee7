package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/druckerapp/drucker/internal/config"
	"github.com/druckerapp/drucker/internal/db"
	"github.com/druckerapp/drucker/internal/domain/user"
	"github.com/druckerapp/drucker/internal/http/middlewares"
	"github.com/druckerapp/drucker/internal/observability"
	"github.com/druckerapp/drucker/internal/security"
	"github.com/gin-gonic/gin"
)

// invalidCredentialsMessage must be byte-identical for unknown emails and
// wrong passwords so the endpoint cannot be used to enumerate accounts.
const invalidCredentialsMessage = "Email or password is incorrect."

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	CreateWithinCap(ctx context.Context, email, passwordHash, name string, maxActive int) (user.User, int, error)
	RecordLogin(ctx context.Context, userID, userAgent, ip string) (user.User, error)
}

type SessionIssuer interface {
	Issue(email string) (token string, expiresAt time.Time, err error)
}

type AuthHandler struct {
	users    UserStore
	admins   db.AdminStore
	sessions SessionIssuer
	cfg      config.Config
	prom     *observability.Prom
}

func NewAuthHandler(users UserStore, admins db.AdminStore, sessions SessionIssuer, cfg config.Config, prom *observability.Prom) *AuthHandler {
	return &AuthHandler{
		users:    users,
		admins:   admins,
		sessions: sessions,
		cfg:      cfg,
		prom:     prom,
	}
}

// Signup does not enforce a password floor; the minimum length applies only
// when an admin sets a replacement password during reset approval.
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) countSignup(result string) {
	if h.prom != nil {
		h.prom.SignupsTotal.WithLabelValues(result).Inc()
	}
}

func (h *AuthHandler) countLogin(result string) {
	if h.prom != nil {
		h.prom.LoginsTotal.WithLabelValues(result).Inc()
	}
}

func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		h.countSignup("error")
		RespondInternal(ctx, "Could not create user")
		return
	}

	u, current, err := h.users.CreateWithinCap(cctx, req.Email, hash, req.Name, h.cfg.MaxActiveUsers)

	if err != nil {
		switch {
		case errors.Is(err, user.ErrCapacityExceeded):
			h.countSignup("capacity_exceeded")
			RespondBadRequest(ctx, "capacity_exceeded", "The maximum number of active accounts has been reached.", nil)
		case errors.Is(err, user.ErrEmailAlreadyUsed):
			h.countSignup("email_taken")
			RespondConflict(ctx, "email_taken", "Email is already in use.")
		default:
			h.countSignup("error")
			slog.Default().ErrorContext(ctx.Request.Context(), "signup failed", "err", err)
			RespondInternal(ctx, "Could not create user")
		}
		return
	}

	h.countSignup("ok")

	ctx.JSON(http.StatusCreated, gin.H{
		"user": u.Public(),
		"userCount": gin.H{
			"current":   current,
			"max":       h.cfg.MaxActiveUsers,
			"remaining": h.cfg.MaxActiveUsers - current,
		},
	})
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	// Guarantee a resolvable admin identity before any lookup.
	if err := db.EnsureSuperAdmin(cctx, h.admins, h.cfg); err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "super-admin reconciliation failed", "err", err)
	}

	foundUser, err := h.users.GetByEmail(cctx, req.Email)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.countLogin("invalid_credentials")
			RespondUnAuthorized(ctx, "invalid_credentials", invalidCredentialsMessage)
			return
		}

		h.countLogin("error")
		slog.Default().ErrorContext(ctx.Request.Context(), "login lookup failed", "err", err)
		RespondInternal(ctx, "Could not log in")
		return
	}

	err = security.CheckPassword(foundUser.PasswordHash, req.Password)

	if err != nil {
		h.countLogin("invalid_credentials")
		RespondUnAuthorized(ctx, "invalid_credentials", invalidCredentialsMessage)
		return
	}

	// Checked only after the password matched, so a disabled account is
	// indistinguishable from a wrong password to anyone who lacks it.
	if !foundUser.Active {
		h.countLogin("disabled")
		RespondForbidden(ctx, "account_disabled", "Account is disabled.")
		return
	}

	updated, err := h.users.RecordLogin(cctx, foundUser.ID, ctx.Request.UserAgent(), loginClientIP(ctx))

	if err != nil {
		h.countLogin("error")
		slog.Default().ErrorContext(ctx.Request.Context(), "login audit write failed", "err", err)
		RespondInternal(ctx, "Could not log in")
		return
	}

	token, expiresAt, err := h.sessions.Issue(updated.Email)

	if err != nil {
		h.countLogin("error")
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.setSessionCookies(ctx, token, expiresAt)

	h.countLogin("ok")

	ctx.JSON(http.StatusOK, gin.H{
		"user": updated.Public(),
	})
}

func (h *AuthHandler) Logout(ctx *gin.Context) {
	h.clearSessionCookies(ctx)
	ctx.Status(http.StatusNoContent)
}

// loginClientIP prefers the first entry of X-Forwarded-For, the address the
// original client presented to the outermost proxy.
func loginClientIP(ctx *gin.Context) string {
	fwd := ctx.GetHeader("X-Forwarded-For")

	if fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")

		first = strings.TrimSpace(first)

		if first != "" {
			return first
		}
	}

	return ctx.ClientIP()
}

func (h *AuthHandler) setSessionCookies(ctx *gin.Context, token string, expiresAt time.Time) {
	secure := h.cfg.Env == "prod"

	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteLaxMode)

	ctx.SetCookie(
		middlewares.SessionCookie,
		token,
		maxAge,
		"/",
		"",
		secure,
		true, // HttpOnly.
	)
	ctx.SetCookie(
		middlewares.AuthFlagCookie,
		"1",
		maxAge,
		"/",
		"",
		secure,
		true,
	)
}

func (h *AuthHandler) clearSessionCookies(ctx *gin.Context) {
	secure := h.cfg.Env == "prod"
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(middlewares.SessionCookie, "", -1, "/", "", secure, true)
	ctx.SetCookie(middlewares.AuthFlagCookie, "", -1, "/", "", secure, true)
}
