package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/druckerapp/drucker/internal/config"
	"github.com/druckerapp/drucker/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type AdminUserStore interface {
	List(ctx context.Context) ([]user.User, error)
	CountActiveUsers(ctx context.Context) (int, error)
}

// AdminUsersHandler serves the dashboard's user roster along with the
// capacity gauge.
type AdminUsersHandler struct {
	users AdminUserStore
	cfg   config.Config
}

func NewAdminUsersHandler(users AdminUserStore, cfg config.Config) *AdminUsersHandler {
	return &AdminUsersHandler{
		users: users,
		cfg:   cfg,
	}
}

func (h *AdminUsersHandler) ListUsers(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	all, err := h.users.List(cctx)

	if err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "user list failed", "err", err)
		RespondInternal(ctx, "Could not list users")
		return
	}

	active, err := h.users.CountActiveUsers(cctx)

	if err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "active user count failed", "err", err)
		RespondInternal(ctx, "Could not list users")
		return
	}

	items := make([]user.Public, 0, len(all))

	for _, u := range all {
		items = append(items, u.Public())
	}

	ctx.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
		"userCount": gin.H{
			"current":   active,
			"max":       h.cfg.MaxActiveUsers,
			"remaining": h.cfg.MaxActiveUsers - active,
		},
	})
}
