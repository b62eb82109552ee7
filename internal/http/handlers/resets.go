package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/druckerapp/drucker/internal/config"
	"github.com/druckerapp/drucker/internal/domain/reset"
	"github.com/druckerapp/drucker/internal/domain/user"
	"github.com/druckerapp/drucker/internal/http/middlewares"
	"github.com/druckerapp/drucker/internal/observability"
	"github.com/druckerapp/drucker/internal/security"
	"github.com/gin-gonic/gin"
)

type ResetStore interface {
	Create(ctx context.Context, userID string) (reset.Request, error)
	HasPending(ctx context.Context, userID string) (bool, error)
	Reject(ctx context.Context, id, resolvedBy string, note *string) (reset.Request, error)
	Approve(ctx context.Context, id, resolvedBy string, note *string, passwordHash string) (reset.Request, error)
	ListByStatus(ctx context.Context, status string) ([]reset.Request, error)
}

type ResetUserStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
}

type ResetsHandler struct {
	resets ResetStore
	users  ResetUserStore
	prom   *observability.Prom
}

func NewResetsHandler(resets ResetStore, users ResetUserStore, prom *observability.Prom) *ResetsHandler {
	return &ResetsHandler{
		resets: resets,
		users:  users,
		prom:   prom,
	}
}

type RequestResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResolveResetRequest struct {
	ID          string `json:"id" binding:"required"`
	Action      string `json:"action" binding:"required,oneof=approve reject"`
	Note        string `json:"note"`
	NewPassword string `json:"newPassword"`
}

func (h *ResetsHandler) count(op, result string) {
	if h.prom != nil {
		h.prom.ResetsTotal.WithLabelValues(op, result).Inc()
	}
}

// RequestReset opens a PENDING reset request for the account. A second call
// while one is pending is a no-op that still reports success.
func (h *ResetsHandler) RequestReset(ctx *gin.Context) {
	var req RequestResetRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	target, err := h.users.GetByEmail(cctx, req.Email)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.count("request", "not_found")
			RespondNotFound(ctx, "No account matches that email.")
			return
		}

		h.count("request", "error")
		slog.Default().ErrorContext(ctx.Request.Context(), "reset request lookup failed", "err", err)
		RespondInternal(ctx, "Could not submit reset request")
		return
	}

	pending, err := h.resets.HasPending(cctx, target.ID)

	if err != nil {
		h.count("request", "error")
		slog.Default().ErrorContext(ctx.Request.Context(), "pending reset check failed", "err", err)
		RespondInternal(ctx, "Could not submit reset request")
		return
	}

	if pending {
		h.count("request", "already_pending")
		ctx.JSON(http.StatusOK, gin.H{
			"message": "A reset request is already pending for this account.",
		})
		return
	}

	if _, err := h.resets.Create(cctx, target.ID); err != nil {
		h.count("request", "error")
		slog.Default().ErrorContext(ctx.Request.Context(), "reset request create failed", "err", err)
		RespondInternal(ctx, "Could not submit reset request")
		return
	}

	h.count("request", "ok")

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "Password reset request submitted. An admin will review it.",
	})
}

// ListResets serves the admin dashboard queue, PENDING by default.
func (h *ResetsHandler) ListResets(ctx *gin.Context) {
	status := strings.ToUpper(ctx.DefaultQuery("status", reset.StatusPending))

	switch status {
	case reset.StatusPending, reset.StatusApproved, reset.StatusRejected:
	default:
		RespondBadRequest(ctx, "invalid_request", "status must be one of PENDING, APPROVED, REJECTED", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	reqs, err := h.resets.ListByStatus(cctx, status)

	if err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "reset list failed", "err", err)
		RespondInternal(ctx, "Could not list reset requests")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"items": reqs,
		"count": len(reqs),
	})
}

// ResolveReset moves a PENDING request to APPROVED or REJECTED. Approval
// replaces the target user's password in the same store transaction and
// returns the plaintext exactly once; if the write fails the request stays
// PENDING and the approval can be retried.
func (h *ResetsHandler) ResolveReset(ctx *gin.Context) {
	caller, ok := middlewares.CallerFromContext(ctx)

	if !ok {
		RespondForbidden(ctx, "forbidden", "Admin role required")
		return
	}

	var req ResolveResetRequest

	if !BindJSON(ctx, &req) {
		return
	}

	var note *string

	if req.Note != "" {
		note = &req.Note
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	if req.Action == reset.ActionReject {
		resolved, err := h.resets.Reject(cctx, req.ID, caller.Email, note)

		if err != nil {
			h.respondResolveError(ctx, "reject", err)
			return
		}

		h.count("reject", "ok")

		ctx.JSON(http.StatusOK, gin.H{"request": resolved})
		return
	}

	// Approve: choose the replacement password before touching the request so
	// a weak choice leaves it PENDING.
	newPassword := strings.TrimSpace(req.NewPassword)

	if newPassword == "" {
		generated, err := security.GenerateTempPassword()

		if err != nil {
			h.count("approve", "error")
			RespondInternal(ctx, "Could not resolve reset request")
			return
		}

		newPassword = generated
	}

	if len(newPassword) < security.MinPasswordLength {
		h.count("approve", "weak_password")
		RespondBadRequest(ctx, "weak_password", "New password must be at least 8 characters.", nil)
		return
	}

	hash, err := security.HashPassword(newPassword)

	if err != nil {
		h.count("approve", "error")
		RespondInternal(ctx, "Could not resolve reset request")
		return
	}

	resolved, err := h.resets.Approve(cctx, req.ID, caller.Email, note, hash)

	if err != nil {
		h.respondResolveError(ctx, "approve", err)
		return
	}

	h.count("approve", "ok")

	// The plaintext appears here and nowhere else: not persisted, not logged.
	ctx.JSON(http.StatusOK, gin.H{
		"request":           resolved,
		"temporaryPassword": newPassword,
	})
}

func (h *ResetsHandler) respondResolveError(ctx *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, reset.ErrNotFound):
		h.count(op, "not_found")
		RespondNotFound(ctx, "Reset request not found")
	case errors.Is(err, reset.ErrAlreadyResolved):
		h.count(op, "already_resolved")
		RespondBadRequest(ctx, "already_resolved", "This reset request has already been resolved.", nil)
	default:
		h.count(op, "error")
		slog.Default().ErrorContext(ctx.Request.Context(), "reset resolution failed", "err", err)
		RespondInternal(ctx, "Could not resolve reset request")
	}
}
