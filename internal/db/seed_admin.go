package db

import (
	"context"
	"errors"
	"time"

	"github.com/druckerapp/drucker/internal/config"
	"github.com/druckerapp/drucker/internal/domain/user"
	"github.com/druckerapp/drucker/internal/security"
	"github.com/google/uuid"
)

// AdminStore is the slice of the users repo the bootstrapper needs.
type AdminStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	Insert(ctx context.Context, u user.User) error
	Apply(ctx context.Context, id string, p user.Patch) error
}

// EnsureSuperAdmin reconciles the designated super-admin account toward
// (role=MASTER, active, password matching configuration). It runs before
// every login and every admin-dashboard request, so the converged path must
// stay at one lookup plus one hash comparison with zero writes.
func EnsureSuperAdmin(ctx context.Context, store AdminStore, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	existing, err := store.GetByEmail(ctx, cfg.AdminEmail)

	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			return err
		}

		hash, hashErr := security.HashPassword(cfg.AdminPassword)

		if hashErr != nil {
			return hashErr
		}

		now := time.Now().UTC()

		return store.Insert(ctx, user.User{
			ID:           uuid.NewString(),
			Email:        cfg.AdminEmail,
			PasswordHash: hash,
			Name:         cfg.AdminName,
			Role:         user.RoleMaster,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	var patch user.Patch

	if existing.Role != user.RoleMaster {
		role := user.RoleMaster
		patch.Role = &role
	}

	if !existing.Active {
		active := true
		patch.Active = &active
	}

	if security.CheckPassword(existing.PasswordHash, cfg.AdminPassword) != nil {
		hash, hashErr := security.HashPassword(cfg.AdminPassword)

		if hashErr != nil {
			return hashErr
		}

		patch.PasswordHash = &hash
	}

	if patch.Empty() {
		return nil
	}

	return store.Apply(ctx, existing.ID, patch)
}
