package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/druckerapp/drucker/internal/domain/reset"
	"github.com/druckerapp/drucker/internal/domain/user"
	"github.com/druckerapp/drucker/internal/repo/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// These tests need a migrated database. They are skipped unless TEST_DB_DSN
// points at one.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)

	if err != nil {
		t.Fatalf("failed to create pgx pool: %v", err)
	}

	t.Cleanup(pool.Close)

	return pool
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	// users cascades into login_activities and password_reset_requests
	_, err := pool.Exec(context.Background(), `TRUNCATE users CASCADE`)

	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func TestCreateWithinCapIntegration(t *testing.T) {
	pool := setupPool(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	repo := postgres.NewUsersRepo(pool, nil)
	ctx := context.Background()

	first, current, err := repo.CreateWithinCap(ctx, "one@example.com", "hash-1", "One", 2)

	if err != nil {
		t.Fatalf("first signup failed: %v", err)
	}

	if current != 1 {
		t.Fatalf("current = %d, want 1", current)
	}

	if first.Role != user.RoleUser || !first.Active {
		t.Fatalf("unexpected new user state: role=%s active=%v", first.Role, first.Active)
	}

	// duplicate email maps to the sentinel
	_, _, err = repo.CreateWithinCap(ctx, "one@example.com", "hash-x", "Dup", 2)

	if !errors.Is(err, user.ErrEmailAlreadyUsed) {
		t.Fatalf("duplicate signup err = %v, want ErrEmailAlreadyUsed", err)
	}

	_, current, err = repo.CreateWithinCap(ctx, "two@example.com", "hash-2", "Two", 2)

	if err != nil {
		t.Fatalf("second signup failed: %v", err)
	}

	if current != 2 {
		t.Fatalf("current = %d, want 2", current)
	}

	// third signup hits the ceiling and leaves no row behind
	_, _, err = repo.CreateWithinCap(ctx, "three@example.com", "hash-3", "Three", 2)

	if !errors.Is(err, user.ErrCapacityExceeded) {
		t.Fatalf("over-cap signup err = %v, want ErrCapacityExceeded", err)
	}

	total, err := repo.CountActiveUsers(ctx)

	if err != nil {
		t.Fatalf("count failed: %v", err)
	}

	if total != 2 {
		t.Fatalf("active users = %d, want 2", total)
	}
}

func TestRecordLoginIntegration(t *testing.T) {
	pool := setupPool(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	repo := postgres.NewUsersRepo(pool, nil)
	ctx := context.Background()

	u, _, err := repo.CreateWithinCap(ctx, "sam@example.com", "hash", "Sam", 30)

	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	updated, err := repo.RecordLogin(ctx, u.ID, "test-agent", "203.0.113.9")

	if err != nil {
		t.Fatalf("record login failed: %v", err)
	}

	if updated.LoginCount != 1 {
		t.Fatalf("login count = %d, want 1", updated.LoginCount)
	}

	if updated.LastLoginAt == nil {
		t.Fatal("last login not stamped")
	}

	var audits int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_activities WHERE user_id = $1 AND ip = $2`,
		u.ID, "203.0.113.9").Scan(&audits)

	if err != nil {
		t.Fatalf("failed to query login_activities: %v", err)
	}

	if audits != 1 {
		t.Fatalf("audit rows = %d, want 1", audits)
	}
}

func TestResolveOnceIntegration(t *testing.T) {
	pool := setupPool(t)
	resetDB(t, pool)
	defer resetDB(t, pool)

	users := postgres.NewUsersRepo(pool, nil)
	resets := postgres.NewResetsRepo(pool, nil)
	ctx := context.Background()

	u, _, err := users.CreateWithinCap(ctx, "sam@example.com", "hash", "Sam", 30)

	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	req, err := resets.Create(ctx, u.ID)

	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}

	if req.Status != reset.StatusPending {
		t.Fatalf("status = %s, want PENDING", req.Status)
	}

	pending, err := resets.HasPending(ctx, u.ID)

	if err != nil || !pending {
		t.Fatalf("HasPending = (%v, %v), want (true, nil)", pending, err)
	}

	resolver := "admin@example.com"
	note := "verified over the phone"

	resolved, err := resets.Approve(ctx, req.ID, resolver, &note, "new-hash")

	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	if resolved.Status != reset.StatusApproved || resolved.ResolvedBy == nil || *resolved.ResolvedBy != resolver {
		t.Fatalf("unexpected resolved request: %+v", resolved)
	}

	if resolved.UserEmail != u.Email {
		t.Fatalf("user email = %q, want %q", resolved.UserEmail, u.Email)
	}

	// the password hash lands in the same transaction as the status flip
	var storedHash string
	err = pool.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE id = $1`, u.ID).Scan(&storedHash)

	if err != nil {
		t.Fatalf("failed to query user: %v", err)
	}

	if storedHash != "new-hash" {
		t.Fatalf("password hash = %q, want %q", storedHash, "new-hash")
	}

	// a second resolution of the same request must be rejected
	_, err = resets.Approve(ctx, req.ID, resolver, nil, "other-hash")

	if !errors.Is(err, reset.ErrAlreadyResolved) {
		t.Fatalf("second approve err = %v, want ErrAlreadyResolved", err)
	}

	_, err = resets.Reject(ctx, req.ID, resolver, nil)

	if !errors.Is(err, reset.ErrAlreadyResolved) {
		t.Fatalf("reject after approve err = %v, want ErrAlreadyResolved", err)
	}
}
