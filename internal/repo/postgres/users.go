package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/druckerapp/drucker/internal/domain/activity"
	"github.com/druckerapp/drucker/internal/domain/user"
	"github.com/druckerapp/drucker/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// capacityLockKey serializes the signup count-then-insert so the active-user
// ceiling is a hard cap rather than a best-effort one.
const capacityLockKey = 420301

const userColumns = `id, email, password_hash, name, role, active, login_count, last_login_at, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Role,
		&u.Active,
		&u.LoginCount,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (u user.User, err error) {
	err = r.observe("users.get_by_email", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (u user.User, err error) {
	err = r.observe("users.get_by_id", func() error {
		var e error
		u, e = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}
	return u, nil
}

// Insert stores a user as-is, bypassing the capacity gate. Only the
// super-admin bootstrapper uses this path.
func (r *UsersRepo) Insert(ctx context.Context, u user.User) error {
	err := r.observe("users.insert", func() error {
		_, e := r.pool.Exec(ctx,
			`INSERT INTO users (`+userColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.Active, u.LoginCount, u.LastLoginAt, u.CreatedAt, u.UpdatedAt,
		)
		return e
	})

	if isUniqueViolation(err, "users_email_key") {
		return user.ErrEmailAlreadyUsed
	}

	return err
}

// CreateWithinCap counts active role=USER accounts and inserts the new one in
// a single transaction, guarded by an advisory lock so concurrent signups
// cannot overshoot the ceiling. Returns the count after the insert.
func (r *UsersRepo) CreateWithinCap(ctx context.Context, email, passwordHash, name string, maxActive int) (u user.User, current int, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})

	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = r.observe("users.create_within_cap.lock", func() error {
		_, e := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, capacityLockKey)
		return e
	})

	if err != nil {
		return
	}

	var active int

	err = r.observe("users.create_within_cap.count", func() error {
		return tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM users WHERE role = $1 AND active`, user.RoleUser).Scan(&active)
	})

	if err != nil {
		return
	}

	if active >= maxActive {
		err = user.ErrCapacityExceeded
		return
	}

	now := time.Now().UTC()

	u = user.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		Role:         user.RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = r.observe("users.create_within_cap.insert", func() error {
		_, e := tx.Exec(ctx,
			`INSERT INTO users (`+userColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.Active, u.LoginCount, u.LastLoginAt, u.CreatedAt, u.UpdatedAt,
		)
		return e
	})

	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			err = user.ErrEmailAlreadyUsed
		}
		u = user.User{}
		return
	}

	err = tx.Commit(ctx)

	if err != nil {
		u = user.User{}
		return
	}

	current = active + 1
	return
}

func (r *UsersRepo) CountActiveUsers(ctx context.Context) (int, error) {
	op := "users.count_active"
	var total int
	err := r.observe(op, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM users WHERE role = $1 AND active`, user.RoleUser).Scan(&total)
	})
	return total, err
}

// Apply writes a reconciliation patch; nil fields are left untouched.
// Callers are expected to skip empty patches entirely.
func (r *UsersRepo) Apply(ctx context.Context, id string, p user.Patch) error {
	if p.Empty() {
		return nil
	}

	return r.observe("users.apply_patch", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users SET
				role          = COALESCE($2, role),
				active        = COALESCE($3, active),
				password_hash = COALESCE($4, password_hash),
				updated_at    = $5
			 WHERE id = $1`,
			id, p.Role, p.Active, p.PasswordHash, time.Now().UTC(),
		)

		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}

		return nil
	})
}

// RecordLogin inserts the audit row and bumps the user's counters in one
// transaction. Either both land or neither does.
func (r *UsersRepo) RecordLogin(ctx context.Context, userID, userAgent, ip string) (u user.User, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})

	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()

	a := activity.LoginActivity{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserAgent: userAgent,
		IP:        ip,
		CreatedAt: now,
	}

	err = r.observe("users.record_login.activity", func() error {
		_, e := tx.Exec(ctx,
			`INSERT INTO login_activities (id, user_id, user_agent, ip, created_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			a.ID, a.UserID, a.UserAgent, a.IP, a.CreatedAt,
		)
		return e
	})

	if err != nil {
		return
	}

	err = r.observe("users.record_login.bump", func() error {
		var e error
		u, e = scanUser(tx.QueryRow(ctx,
			`UPDATE users
			 SET login_count = login_count + 1, last_login_at = $2, updated_at = $2
			 WHERE id = $1
			 RETURNING `+userColumns, userID, now))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = user.ErrNotFound
		}
		return
	}

	err = tx.Commit(ctx)

	if err != nil {
		u = user.User{}
		return
	}

	return
}

func (r *UsersRepo) List(ctx context.Context) (users []user.User, err error) {
	var rows pgx.Rows

	err = r.observe("users.list", func() error {
		var e error
		rows, e = r.pool.Query(ctx,
			`SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
		return e
	})

	if err != nil {
		return
	}

	defer rows.Close()

	users = make([]user.User, 0)

	for rows.Next() {
		var u user.User

		u, err = scanUser(rows)

		if err != nil {
			return
		}

		users = append(users, u)
	}

	err = rows.Err()

	return
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
