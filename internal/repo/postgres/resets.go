package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/druckerapp/drucker/internal/domain/reset"
	"github.com/druckerapp/drucker/internal/domain/user"
	"github.com/druckerapp/drucker/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const resetColumns = `r.id, r.user_id, u.email, r.status, r.resolved_by, r.note, r.created_at, r.updated_at`

type ResetsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewResetsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ResetsRepo {
	return &ResetsRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *ResetsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanReset(row pgx.Row) (reset.Request, error) {
	var req reset.Request

	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.UserEmail,
		&req.Status,
		&req.ResolvedBy,
		&req.Note,
		&req.CreatedAt,
		&req.UpdatedAt,
	)

	return req, err
}

// Create opens a new PENDING request for the user.
func (r *ResetsRepo) Create(ctx context.Context, userID string) (req reset.Request, err error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	err = r.observe("resets.create", func() error {
		_, e := r.pool.Exec(ctx,
			`INSERT INTO password_reset_requests (id, user_id, status, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			id, userID, reset.StatusPending, now, now,
		)
		return e
	})

	if err != nil {
		return
	}

	return r.GetByID(ctx, id)
}

func (r *ResetsRepo) GetByID(ctx context.Context, id string) (req reset.Request, err error) {
	err = r.observe("resets.get_by_id", func() error {
		var e error
		req, e = scanReset(r.pool.QueryRow(ctx,
			`SELECT `+resetColumns+`
			 FROM password_reset_requests r
			 JOIN users u ON u.id = r.user_id
			 WHERE r.id = $1`, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return reset.Request{}, reset.ErrNotFound
		}

		return reset.Request{}, err
	}
	return req, nil
}

// HasPending reports whether the user already has an unresolved request.
func (r *ResetsRepo) HasPending(ctx context.Context, userID string) (bool, error) {
	var exists bool

	err := r.observe("resets.has_pending", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT EXISTS(
				SELECT 1 FROM password_reset_requests
				WHERE user_id = $1 AND status = $2
			)`, userID, reset.StatusPending).Scan(&exists)
	})

	return exists, err
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// flipPending moves a PENDING request to the given status. The status guard
// in the WHERE clause makes a second resolution report pgx.ErrNoRows, which
// the callers map to ErrAlreadyResolved or ErrNotFound.
func (r *ResetsRepo) flipPending(ctx context.Context, q rowQuerier, id, status, resolvedBy string, note *string) (reset.Request, error) {
	return scanReset(q.QueryRow(ctx,
		`WITH resolved AS (
			UPDATE password_reset_requests
			SET status = $2, resolved_by = $3, note = $4, updated_at = $5
			WHERE id = $1 AND status = $6
			RETURNING *
		)
		SELECT `+resetColumns+`
		FROM resolved r
		JOIN users u ON u.id = r.user_id`,
		id, status, resolvedBy, note, time.Now().UTC(), reset.StatusPending))
}

func (r *ResetsRepo) Reject(ctx context.Context, id, resolvedBy string, note *string) (req reset.Request, err error) {
	err = r.observe("resets.reject", func() error {
		var e error
		req, e = r.flipPending(ctx, r.pool, id, reset.StatusRejected, resolvedBy, note)
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish missing from already-resolved.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return reset.Request{}, getErr
			}

			return reset.Request{}, reset.ErrAlreadyResolved
		}

		return reset.Request{}, err
	}
	return req, nil
}

// Approve flips a PENDING request to APPROVED and replaces the target user's
// password hash in the same transaction. A failed password write rolls the
// status flip back, so the request stays PENDING and the approval can be
// retried.
func (r *ResetsRepo) Approve(ctx context.Context, id, resolvedBy string, note *string, passwordHash string) (req reset.Request, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})

	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = r.observe("resets.approve", func() error {
		var e error
		req, e = r.flipPending(ctx, tx, id, reset.StatusApproved, resolvedBy, note)
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return reset.Request{}, getErr
			}

			return reset.Request{}, reset.ErrAlreadyResolved
		}

		return reset.Request{}, err
	}

	err = r.observe("resets.approve.password", func() error {
		tag, e := tx.Exec(ctx,
			`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
			req.UserID, passwordHash, time.Now().UTC())

		if e != nil {
			return e
		}

		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}

		return nil
	})

	if err != nil {
		return reset.Request{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return reset.Request{}, err
	}

	return req, nil
}

func (r *ResetsRepo) ListByStatus(ctx context.Context, status string) (reqs []reset.Request, err error) {
	var rows pgx.Rows

	err = r.observe("resets.list_by_status", func() error {
		var e error
		rows, e = r.pool.Query(ctx,
			`SELECT `+resetColumns+`
			 FROM password_reset_requests r
			 JOIN users u ON u.id = r.user_id
			 WHERE r.status = $1
			 ORDER BY r.created_at ASC, r.id ASC`, status)
		return e
	})

	if err != nil {
		return
	}

	defer rows.Close()

	reqs = make([]reset.Request, 0)

	for rows.Next() {
		var req reset.Request

		req, err = scanReset(rows)

		if err != nil {
			return
		}

		reqs = append(reqs, req)
	}

	err = rows.Err()

	return
}
