package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/txcore/tx/internal/models"
	"github.com/txcore/tx/internal/txerr"
)

// ClaimRepo maps the claims table. Exactly one active claim per task is
// enforced by idx_claims_one_active_per_task, a partial unique index on
// task_id WHERE status='active' (001_core_schema.sql) -- the database, not
// application code, is the arbiter of who wins a race (spec.md §4.H).
type ClaimRepo struct{}

func NewClaimRepo() *ClaimRepo { return &ClaimRepo{} }

// Insert attempts to create a new active claim. A UNIQUE constraint
// violation against idx_claims_one_active_per_task surfaces as
// txerr.AlreadyClaimed so the claim service never has to pre-check.
func (r *ClaimRepo) Insert(ctx context.Context, q Queryer, c *models.Claim) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO claims (task_id, worker_id, claimed_at, lease_expires_at, renewed_count, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.TaskID, c.WorkerID, formatTime(c.ClaimedAt), formatTime(c.LeaseExpiresAt), c.RenewedCount, string(c.Status))
	if err != nil {
		if isUniqueViolation(err) {
			winner := ""
			if active, aerr := r.ActiveForTask(ctx, q, c.TaskID); aerr == nil && active != nil {
				winner = active.WorkerID
			}
			return 0, txerr.AlreadyClaimed(c.TaskID, winner)
		}
		return 0, dbErr("insert claim", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, dbErr("insert claim last id", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE")
}

func (r *ClaimRepo) Renew(ctx context.Context, q Queryer, id int64, leaseExpiresAt string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE claims SET lease_expires_at=?, renewed_count=renewed_count+1 WHERE id=? AND status='active'`,
		leaseExpiresAt, id)
	if err != nil {
		return dbErr("renew claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("renew claim rows affected", err)
	}
	if n == 0 {
		return txerr.ClaimNotOwned("", "")
	}
	return nil
}

func (r *ClaimRepo) SetStatus(ctx context.Context, q Queryer, id int64, status models.ClaimStatus) error {
	_, err := q.ExecContext(ctx, `UPDATE claims SET status=? WHERE id=?`, string(status), id)
	return dbErr("set claim status", err)
}

const claimColumns = `id, task_id, worker_id, claimed_at, lease_expires_at, renewed_count, status`

func (r *ClaimRepo) scan(row interface{ Scan(dest ...any) error }) (*models.Claim, error) {
	var c models.Claim
	var claimedAt, leaseExpiresAt, status string

	if err := row.Scan(&c.ID, &c.TaskID, &c.WorkerID, &claimedAt, &leaseExpiresAt, &c.RenewedCount, &status); err != nil {
		return nil, err
	}
	c.Status = models.ClaimStatus(status)

	var err error
	if c.ClaimedAt, err = parseTime(claimedAt); err != nil {
		return nil, err
	}
	if c.LeaseExpiresAt, err = parseTime(leaseExpiresAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ClaimRepo) Get(ctx context.Context, q Queryer, id int64) (*models.Claim, error) {
	row := q.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id=?`, id)
	c, err := r.scan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dbErr("get claim", err)
	}
	return c, nil
}

// ActiveForTask returns the single active claim for a task, if any.
func (r *ClaimRepo) ActiveForTask(ctx context.Context, q Queryer, taskID string) (*models.Claim, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE task_id=? AND status='active'`, taskID)
	c, err := r.scan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dbErr("get active claim", err)
	}
	return c, nil
}

// ListActiveExpiredBefore returns active claims whose lease has expired as
// of the given timestamp -- the heartbeat reaper's raw material.
func (r *ClaimRepo) ListActiveExpiredBefore(ctx context.Context, q Queryer, cutoff string) ([]*models.Claim, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE status='active' AND lease_expires_at < ?`, cutoff)
	if err != nil {
		return nil, dbErr("list expired claims", err)
	}
	defer rows.Close()

	var out []*models.Claim
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan expired claim", err)
		}
		out = append(out, c)
	}
	return out, dbErr("list expired claims rows", rows.Err())
}

func (r *ClaimRepo) ListByWorker(ctx context.Context, q Queryer, workerID string) ([]*models.Claim, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE worker_id=? ORDER BY claimed_at DESC`, workerID)
	if err != nil {
		return nil, dbErr("list claims by worker", err)
	}
	defer rows.Close()

	var out []*models.Claim
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, dbErr("scan claim", err)
		}
		out = append(out, c)
	}
	return out, dbErr("list claims by worker rows", rows.Err())
}
