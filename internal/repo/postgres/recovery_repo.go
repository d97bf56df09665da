package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RecoveryRepo counts consecutive organization-recovery redirects per
// session+path so redirect loops stay bounded. The counter lives storage-side
// with an expiry window instead of riding on navigation state.
type RecoveryRepo struct {
	pool   *pgxpool.Pool
	window time.Duration
}

func NewRecoveryRepo(pool *pgxpool.Pool, window time.Duration) *RecoveryRepo {
	return &RecoveryRepo{pool: pool, window: window}
}

// Bump atomically increments and returns the attempt count for the
// session+path pair within the current window. A count past the configured
// maximum means the recovery loop must be treated as fatal.
func (r *RecoveryRepo) Bump(ctx context.Context, sessionID, path string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	hasher := sha256.New()
	hasher.Write([]byte(sessionID + "|" + path))
	key := fmt.Sprintf("%x", hasher.Sum(nil))

	start, resetBefore, expires := attemptWindow(time.Now(), r.window)

	// window_start holds the time of the bump that opened the window and
	// resets only once it falls behind now minus the window.
	const q = `
		INSERT INTO recovery_attempts (key, count, window_start, expires_at)
		VALUES ($1, 1, $2, $4)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE
				WHEN recovery_attempts.window_start < $3 THEN 1
				ELSE recovery_attempts.count + 1
			END,
			window_start = CASE
				WHEN recovery_attempts.window_start < $3 THEN $2
				ELSE recovery_attempts.window_start
			END,
			expires_at = $4
		RETURNING count`

	var count int
	if err := r.pool.QueryRow(ctx, q, key, start, resetBefore, expires).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// attemptWindow computes the UPSERT parameters for one bump at now: the
// window_start value stored on insert or reset, the cutoff a stored
// window_start must fall behind before the count resets, and the row expiry.
func attemptWindow(now time.Time, window time.Duration) (start, resetBefore, expires time.Time) {
	return now, now.Add(-window), now.Add(window)
}

// Clear resets the counter after a successful evaluation.
func (r *RecoveryRepo) Clear(ctx context.Context, sessionID, path string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	hasher := sha256.New()
	hasher.Write([]byte(sessionID + "|" + path))
	key := fmt.Sprintf("%x", hasher.Sum(nil))

	_, err := r.pool.Exec(ctx, `DELETE FROM recovery_attempts WHERE key=$1`, key)
	return err
}
