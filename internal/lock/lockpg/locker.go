package lockpg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/v0gel/mason/internal/lock"
)

var _ lock.Locker = (*Locker)(nil)

// Locker implements lock.Locker on a Postgres table. The upsert either
// inserts a fresh row or reclaims an expired one in a single statement, so
// acquisition is atomic without advisory locks or a background sweeper.
type Locker struct {
	db *pgxpool.Pool // required
}

func New(db *pgxpool.Pool) *Locker {
	return &Locker{db: db}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	query := `
		INSERT INTO locks (key, acquired_at, expires_at)
		VALUES ($1, now(), now() + $2)
		ON CONFLICT (key) DO UPDATE
		SET acquired_at = now(), expires_at = now() + $2
		WHERE locks.expires_at <= now()
		RETURNING key
	`
	args := []any{key, ttl}

	rows, _ := l.db.Query(ctx, query, args...)
	_, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[string])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lockpg.Locker: %w", lock.ErrAlreadyLocked)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// Two inserts raced for a missing key and this one lost.
			return fmt.Errorf("lockpg.Locker: %w", lock.ErrAlreadyLocked)
		}
		return fmt.Errorf("lockpg.Locker: %w", err)
	}

	return nil
}

func (l *Locker) Release(ctx context.Context, key string) error {
	query := `
		DELETE FROM locks
		WHERE key = $1
	`
	args := []any{key}

	_, err := l.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("lockpg.Locker: %w", err)
	}

	return nil
}
