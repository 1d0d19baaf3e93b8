package delegatorpg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/v0gel/mason/internal/delegator"
)

var _ delegator.Inbox = (*Inbox)(nil)

// channelName is the pg_notify channel the registry signals on insert.
const channelName = "mason_commands"

// pollInterval bounds how long a missed notification can delay a command.
const pollInterval = 15 * time.Second

// Inbox implements delegator.Inbox on a Postgres table with LISTEN/NOTIFY
// and a poll fallback. Next deletes the oldest command in the same statement
// that reads it, so a record is observed at most once even with several
// delegators running.
type Inbox struct {
	db *pgxpool.Pool // required
}

func New(db *pgxpool.Pool) *Inbox {
	return &Inbox{db: db}
}

func (i *Inbox) Next(ctx context.Context) (*delegator.Command, error) {
	conn, err := i.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("delegatorpg.Inbox: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, "LISTEN "+channelName)
	if err != nil {
		return nil, fmt.Errorf("delegatorpg.Inbox: %w", err)
	}

	for {
		cmd, err := i.take(ctx)
		if err != nil {
			return nil, fmt.Errorf("delegatorpg.Inbox: %w", err)
		}
		if cmd != nil {
			return cmd, nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, pollInterval)
		_, err = conn.Conn().WaitForNotification(waitCtx)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("delegatorpg.Inbox: %w", err)
		}
	}
}

// take removes and returns the oldest command, or nil when the inbox is
// empty.
func (i *Inbox) take(ctx context.Context) (*delegator.Command, error) {
	query := `
		DELETE FROM commands
		WHERE id = (
			SELECT id FROM commands
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, site_name, user_id, branch, content_type, item_key, build_time, created_at
	`

	rows, _ := i.db.Query(ctx, query)
	cmd, err := pgx.CollectExactlyOneRow(rows, rowToCommand)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return cmd, nil
}

func rowToCommand(collectable pgx.CollectableRow) (*delegator.Command, error) {
	type row struct {
		ID          uuid.UUID  `db:"id"`
		Kind        string     `db:"kind"`
		SiteName    string     `db:"site_name"`
		UserID      uuid.UUID  `db:"user_id"`
		Branch      *string    `db:"branch"`
		ContentType *string    `db:"content_type"`
		ItemKey     *string    `db:"item_key"`
		BuildTime   *time.Time `db:"build_time"`
		CreatedAt   time.Time  `db:"created_at"`
	}

	collected, err := pgx.RowToStructByName[row](collectable)
	if err != nil {
		return nil, err
	}

	cmd := &delegator.Command{
		ID:        collected.ID,
		Kind:      collected.Kind,
		SiteName:  collected.SiteName,
		UserID:    collected.UserID,
		CreatedAt: collected.CreatedAt,
	}
	if collected.Branch != nil {
		cmd.Branch = *collected.Branch
	}
	if collected.ContentType != nil {
		cmd.ContentType = *collected.ContentType
	}
	if collected.ItemKey != nil {
		cmd.ItemKey = *collected.ItemKey
	}
	if collected.BuildTime != nil {
		cmd.BuildAt = *collected.BuildTime
	}
	return cmd, nil
}
