package registrypg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/v0gel/mason/internal/registry"
)

var _ registry.Registry = (*Registry)(nil)

type Registry struct {
	db *pgxpool.Pool // required
}

func New(db *pgxpool.Pool) *Registry {
	return &Registry{db: db}
}

func (r *Registry) GetSite(ctx context.Context, name string) (*registry.Site, error) {
	query := `
		SELECT name, key, version, owners, users, created_at
		FROM sites
		WHERE name = $1
	`
	args := []any{name}

	rows, _ := r.db.Query(ctx, query, args...)
	s, err := pgx.CollectExactlyOneRow(rows, rowToSite)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("registrypg.Registry: %w", registry.ErrNotFound)
		}
		return nil, fmt.Errorf("registrypg.Registry: %w", err)
	}

	return s, nil
}

func (r *Registry) GetDeploys(ctx context.Context, name string) ([]registry.Deploy, error) {
	query := `
		SELECT branch, bucket, mask_domain
		FROM site_deploys
		WHERE site_name = $1
		ORDER BY branch
	`
	args := []any{name}

	rows, _ := r.db.Query(ctx, query, args...)
	deploys, err := pgx.CollectRows(rows, rowToDeploy)
	if err != nil {
		return nil, fmt.Errorf("registrypg.Registry: %w", err)
	}

	return deploys, nil
}

func (r *Registry) ReportStatus(ctx context.Context, name, message string, code int, tag string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	insert := `
		INSERT INTO site_messages (id, site_name, message, code, tag, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`
	_, err = tx.Exec(ctx, insert, uuid.New(), name, message, code, tag)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}

	trim := `
		DELETE FROM site_messages
		WHERE site_name = $1
		AND id NOT IN (
			SELECT id FROM site_messages
			WHERE site_name = $1
			ORDER BY created_at DESC, id
			LIMIT $2
		)
	`
	_, err = tx.Exec(ctx, trim, name, registry.MessageHistoryLimit)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}

	return nil
}

func (r *Registry) GetMessages(ctx context.Context, name string) ([]registry.Message, error) {
	query := `
		SELECT id, site_name, message, code, tag, created_at
		FROM site_messages
		WHERE site_name = $1
		ORDER BY created_at DESC, id
	`
	args := []any{name}

	rows, _ := r.db.Query(ctx, query, args...)
	messages, err := pgx.CollectRows(rows, rowToMessage)
	if err != nil {
		return nil, fmt.Errorf("registrypg.Registry: %w", err)
	}

	return messages, nil
}

// SignalBuild writes a build command into the delegator inbox and notifies
// listeners.
func (r *Registry) SignalBuild(ctx context.Context, name string, userID uuid.UUID, branch string, buildAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var buildTime *time.Time
	if !buildAt.IsZero() {
		buildTime = &buildAt
	}

	insert := `
		INSERT INTO commands (id, kind, site_name, user_id, branch, build_time, created_at)
		VALUES ($1, 'build', $2, $3, $4, $5, now())
	`
	_, err = tx.Exec(ctx, insert, uuid.New(), name, userID, branch, buildTime)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}

	_, err = tx.Exec(ctx, `SELECT pg_notify('mason_commands', $1)`, name)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}

	return nil
}

// SignalPreview writes a preview build command into the delegator inbox and
// notifies listeners.
func (r *Registry) SignalPreview(ctx context.Context, name string, userID uuid.UUID, contentType, itemKey string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	insert := `
		INSERT INTO commands (id, kind, site_name, user_id, content_type, item_key, created_at)
		VALUES ($1, 'preview_build', $2, $3, $4, $5, now())
	`
	_, err = tx.Exec(ctx, insert, uuid.New(), name, userID, contentType, itemKey)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}

	_, err = tx.Exec(ctx, `SELECT pg_notify('mason_commands', $1)`, name)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("registrypg.Registry: %w", err)
	}

	return nil
}

func rowToSite(collectable pgx.CollectableRow) (*registry.Site, error) {
	type row struct {
		Name      string      `db:"name"`
		Key       uuid.UUID   `db:"key"`
		Version   string      `db:"version"`
		Owners    []uuid.UUID `db:"owners"`
		Users     []uuid.UUID `db:"users"`
		CreatedAt time.Time   `db:"created_at"`
	}

	collected, err := pgx.RowToStructByName[row](collectable)
	if err != nil {
		return nil, err
	}

	return &registry.Site{
		Name:      collected.Name,
		Key:       collected.Key,
		Version:   collected.Version,
		Owners:    collected.Owners,
		Users:     collected.Users,
		CreatedAt: collected.CreatedAt,
	}, nil
}

func rowToDeploy(collectable pgx.CollectableRow) (registry.Deploy, error) {
	type row struct {
		Branch     string  `db:"branch"`
		Bucket     string  `db:"bucket"`
		MaskDomain *string `db:"mask_domain"`
	}

	collected, err := pgx.RowToStructByName[row](collectable)
	if err != nil {
		return registry.Deploy{}, err
	}

	d := registry.Deploy{Branch: collected.Branch, Bucket: collected.Bucket}
	if collected.MaskDomain != nil {
		d.MaskDomain = *collected.MaskDomain
	}
	return d, nil
}

func rowToMessage(collectable pgx.CollectableRow) (registry.Message, error) {
	type row struct {
		ID        uuid.UUID `db:"id"`
		SiteName  string    `db:"site_name"`
		Message   string    `db:"message"`
		Code      int       `db:"code"`
		Tag       string    `db:"tag"`
		CreatedAt time.Time `db:"created_at"`
	}

	collected, err := pgx.RowToStructByName[row](collectable)
	if err != nil {
		return registry.Message{}, err
	}

	return registry.Message{
		ID:        collected.ID,
		SiteName:  collected.SiteName,
		Message:   collected.Message,
		Code:      collected.Code,
		Tag:       collected.Tag,
		CreatedAt: collected.CreatedAt,
	}, nil
}
