package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/workpool/store/internal/migrate"
)

// pgRecorder tracks applied migrations in workpool_migrations.
type pgRecorder struct {
	pool *pgxpool.Pool
}

func (r pgRecorder) Init(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workpool_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (r pgRecorder) Applied(ctx context.Context, name string) (bool, error) {
	var applied bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM workpool_migrations WHERE filename = $1)`, name,
	).Scan(&applied)
	return applied, err
}

// Apply runs the file and its bookkeeping row in one transaction, so a
// failed migration leaves no partial schema behind.
func (r pgRecorder) Apply(ctx context.Context, m migrate.Migration) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO workpool_migrations (filename) VALUES ($1)`, m.Name)
		return err
	})
}
