package sqlite

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/xraph/workpool/store/internal/migrate"
)

// bunRecorder tracks applied migrations in workpool_migrations.
type bunRecorder struct {
	db *bun.DB
}

func (r bunRecorder) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workpool_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (r bunRecorder) Applied(ctx context.Context, name string) (bool, error) {
	var applied bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM workpool_migrations WHERE filename = ?)`, name,
	).Scan(&applied)
	return applied, err
}

func (r bunRecorder) Apply(ctx context.Context, m migrate.Migration) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO workpool_migrations (filename) VALUES (?)`, m.Name)
		return err
	})
}
