// Package migrate applies embedded SQL migration files to a SQL ledger
// backend. Each backend supplies a [Recorder] that knows its dialect; the
// ordering and bookkeeping live here.
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
)

// Migration is one SQL file to apply.
type Migration struct {
	Name string
	SQL  string
}

// Recorder tracks and applies migrations against one database.
type Recorder interface {
	// Init creates the tracking table if it does not exist.
	Init(ctx context.Context) error
	// Applied reports whether the named migration was already applied.
	Applied(ctx context.Context, name string) (bool, error)
	// Apply executes m and records it, atomically where the database
	// allows.
	Apply(ctx context.Context, m Migration) error
}

// Load reads every *.sql file in dir, ordered by filename.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Name: entry.Name(), SQL: string(data)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Run applies the migrations in dir that r has not seen yet, in filename
// order, and returns how many it applied. It stops at the first failure.
func Run(ctx context.Context, fsys fs.FS, dir string, r Recorder, logger *slog.Logger) (int, error) {
	migrations, err := Load(fsys, dir)
	if err != nil {
		return 0, err
	}
	if err := r.Init(ctx); err != nil {
		return 0, fmt.Errorf("create migrations table: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		done, err := r.Applied(ctx, m.Name)
		if err != nil {
			return applied, fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if done {
			continue
		}
		if err := r.Apply(ctx, m); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		applied++
		if logger != nil {
			logger.Info("applied migration", "file", m.Name)
		}
	}
	return applied, nil
}
