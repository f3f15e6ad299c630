package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/metaform/metaform-management/pkg/ports"
)

type migration struct {
	name string
	stmt func(Dialect) string
}

var migrations = []migration{
	{name: "00_socket_data", stmt: func(d Dialect) string { return d.createTable }},
}

// Migrate applies pending migrations.
//
// When a locker is given, only the process that takes the lock runs them; every other
// process waits for the lock to be released and then proceeds without migrating.
// It returns the names of the migrations this process applied.
func (s *Store) Migrate(ctx context.Context, locker ports.MigrationLocker) ([]string, error) {
	if locker == nil {
		return s.applyPending(ctx)
	}

	unlock, ok, err := locker.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain migration lock: %w", err)
	}
	if !ok {
		if err := locker.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed waiting for migration lock: %w", err)
		}
		return []string{}, nil
	}

	applied, err := s.applyPending(ctx)
	if uerr := unlock(ctx); uerr != nil {
		err = errors.Join(err, fmt.Errorf("failed to release migration lock: %w", uerr))
	}
	return applied, err
}

func (s *Store) applyPending(ctx context.Context) ([]string, error) {
	if _, err := s.db.ExecContext(ctx, s.dialect.migrations); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := []string{}
	for _, m := range migrations {
		var name string
		err := s.db.QueryRowContext(ctx, `SELECT name FROM schema_migrations WHERE name = ?`, m.name).Scan(&name)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return applied, fmt.Errorf("failed to check migration %s: %w", m.name, err)
		}

		if _, err := s.db.ExecContext(ctx, m.stmt(s.dialect)); err != nil {
			return applied, fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, m.name, s.now()); err != nil {
			return applied, fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
		applied = append(applied, m.name)
	}
	return applied, nil
}
