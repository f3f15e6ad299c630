package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metaform/metaform-management/internal/logging"
	"github.com/metaform/metaform-management/pkg/domain"
)

// Store implements ports.SocketStore on a relational table
// (socket_id primary key, serialized state).
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger reports rows skipped while listing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to the database and verifies the connection.
// The table is not created here; call Migrate first.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect.Name == SQLite.Name {
		// sqlite allows a single writer; one connection avoids SQLITE_BUSY under load.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetConnMaxIdleTime(10 * time.Second)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to reach database: %w", domain.ErrStoreUnavailable, err)
	}

	return New(db, dialect, opts...), nil
}

// New wraps an already opened database handle.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set upserts the state row.
func (s *Store) Set(ctx context.Context, socketID string, state *domain.PresenceState) error {
	data, err := json.Marshal(state.Clone())
	if err != nil {
		return fmt.Errorf("failed to marshal presence state: %w", err)
	}

	now := s.now()
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, socketID, string(data), now, now); err != nil {
		return fmt.Errorf("%w: failed to upsert socket data: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Get loads the state row.
func (s *Store) Get(ctx context.Context, socketID string) (*domain.PresenceState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM socket_data WHERE socket_id = ?`, socketID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("%w: failed to find socket data: %w", domain.ErrStoreUnavailable, err)
	}
	return decode(data)
}

// Remove deletes the state row, if any.
func (s *Store) Remove(ctx context.Context, socketID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM socket_data WHERE socket_id = ?`, socketID); err != nil {
		return fmt.Errorf("%w: failed to delete socket data: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// List returns every row. Rows that cannot be decoded are skipped.
func (s *Store) List(ctx context.Context) ([]domain.SocketEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT socket_id, data FROM socket_data`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list socket data: %w", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	entries := []domain.SocketEntry{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("%w: failed to scan socket data: %w", domain.ErrStoreUnavailable, err)
		}
		state, err := decode(data)
		if err != nil {
			s.logger.Warn("Skipping unreadable socket state", "socket_id", id, "err", err)
			continue
		}
		entries = append(entries, domain.SocketEntry{SocketID: id, State: state})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate socket data: %w", domain.ErrStoreUnavailable, err)
	}
	return entries, nil
}

func decode(data string) (*domain.PresenceState, error) {
	var state domain.PresenceState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptState, err)
	}
	if state.OpenReplies == nil {
		state.OpenReplies = []string{}
	}
	return &state, nil
}
