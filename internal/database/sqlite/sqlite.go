// Package sqlite implements the config and event stores on an embedded SQLite
// database, for single-host deployments that do not run PostgreSQL.
package sqlite

import (
	"context"
	"fmt"

	"github.com/robalyx/jointracker/internal/database"
	"github.com/robalyx/jointracker/internal/database/dbretry"
	"github.com/robalyx/jointracker/internal/setup/config"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// schemaVersion is stored in PRAGMA user_version once the schema is applied.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS guild_configs (
	guild_id          INTEGER PRIMARY KEY,
	report_channel_id INTEGER,
	report_time       TEXT    NOT NULL,
	timezone          TEXT    NOT NULL,
	enabled           INTEGER NOT NULL,
	notify_endpoint   TEXT,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_stats (
	guild_id      INTEGER NOT NULL,
	date          TEXT    NOT NULL,
	joins         INTEGER NOT NULL DEFAULT 0,
	leaves        INTEGER NOT NULL DEFAULT 0,
	total_members INTEGER,
	PRIMARY KEY (guild_id, date)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS member_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id   INTEGER NOT NULL,
	user_id    INTEGER NOT NULL,
	username   TEXT    NOT NULL,
	event_type TEXT    NOT NULL CHECK (event_type IN ('join', 'leave')),
	timestamp  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_member_events_guild_time
ON member_events (guild_id, timestamp DESC, id DESC);
`

var _ database.Client = (*Store)(nil)

// Store is the SQLite backed storage client.
type Store struct {
	pool   *sqlitex.Pool
	logger *zap.Logger
	config *ConfigStore
	events *EventStore
}

// Open opens or creates the database file and applies the schema.
func Open(ctx context.Context, cfg *config.SQLite, logger *zap.Logger) (*Store, error) {
	busyTimeout := cfg.BusyTimeout

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: cfg.PoolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, fmt.Sprintf(
				"PRAGMA busy_timeout = %d; PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;",
				busyTimeout,
			), nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	s := &Store{
		pool:   pool,
		logger: logger.Named("sqlite"),
	}
	s.config = &ConfigStore{store: s}
	s.events = &EventStore{store: s}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info("SQLite database opened", zap.String("path", cfg.Path))

	return s, nil
}

// migrate applies the schema if the database has not seen it yet.
func (s *Store) migrate(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		version, err := sqlitex.ResultInt(conn.Prep("PRAGMA user_version;"))
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		if version >= schemaVersion {
			return nil
		}

		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("failed to begin schema transaction: %w", err)
		}
		defer endFn(&err)

		if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}

		if err := sqlitex.ExecuteTransient(conn, fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion), nil); err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		s.logger.Info("Applied SQLite schema", zap.Int("version", schemaVersion))

		return nil
	})
}

// Config returns the guild config store.
func (s *Store) Config() database.ConfigStore {
	return s.config
}

// Events returns the member event store.
func (s *Store) Events() database.EventStore {
	return s.events
}

// Close closes every pooled connection.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("Failed to close SQLite database", zap.Error(err))
		return err
	}

	s.logger.Info("SQLite database closed")

	return nil
}

// withConn borrows a pooled connection for the duration of fn.
func (s *Store) withConn(ctx context.Context, fn func(*sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take SQLite connection: %w", err)
	}
	defer s.pool.Put(conn)

	return fn(conn)
}

// query runs fn on a pooled connection, retrying on lock contention.
func query[T any](ctx context.Context, s *Store, fn func(*sqlite.Conn) (T, error)) (T, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (T, error) {
		var result T

		err := s.withConn(ctx, func(conn *sqlite.Conn) error {
			var err error

			result, err = fn(conn)

			return err
		})

		return result, err
	})
}

// transaction runs fn inside an IMMEDIATE transaction so concurrent writers
// queue on the database lock instead of failing midway.
func transaction[T any](ctx context.Context, s *Store, fn func(*sqlite.Conn) (T, error)) (T, error) {
	return query(ctx, s, func(conn *sqlite.Conn) (result T, err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return result, err
		}
		defer endFn(&err)

		return fn(conn)
	})
}
