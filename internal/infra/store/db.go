// Package store provides the transactional persistence layer for the engine.
// SQLite (pure Go, WAL mode) is the default; Postgres is supported through
// pgx's database/sql driver. Both share the same SQL: every reward write is
// an INSERT ... ON CONFLICT DO NOTHING on a unique key.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres database/sql driver ("pgx")
	_ "modernc.org/sqlite"             // Pure-Go SQLite driver (no CGO required)

	"github.com/ascend-academy/ascend/internal/domain"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and configures the backing database.
type Options struct {
	Driver string // "sqlite" (default) or "postgres"
	Dir    string // SQLite: directory holding state.db
	DSN    string // Postgres: connection string

	MaxOpenConns int // Postgres only; SQLite is single-writer
}

// DB wraps a database/sql handle with the engine's schema.
type DB struct {
	*repo
	db *sql.DB
}

var _ domain.Store = (*DB)(nil)

// Open opens the configured database and runs migrations.
func Open(ctx context.Context, opts Options) (*DB, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return OpenSQLite(ctx, opts.Dir)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DSN, opts.MaxOpenConns)
	default:
		return nil, &domain.ConfigError{Field: "store.driver", Reason: fmt.Sprintf("unsupported driver %q", opts.Driver)}
	}
}

// OpenSQLite creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and a 5-second busy timeout.
func OpenSQLite(ctx context.Context, dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite is single-writer: one connection serializes every transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return finishOpen(ctx, db, sqliteDialect)
}

// OpenPostgres connects to Postgres through pgx.
func OpenPostgres(ctx context.Context, dsn string, maxOpen int) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, &domain.ConfigError{Field: "store.dsn", Reason: "required for postgres"}
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return finishOpen(ctx, db, postgresDialect)
}

func finishOpen(ctx context.Context, db *sql.DB, d dialect) (*DB, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, mapError(err))
	}

	out := &DB{repo: &repo{q: db, d: d}, db: db}
	if err := out.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return out, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return mapError(d.db.PingContext(ctx))
}

// Driver returns the dialect name ("sqlite" or "postgres").
func (d *DB) Driver() string {
	return d.d.name
}

// InTx runs fn inside a single transaction, committing on nil error.
func (d *DB) InTx(ctx context.Context, fn func(tx domain.Repository) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", mapError(err))
	}

	if err := fn(&repo{q: tx, d: d.d}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapError(err))
	}
	return nil
}

// migrate runs idempotent schema migrations.
// The DDL is valid for both SQLite and Postgres.
func (d *DB) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS user_progress (
			user_id           TEXT PRIMARY KEY,
			xp                BIGINT NOT NULL DEFAULT 0,
			coins             BIGINT NOT NULL DEFAULT 0,
			level             INTEGER NOT NULL DEFAULT 1,
			xp_for_next_level BIGINT NOT NULL DEFAULT 0,
			max_level         BOOLEAN NOT NULL DEFAULT FALSE,
			activity_streak   INTEGER NOT NULL DEFAULT 0,
			longest_streak    INTEGER NOT NULL DEFAULT 0,
			last_active_day   TEXT NOT NULL DEFAULT '',
			updated_at        BIGINT NOT NULL
		)`,

		// One row per (user, kind, activity): the idempotency key.
		`CREATE TABLE IF NOT EXISTS activity_credits (
			user_id          TEXT NOT NULL,
			kind             TEXT NOT NULL,
			activity_id      TEXT NOT NULL,
			percent_complete DOUBLE PRECISION NOT NULL DEFAULT 0,
			seconds_watched  BIGINT NOT NULL DEFAULT 0,
			rewarded         BOOLEAN NOT NULL DEFAULT FALSE,
			xp               BIGINT NOT NULL DEFAULT 0,
			coins            BIGINT NOT NULL DEFAULT 0,
			credited_at      BIGINT,
			updated_at       BIGINT NOT NULL,
			PRIMARY KEY (user_id, kind, activity_id)
		)`,

		`CREATE TABLE IF NOT EXISTS habits (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			name             TEXT NOT NULL,
			cadence_days     INTEGER NOT NULL,
			current_streak   INTEGER NOT NULL DEFAULT 0,
			longest_streak   INTEGER NOT NULL DEFAULT 0,
			last_credited_at BIGINT, -- unix milliseconds
			created_at       BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_habits_user ON habits(user_id)`,

		// A day can appear at most once per habit.
		`CREATE TABLE IF NOT EXISTS habit_days (
			habit_id TEXT NOT NULL,
			day      TEXT NOT NULL,
			PRIMARY KEY (habit_id, day)
		)`,

		`CREATE TABLE IF NOT EXISTS achievement_unlocks (
			user_id        TEXT NOT NULL,
			achievement_id TEXT NOT NULL,
			unlocked_at    BIGINT NOT NULL,
			PRIMARY KEY (user_id, achievement_id)
		)`,

		`CREATE TABLE IF NOT EXISTS referrals (
			user_id     TEXT PRIMARY KEY,
			referrer_id TEXT NOT NULL,
			created_at  BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id)`,

		`CREATE TABLE IF NOT EXISTS commission_rules (
			event_type TEXT PRIMARY KEY,
			flat_cents BIGINT NOT NULL DEFAULT 0,
			percent_bp BIGINT NOT NULL DEFAULT 0,
			active     BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		// At most one payout per (transaction, tier).
		`CREATE TABLE IF NOT EXISTS commission_payouts (
			id                    TEXT PRIMARY KEY,
			source_transaction_id TEXT NOT NULL,
			event_type            TEXT NOT NULL,
			tier                  INTEGER NOT NULL,
			beneficiary_id        TEXT NOT NULL,
			amount_cents          BIGINT NOT NULL,
			status                TEXT NOT NULL,
			created_at            BIGINT NOT NULL,
			settled_at            BIGINT,
			UNIQUE (source_transaction_id, tier)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_status ON commission_payouts(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_payouts_beneficiary ON commission_payouts(beneficiary_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", mapError(err), m)
		}
	}
	return nil
}

// ─── Dialect ────────────────────────────────────────────────────────────────

type dialect struct {
	name      string
	dollar    bool   // Postgres uses $1, $2 placeholders
	forUpdate string // row lock suffix, empty where unsupported
}

var (
	sqliteDialect   = dialect{name: DriverSQLite}
	postgresDialect = dialect{name: DriverPostgres, dollar: true, forUpdate: " FOR UPDATE"}
)

// rebind rewrites ? placeholders for dialects that number them.
// Queries in this package never contain a literal '?'.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ─── Query Plumbing ─────────────────────────────────────────────────────────

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements domain.Repository over a querier.
type repo struct {
	q querier
	d dialect
}

var _ domain.Repository = (*repo)(nil)

func (r *repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := r.q.ExecContext(ctx, r.d.rebind(query), args...)
	return res, mapError(err)
}

func (r *repo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	return rows, mapError(err)
}

func (r *repo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.d.rebind(query), args...)
}

// inserted interprets the result of an insert-if-absent. A unique-key
// conflict surfaced as an error (rather than swallowed by ON CONFLICT)
// means another caller won the race: not applied, not an error.
func inserted(res sql.Result, err error) (bool, error) {
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err)
	}
	return n > 0, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullableUnix(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0).UTC()
}

// nullableUnixMilli keeps the precision cooldown comparisons need.
func nullableUnixMilli(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullableUnixMilli(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.UnixMilli(n.Int64).UTC()
}
