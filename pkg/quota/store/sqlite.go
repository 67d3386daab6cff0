package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a local SQLite database.
//
// It suits single-host deployments where quota state should survive a
// restart. Several processes on the same host may share the database file;
// writes are serialized by SQLite's immediate transactions.
//
// Expiry times are stored as unix nanoseconds, 0 meaning no expiry. Expired
// rows are ignored by reads and removed by Sweep.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	now       func() time.Time
	closeOnce sync.Once

	incrStmt  *sql.Stmt
	getStmt   *sql.Stmt
	countStmt *sql.Stmt
	minStmt   *sql.Stmt
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string

	// BusyTimeout is how long to wait for a lock held by another process.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// Now overrides the clock used for expiry. Default: time.Now
	Now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:   db,
		path: cfg.Path,
		now:  cfg.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quota_counters (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS quota_windows (
		key TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS quota_window_entries (
		key TEXT NOT NULL,
		ts INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_window_entries_key_ts ON quota_window_entries(key, ts);
	CREATE INDEX IF NOT EXISTS idx_counters_expires ON quota_counters(expires_at);
	CREATE INDEX IF NOT EXISTS idx_windows_expires ON quota_windows(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	// An expired counter is replaced rather than incremented.
	s.incrStmt, err = s.db.Prepare(`
		INSERT INTO quota_counters (key, value, expires_at)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (key) DO UPDATE SET
			value = CASE WHEN expires_at > 0 AND expires_at <= ?4 THEN excluded.value ELSE value + excluded.value END,
			expires_at = CASE WHEN expires_at > 0 AND expires_at <= ?4 THEN excluded.expires_at ELSE expires_at END
		RETURNING value
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.getStmt, err = s.db.Prepare(`
		SELECT value FROM quota_counters
		WHERE key = ?1 AND (expires_at = 0 OR expires_at > ?2)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.countStmt, err = s.db.Prepare(`
		SELECT COUNT(*) FROM quota_window_entries e
		JOIN quota_windows w ON w.key = e.key
		WHERE e.key = ?1 AND (w.expires_at = 0 OR w.expires_at > ?2)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}

	s.minStmt, err = s.db.Prepare(`
		SELECT MIN(e.ts) FROM quota_window_entries e
		JOIN quota_windows w ON w.key = e.key
		WHERE e.key = ?1 AND (w.expires_at = 0 OR w.expires_at > ?2)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare min statement: %w", err)
	}

	return nil
}

func expiryNanos(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}

// IncrementCounter implements Store.
func (s *SQLiteStore) IncrementCounter(ctx context.Context, key string, delta int64, ttlIfNew time.Duration) (int64, error) {
	now := s.now()
	var value int64
	err := s.incrStmt.QueryRowContext(ctx, key, delta, expiryNanos(now, ttlIfNew), now.UnixNano()).Scan(&value)
	if err != nil {
		return 0, wrap("incr", key, err)
	}
	return value, nil
}

// GetCounter implements Store.
func (s *SQLiteStore) GetCounter(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.getStmt.QueryRowContext(ctx, key, s.now().UnixNano()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("get", key, err)
	}
	return value, nil
}

// DeleteKey implements Store.
func (s *SQLiteStore) DeleteKey(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("del", "", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		for _, q := range []string{
			`DELETE FROM quota_counters WHERE key = ?`,
			`DELETE FROM quota_windows WHERE key = ?`,
			`DELETE FROM quota_window_entries WHERE key = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, key); err != nil {
				return wrap("del", key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap("del", "", err)
	}
	return nil
}

// AddToWindow implements Store.
func (s *SQLiteStore) AddToWindow(ctx context.Context, key string, ts time.Time, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("zadd", key, err)
	}
	defer tx.Rollback()

	if err := s.addTx(ctx, tx, key, ts, s.now(), ttl); err != nil {
		return wrap("zadd", key, err)
	}

	if err := tx.Commit(); err != nil {
		return wrap("zadd", key, err)
	}
	return nil
}

// addTx inserts an entry, discarding the previous contents of an expired
// window first.
func (s *SQLiteStore) addTx(ctx context.Context, tx *sql.Tx, key string, ts, now time.Time, ttl time.Duration) error {
	if err := s.dropExpiredTx(ctx, tx, key, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_window_entries (key, ts) VALUES (?, ?)`, key, ts.UnixNano()); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO quota_windows (key, expires_at) VALUES (?1, ?2)
		ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at
	`, key, expiryNanos(now, ttl))
	return err
}

func (s *SQLiteStore) dropExpiredTx(ctx context.Context, tx *sql.Tx, key string, now time.Time) error {
	var expiresAt int64
	err := tx.QueryRowContext(ctx, `SELECT expires_at FROM quota_windows WHERE key = ?`, key).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Orphaned entries can only come from a window that was never
		// registered; clear them so they are not resurrected.
		_, err = tx.ExecContext(ctx, `DELETE FROM quota_window_entries WHERE key = ?`, key)
		return err
	}
	if err != nil {
		return err
	}
	if expiresAt > 0 && expiresAt <= now.UnixNano() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM quota_window_entries WHERE key = ?`, key); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM quota_windows WHERE key = ?`, key)
		return err
	}
	return nil
}

// PruneWindow implements Store.
func (s *SQLiteStore) PruneWindow(ctx context.Context, key string, olderThan time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM quota_window_entries WHERE key = ? AND ts < ?`, key, olderThan.UnixNano())
	return wrap("zremrangebyscore", key, err)
}

// CountWindow implements Store.
func (s *SQLiteStore) CountWindow(ctx context.Context, key string) (int64, error) {
	var count int64
	if err := s.countStmt.QueryRowContext(ctx, key, s.now().UnixNano()).Scan(&count); err != nil {
		return 0, wrap("zcard", key, err)
	}
	return count, nil
}

// OldestInWindow implements Store.
func (s *SQLiteStore) OldestInWindow(ctx context.Context, key string) (time.Time, bool, error) {
	var oldest sql.NullInt64
	if err := s.minStmt.QueryRowContext(ctx, key, s.now().UnixNano()).Scan(&oldest); err != nil {
		return time.Time{}, false, wrap("zrange", key, err)
	}
	if !oldest.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, oldest.Int64), true, nil
}

// RecordIfBelow implements WindowRecorder.
func (s *SQLiteStore) RecordIfBelow(ctx context.Context, key string, now time.Time, window time.Duration, limit int64, ttl time.Duration) (WindowState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WindowState{}, wrap("record", key, err)
	}
	defer tx.Rollback()

	clock := s.now()
	if err := s.dropExpiredTx(ctx, tx, key, clock); err != nil {
		return WindowState{}, wrap("record", key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quota_window_entries WHERE key = ? AND ts <= ?`, key, now.Add(-window).UnixNano()); err != nil {
		return WindowState{}, wrap("record", key, err)
	}

	var (
		state  WindowState
		oldest sql.NullInt64
	)
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(ts) FROM quota_window_entries WHERE key = ?`, key).Scan(&state.Count, &oldest); err != nil {
		return WindowState{}, wrap("record", key, err)
	}
	if oldest.Valid {
		state.Oldest = time.Unix(0, oldest.Int64)
	}

	if state.Count < limit {
		if err := s.addTx(ctx, tx, key, now, clock, ttl); err != nil {
			return WindowState{}, wrap("record", key, err)
		}
		state.Admitted = true
		if state.Oldest.IsZero() {
			state.Oldest = now
		}
	}

	if err := tx.Commit(); err != nil {
		return WindowState{}, wrap("record", key, err)
	}
	return state, nil
}

// Keys implements Store using the SQLite GLOB operator.
func (s *SQLiteStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	now := s.now().UnixNano()
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM quota_counters WHERE key GLOB ?1 AND (expires_at = 0 OR expires_at > ?2)
		UNION
		SELECT key FROM quota_windows WHERE key GLOB ?1 AND (expires_at = 0 OR expires_at > ?2)
		ORDER BY key
	`, pattern, now)
	if err != nil {
		return nil, wrap("keys", pattern, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, wrap("keys", pattern, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("keys", pattern, err)
	}
	return keys, nil
}

// Sweep implements Sweeper.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	now := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("sweep", "", err)
	}
	defer tx.Rollback()

	var removed int64
	for _, q := range []string{
		`DELETE FROM quota_counters WHERE expires_at > 0 AND expires_at <= ?1`,
		`DELETE FROM quota_window_entries WHERE key IN (SELECT key FROM quota_windows WHERE expires_at > 0 AND expires_at <= ?1)`,
		`DELETE FROM quota_windows WHERE expires_at > 0 AND expires_at <= ?1`,
	} {
		res, err := tx.ExecContext(ctx, q, now)
		if err != nil {
			return 0, wrap("sweep", "", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, wrap("sweep", "", err)
	}
	return removed, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return wrap("ping", "", s.db.PingContext(ctx))
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{s.incrStmt, s.getStmt, s.countStmt, s.minStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		// Fold the WAL back into the main database file before closing.
		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		err = s.db.Close()
	})
	return err
}
