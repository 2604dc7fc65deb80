// Package sqlite provides the on-device relational store backing the
// sync engine: domain records with per-record change tracking, a single
// logical writer, and after-commit change notifications.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	stdSync "sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-ledger-sync/errors"
	"github.com/c0deZ3R0/go-ledger-sync/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for better error handling
var (
	ErrStoreClosed    = errors.New("store is closed")
	ErrRecordNotFound = errors.New("record not found")
	ErrUnknownTable   = errors.New("unknown table")
)

// Persisted sync-state keys. A missing key means "never run".
const (
	StateLastPulledAt         = "last_pulled_at"
	StateLastPushAt           = "last_push_at"
	StateLastBackgroundRunAt  = "last_background_run_at"
	StateLastReconcileCheckAt = "last_reconcile_check_at"
)

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including
// WAL mode and a small connection pool sized for on-device use.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:ledger.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Logger is an optional logger. If nil, the package default is used.
	Logger *logging.Logger

	// Connection pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with production defaults for path.
func DefaultConfig(path string) Config {
	return Config{
		DataSourceName:  fmt.Sprintf("file:%s?_foreign_keys=on", path),
		EnableWAL:       true,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = logging.Default().WithComponent("store")
	}
}

// Store is the on-device store holding every domain record. All
// mutations run through Write, which serializes writers and emits an
// after-commit notification carrying the set of changed tables.
type Store struct {
	db     *sql.DB
	logger *logging.Logger

	// writeMu is the single logical writer queue. The orchestration
	// lock above this prevents semantically overlapping sync cycles;
	// this one prevents interleaved storage transactions.
	writeMu stdSync.Mutex

	mu        stdSync.RWMutex
	closed    bool
	observers map[int]func(tables []string)
	nextObs   int

	now func() time.Time
}

// New opens the database at cfg.DataSourceName and applies migrations.
func New(cfg Config) (*Store, error) {
	cfg.setDefaults()

	dsn := cfg.DataSourceName
	if cfg.EnableWAL {
		sep := "?"
		for _, r := range dsn {
			if r == '?' {
				sep = "&"
				break
			}
		}
		dsn += sep + "_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpStore, fmt.Errorf("open database: %w", err))
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, syncErrors.NewStorageError(syncErrors.OpStore, fmt.Errorf("ping database: %w", err))
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, syncErrors.NewStorageError(syncErrors.OpStore, err)
	}

	return &Store{
		db:        db,
		logger:    cfg.Logger,
		observers: make(map[int]func(tables []string)),
		now:       time.Now,
	}, nil
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncErrors.NewStorageError(syncErrors.OpStore, ErrStoreClosed)
	}
	return nil
}

// Tx is one atomic write scope. Mutations record the tables they touch;
// the set is delivered to observers after the transaction commits.
type Tx struct {
	tx      *sql.Tx
	store   *Store
	changed map[string]struct{}
}

func (t *Tx) touch(table string) {
	t.changed[table] = struct{}{}
}

// Write runs fn inside a single serialized transaction. Observers are
// notified after commit, never for rolled-back work.
func (s *Store) Write(ctx context.Context, fn func(tx *Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, fmt.Errorf("begin transaction: %w", err))
	}

	tx := &Tx{tx: sqlTx, store: s, changed: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, fmt.Errorf("commit transaction: %w", err))
	}

	if len(tx.changed) > 0 {
		tables := make([]string, 0, len(tx.changed))
		for t := range tx.changed {
			tables = append(tables, t)
		}
		s.notifyObservers(tables)
	}
	return nil
}

// Observe registers fn to receive the changed-table set after every
// committed write. The returned function unsubscribes.
func (s *Store) Observe(fn func(tables []string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) notifyObservers(tables []string) {
	s.mu.RLock()
	observers := make([]func([]string), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range observers {
		go func(f func([]string)) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("observer panicked", "panic", r)
				}
			}()
			f(tables)
		}(fn)
	}
}

// GetState reads one persisted sync-state value. ok is false when the
// key has never been written.
func (s *Store) GetState(ctx context.Context, key string) (value string, ok bool, err error) {
	if err := s.checkOpen(); err != nil {
		return "", false, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return value, true, nil
}

// SetState writes one persisted sync-state value.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// GetStateTime reads a persisted timestamp (unix milliseconds).
func (s *Store) GetStateTime(ctx context.Context, key string) (time.Time, bool, error) {
	raw, ok, err := s.GetState(ctx, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, syncErrors.NewStorageError(syncErrors.OpLoad,
			fmt.Errorf("malformed state value for %s: %w", key, err))
	}
	return time.UnixMilli(millis), true, nil
}

// SetStateTime writes a persisted timestamp (unix milliseconds).
func (s *Store) SetStateTime(ctx context.Context, key string, t time.Time) error {
	return s.SetState(ctx, key, strconv.FormatInt(t.UnixMilli(), 10))
}

// GetStateInt64 reads a persisted integer, 0/false when never written.
func (s *Store) GetStateInt64(ctx context.Context, key string) (int64, bool, error) {
	raw, ok, err := s.GetState(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, syncErrors.NewStorageError(syncErrors.OpLoad,
			fmt.Errorf("malformed state value for %s: %w", key, err))
	}
	return v, true, nil
}

// SetStateInt64 writes a persisted integer.
func (s *Store) SetStateInt64(ctx context.Context, key string, v int64) error {
	return s.SetState(ctx, key, strconv.FormatInt(v, 10))
}
